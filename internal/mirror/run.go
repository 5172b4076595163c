package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/italolelis/modmirror/internal/content"
	"github.com/italolelis/modmirror/internal/logctx"
	"golang.org/x/sync/errgroup"
)

// Run stages every pending reference with at most MaxParallel transfers in flight
// and commits the completed ones. Only one Run executes at a time. A failed
// reference is dequeued and reported on OnTransferError; retrying means enqueueing
// it again. The returned error joins all per-reference failures.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	refs := o.queue.List()
	if len(refs) == 0 {
		return nil
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "processing queue", "pending", len(refs), "max_parallel", o.opts.MaxParallel)

	var (
		mu   sync.Mutex
		errs []error
	)

	// A plain group: one failing transfer must not cancel its siblings.
	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxParallel)

	for _, ref := range refs {
		g.Go(func() error {
			if err := o.process(ctx, ref); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	o.telemetry.RecordQueueDepth(o.queue.Len())

	return errors.Join(errs...)
}

func (o *Orchestrator) process(ctx context.Context, ref content.Reference) error {
	ctx = logctx.WithReference(ctx, ref.ID)
	logger := logctx.LoggerFromContext(ctx)

	res, err := o.stager.Stage(ctx, ref)

	switch {
	case err != nil:
		o.queue.RemoveIfSame(ref)
		o.emit(ctx, o.OnTransferError, Event{Reference: ref, Err: err})
		logger.ErrorContext(ctx, "failed to stage file", "destination", ref.Destination, "err", err)

		return fmt.Errorf("failed to stage %s: %w", ref.Destination, err)
	case res.Canceled:
		o.queue.RemoveIfSame(ref)

		return nil
	}

	o.treeMu.Lock()
	defer o.treeMu.Unlock()

	if cur, ok := o.queue.Lookup(ref.Destination); !ok || cur.ID != ref.ID {
		logger.InfoContext(ctx, "reference no longer queued, discarding staged file", "destination", ref.Destination)

		if err := o.fs.Remove(res.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WarnContext(ctx, "failed to discard staged file", "path", res.Path, "err", err)
		}

		return nil
	}

	o.queue.RemoveIfSame(ref)

	if err := o.commit(ctx, res.Path, ref.Destination); err != nil {
		o.emit(ctx, o.OnTransferError, Event{Reference: ref, Err: err})

		return err
	}

	if o.ledger != nil && ref.ItemID != "" {
		if err := o.ledger.TrackFile(ctx, ref.ItemID, ref.File, ref.Hash); err != nil {
			logger.WarnContext(ctx, "failed to track committed file", "item_id", ref.ItemID, "file", ref.File, "err", err)
		}
	}

	o.emit(ctx, o.OnTransferCommitted, Event{Reference: ref})

	return nil
}
