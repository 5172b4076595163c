package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/modmirror/internal/content"
	"github.com/italolelis/modmirror/internal/integrity"
	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/italolelis/modmirror/internal/transfer"
	"github.com/spf13/afero"
)

const (
	removalTracked       = "tracked"
	removalUnconditional = "unconditional"
	removalModified      = "modified"
)

// Remove deletes the installed files of item and of its resolvable dependencies.
// Pending transfers for those files are dequeued first, so removal wins over a
// concurrent install. The primary item's files are hash-verified when it carries a
// hash; dependencies are not unless Options.VerifyDependencies is set.
// Per-file failures do not stop the batch and are returned joined.
func (o *Orchestrator) Remove(ctx context.Context, item *content.Item) error {
	o.treeMu.Lock()
	defer o.treeMu.Unlock()

	return o.telemetry.InstrumentMirrorOperation(ctx, "remove", func(ctx context.Context) error {
		errs := []error{o.removeItem(ctx, item, true)}

		for _, id := range item.Packages {
			dep, ok := o.catalog.Lookup(id)
			if !ok {
				continue
			}

			errs = append(errs, o.removeItem(ctx, dep, o.opts.VerifyDependencies))
		}

		o.telemetry.RecordQueueDepth(o.queue.Len())

		return errors.Join(errs...)
	})
}

func (o *Orchestrator) removeItem(ctx context.Context, item *content.Item, verify bool) error {
	logger := logctx.LoggerFromContext(ctx).With("item_id", item.ID)

	if item.LocalFiles == nil {
		if err := o.hydrate(ctx, item); err != nil {
			return err
		}
	}

	// A pending install of a file that never landed on disk is cancelled too.
	o.dequeue(ctx, item.Destination(o.installRoot, item.File))

	var (
		errs      []error
		remaining []string
	)

	for _, name := range item.LocalFiles {
		dest := item.Destination(o.installRoot, name)

		o.dequeue(ctx, dest)

		exists, err := afero.Exists(o.fs, dest)
		if err != nil {
			errs = append(errs, &transfer.RemovalError{ItemID: item.ID, Path: dest, Err: err})
			remaining = append(remaining, name)

			continue
		}

		if !exists {
			logger.InfoContext(ctx, "file already absent", "path", dest)
			o.untrack(ctx, item.ID, name)

			continue
		}

		if err := o.removeFile(ctx, item, dest, verify); err != nil {
			errs = append(errs, &transfer.RemovalError{ItemID: item.ID, Path: dest, Err: err})
			remaining = append(remaining, name)

			continue
		}

		o.untrack(ctx, item.ID, name)
	}

	item.LocalFiles = remaining

	return errors.Join(errs...)
}

func (o *Orchestrator) removeFile(ctx context.Context, item *content.Item, dest string, verify bool) error {
	logger := logctx.LoggerFromContext(ctx).With("item_id", item.ID, "path", dest)

	switch {
	case !verify:
		return o.trackedRemove(ctx, dest)
	case !item.HasHash():
		logger.DebugContext(ctx, "no expected hash, deleting")

		return o.deleteFile(ctx, dest, removalUnconditional)
	}

	match, err := integrity.Matches(o.fs, dest, item.Hash)
	if err != nil {
		return fmt.Errorf("failed to verify: %w", err)
	}

	if match {
		logger.DebugContext(ctx, "hash matches, tracked removal")

		return o.trackedRemove(ctx, dest)
	}

	logger.InfoContext(ctx, "local file was modified, deleting")

	return o.deleteFile(ctx, dest, removalModified)
}

// trackedRemove dequeues any pending install for dest and deletes the file.
func (o *Orchestrator) trackedRemove(ctx context.Context, dest string) error {
	o.dequeue(ctx, dest)

	return o.deleteFile(ctx, dest, removalTracked)
}

func (o *Orchestrator) deleteFile(ctx context.Context, dest, mode string) error {
	if err := o.fs.Remove(dest); err != nil {
		o.telemetry.RecordRemoval(mode, "error")

		return err
	}

	o.telemetry.RecordRemoval(mode, "success")
	logctx.LoggerFromContext(ctx).InfoContext(ctx, "removed file", "path", dest, "mode", mode)

	return nil
}

// dequeue drops the pending transfer for dest, stops it if in flight and
// clears its staging leftovers.
func (o *Orchestrator) dequeue(ctx context.Context, dest string) {
	ref, ok := o.queue.Take(dest)
	if !ok {
		return
	}

	ref.Cancel()
	o.purgeStaged(ctx, ref)

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "dequeued pending transfer", "destination", dest, "reference_id", ref.ID)
}

func (o *Orchestrator) untrack(ctx context.Context, itemID, name string) {
	if o.ledger == nil {
		return
	}

	if err := o.ledger.UntrackFile(ctx, itemID, name); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to untrack file", "item_id", itemID, "file", name, "err", err)
	}
}
