// Package mirror drives installs and removals of catalog items against the local install tree.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/italolelis/modmirror/internal/cleanup"
	"github.com/italolelis/modmirror/internal/content"
	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/italolelis/modmirror/internal/queue"
	"github.com/italolelis/modmirror/internal/staging"
	"github.com/italolelis/modmirror/internal/storage"
	"github.com/italolelis/modmirror/internal/telemetry"
	"github.com/italolelis/modmirror/internal/transfer"
	"github.com/spf13/afero"
)

const (
	dirPerm     = 0o755
	eventBuffer = 64
)

// Event describes the outcome of one reference's transfer.
type Event struct {
	Reference content.Reference
	Err       error
}

// Options tunes an Orchestrator.
type Options struct {
	// MaxParallel bounds concurrent transfers in Run. Values < 1 mean 1.
	MaxParallel int
	// VerifyDependencies applies the primary item's verify-before-delete policy to dependencies.
	VerifyDependencies bool
}

// Orchestrator is the only component that relocates or deletes files in the install tree.
// Commits and removals are serialized; transfers run concurrently.
type Orchestrator struct {
	fs          afero.Fs
	installRoot string
	queue       *queue.Manager
	stager      *staging.Stager
	catalog     content.Lookup
	ledger      storage.Ledger
	telemetry   *telemetry.Telemetry
	opts        Options

	// treeMu guards the install tree and the queue re-check preceding a commit.
	treeMu sync.Mutex
	runMu  sync.Mutex

	OnTransferError     chan Event
	OnTransferCommitted chan Event
}

// New creates an orchestrator. ledger may be nil, in which case LocalFiles are
// derived from the filesystem only.
func New(
	fs afero.Fs,
	installRoot string,
	q *queue.Manager,
	stager *staging.Stager,
	catalog content.Lookup,
	ledger storage.Ledger,
	tel *telemetry.Telemetry,
	opts Options,
) *Orchestrator {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}

	return &Orchestrator{
		fs:                  fs,
		installRoot:         installRoot,
		queue:               q,
		stager:              stager,
		catalog:             catalog,
		ledger:              ledger,
		telemetry:           tel,
		opts:                opts,
		OnTransferError:     make(chan Event, eventBuffer),
		OnTransferCommitted: make(chan Event, eventBuffer),
	}
}

// Close closes the event channels. Run must not be called afterwards.
func (o *Orchestrator) Close() {
	close(o.OnTransferError)
	close(o.OnTransferCommitted)
}

func (o *Orchestrator) Queue() *queue.Manager {
	return o.queue
}

func (o *Orchestrator) InstallRoot() string {
	return o.installRoot
}

// Enqueue submits the item's primary file and the primary files of its resolvable
// dependencies. Unknown dependency ids are skipped. Calling it again for the same
// item replaces the pending entries.
func (o *Orchestrator) Enqueue(ctx context.Context, item *content.Item) []content.Reference {
	logger := logctx.LoggerFromContext(ctx)

	refs := []content.Reference{item.Reference(o.installRoot)}

	for _, id := range item.Packages {
		dep, ok := o.catalog.Lookup(id)
		if !ok {
			logger.DebugContext(ctx, "skipping unknown dependency", "item_id", item.ID, "dependency", id)

			continue
		}

		refs = append(refs, dep.Reference(o.installRoot))
	}

	for _, ref := range refs {
		o.queue.Add(ref)

		logger.InfoContext(ctx, "queued file", "item_id", ref.ItemID, "destination", ref.Destination)
	}

	o.telemetry.RecordQueueDepth(o.queue.Len())

	return refs
}

// Cancel requests the in-flight transfer for destination to stop at its next chunk boundary.
func (o *Orchestrator) Cancel(destination string) bool {
	return o.queue.Cancel(destination)
}

// Hydrate fills item.LocalFiles from the install ledger. The primary file is
// also listed whenever it exists on disk, tracked or not.
func (o *Orchestrator) Hydrate(ctx context.Context, item *content.Item) error {
	o.treeMu.Lock()
	defer o.treeMu.Unlock()

	return o.hydrate(ctx, item)
}

func (o *Orchestrator) hydrate(ctx context.Context, item *content.Item) error {
	var files []string

	if o.ledger != nil {
		tracked, err := o.ledger.LocalFiles(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("failed to load local files of %s: %w", item.ID, err)
		}

		files = tracked
	}

	if !slices.Contains(files, item.File) {
		exists, err := afero.Exists(o.fs, item.Destination(o.installRoot, item.File))
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", item.File, err)
		}

		if exists {
			files = append(files, item.File)
		}
	}

	item.LocalFiles = files

	return nil
}

// Commit moves a staged file to destination, creating both parent directories.
// A vanished staged file yields a *transfer.CommitError wrapping transfer.ErrStagedNotFound
// and leaves destination untouched.
func (o *Orchestrator) Commit(ctx context.Context, staged, destination string) error {
	o.treeMu.Lock()
	defer o.treeMu.Unlock()

	return o.commit(ctx, staged, destination)
}

func (o *Orchestrator) commit(ctx context.Context, staged, destination string) error {
	err := o.telemetry.InstrumentMirrorOperation(ctx, "commit", func(ctx context.Context) error {
		if err := o.fs.MkdirAll(filepath.Dir(staged), dirPerm); err != nil {
			return &transfer.CommitError{Source: staged, Destination: destination, Err: err}
		}

		if err := o.fs.MkdirAll(filepath.Dir(destination), dirPerm); err != nil {
			return &transfer.CommitError{Source: staged, Destination: destination, Err: err}
		}

		if _, err := o.fs.Stat(staged); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = transfer.ErrStagedNotFound
			}

			return &transfer.CommitError{Source: staged, Destination: destination, Err: err}
		}

		if err := o.fs.Rename(staged, destination); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = fmt.Errorf("%w: %w", transfer.ErrStagedNotFound, err)
			}

			return &transfer.CommitError{Source: staged, Destination: destination, Err: err}
		}

		return nil
	})

	logger := logctx.LoggerFromContext(ctx)

	switch {
	case errors.Is(err, transfer.ErrStagedNotFound):
		o.telemetry.RecordCommit("not_found")
		logger.WarnContext(ctx, "staged file not found, skipping commit", "staged", staged, "destination", destination)
	case err != nil:
		o.telemetry.RecordCommit("error")
		logger.ErrorContext(ctx, "failed to commit staged file", "staged", staged, "destination", destination, "err", err)
	default:
		o.telemetry.RecordCommit("success")
		logger.InfoContext(ctx, "committed file", "destination", destination)
	}

	return err
}

func (o *Orchestrator) emit(ctx context.Context, ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "dropping transfer event, no listener", "destination", ev.Reference.Destination)
	}
}

// purgeStaged drops leftovers of a dequeued reference from the staging area.
func (o *Orchestrator) purgeStaged(ctx context.Context, ref content.Reference) {
	if o.stager == nil || ref.ID == "" {
		return
	}

	if err := cleanup.PurgeReference(o.fs, o.stager.Dir(), ref.ID); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to purge staging files", "reference_id", ref.ID, "err", err)
	}
}
