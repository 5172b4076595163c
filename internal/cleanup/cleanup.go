package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// ActiveChecker reports whether a staging identity still belongs to a queued transfer.
type ActiveChecker interface {
	ContainsID(id string) bool
}

// Janitor removes orphaned files from the staging area.
type Janitor struct {
	fs        afero.Fs
	dir       string
	retention time.Duration
	clock     clockwork.Clock
	active    ActiveChecker
}

func NewJanitor(fs afero.Fs, dir string, retention time.Duration, clock clockwork.Clock, active ActiveChecker) *Janitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Janitor{
		fs:        fs,
		dir:       dir,
		retention: retention,
		clock:     clock,
		active:    active,
	}
}

// Sweep deletes staging files older than the retention window whose identity is
// not queued anymore. It returns the number of deleted files.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := j.clock.Now()

	entries, err := afero.ReadDir(j.fs, j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to list staging directory: %w", err)
	}

	var (
		deleted int
		errs    []error
	)

	for _, info := range entries {
		if info.IsDir() || now.Sub(info.ModTime()) <= j.retention {
			continue
		}

		if id, ok := Identity(info.Name()); ok && j.active != nil && j.active.ContainsID(id) {
			continue
		}

		path := filepath.Join(j.dir, info.Name())
		if err := j.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.ErrorContext(ctx, "failed to delete expired staging file", "file", path, "err", err)

			errs = append(errs, err)

			continue
		}

		deleted++

		logger.InfoContext(ctx, "deleted expired staging file", "file", path)
	}

	return deleted, errors.Join(errs...)
}

// Identity extracts the reference identity prefix of a staging file name.
func Identity(name string) (string, bool) {
	const idLen = 36

	if len(name) <= idLen || name[idLen] != '-' {
		return "", false
	}

	if _, err := uuid.Parse(name[:idLen]); err != nil {
		return "", false
	}

	return name[:idLen], true
}

// PurgeReference removes every staging file carrying the identity id.
func PurgeReference(fs afero.Fs, dir, id string) error {
	matches, err := afero.Glob(fs, filepath.Join(dir, id+"-*"))
	if err != nil {
		return fmt.Errorf("failed to glob staging files: %w", err)
	}

	var errs []error

	for _, match := range matches {
		if err := fs.Remove(match); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
