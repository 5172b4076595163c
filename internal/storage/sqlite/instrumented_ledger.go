package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/modmirror/internal/storage"
	"github.com/italolelis/modmirror/internal/telemetry"
)

// InstrumentedLedger wraps LedgerRepository with telemetry.
type InstrumentedLedger struct {
	repo      *LedgerRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedLedger creates a new instrumented ledger.
func NewInstrumentedLedger(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedLedger {
	return &InstrumentedLedger{
		repo:      NewLedgerRepository(db),
		telemetry: tel,
	}
}

func (l *InstrumentedLedger) TrackFile(ctx context.Context, itemID, fileName, hash string) error {
	return l.telemetry.InstrumentDBOperation(ctx, "track_file", func(ctx context.Context) error {
		return l.repo.TrackFile(ctx, itemID, fileName, hash)
	})
}

func (l *InstrumentedLedger) UntrackFile(ctx context.Context, itemID, fileName string) error {
	return l.telemetry.InstrumentDBOperation(ctx, "untrack_file", func(ctx context.Context) error {
		return l.repo.UntrackFile(ctx, itemID, fileName)
	})
}

func (l *InstrumentedLedger) LocalFiles(ctx context.Context, itemID string) ([]string, error) {
	var files []string

	err := l.telemetry.InstrumentDBOperation(ctx, "local_files", func(ctx context.Context) error {
		var err error
		files, err = l.repo.LocalFiles(ctx, itemID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func (l *InstrumentedLedger) Installed(ctx context.Context) ([]storage.FileRecord, error) {
	var records []storage.FileRecord

	err := l.telemetry.InstrumentDBOperation(ctx, "installed", func(ctx context.Context) error {
		var err error
		records, err = l.repo.Installed(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

var _ storage.Ledger = (*InstrumentedLedger)(nil)
