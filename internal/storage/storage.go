package storage

import (
	"context"
	"time"
)

// FileRecord is one file of a catalog item present in the install tree.
type FileRecord struct {
	ItemID      string
	FileName    string
	Hash        string
	InstalledAt time.Time
}

// LedgerReadRepository answers which files the install tree holds.
type LedgerReadRepository interface {
	LocalFiles(ctx context.Context, itemID string) ([]string, error)
	Installed(ctx context.Context) ([]FileRecord, error)
}

// LedgerWriteRepository records commits and deletions.
type LedgerWriteRepository interface {
	TrackFile(ctx context.Context, itemID, fileName, hash string) error
	UntrackFile(ctx context.Context, itemID, fileName string) error
}

// Ledger keeps Item.LocalFiles consistent with the filesystem across runs.
type Ledger interface {
	LedgerReadRepository
	LedgerWriteRepository
}
