package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/modmirror/internal/storage"
)

// LedgerRepository implements storage.Ledger on SQLite.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// TrackFile records fileName as installed for itemID, replacing an earlier record.
func (r *LedgerRepository) TrackFile(ctx context.Context, itemID, fileName, hash string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO installed_files (item_id, file_name, hash, installed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, file_name) DO UPDATE SET
			hash = excluded.hash,
			installed_at = excluded.installed_at
	`, itemID, fileName, hash, time.Now().UTC().Format(time.RFC3339))

	return err
}

func (r *LedgerRepository) UntrackFile(ctx context.Context, itemID, fileName string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM installed_files WHERE item_id = ? AND file_name = ?`, itemID, fileName)

	return err
}

// LocalFiles returns the installed file names of itemID ordered by name.
func (r *LedgerRepository) LocalFiles(ctx context.Context, itemID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT file_name FROM installed_files WHERE item_id = ? ORDER BY file_name`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		files = append(files, name)
	}

	return files, rows.Err()
}

func (r *LedgerRepository) Installed(ctx context.Context) ([]storage.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_id, file_name, hash, installed_at
		FROM installed_files
		ORDER BY item_id, file_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.FileRecord

	for rows.Next() {
		var (
			record      storage.FileRecord
			hash        sql.NullString
			installedAt string
		)

		if err := rows.Scan(&record.ItemID, &record.FileName, &hash, &installedAt); err != nil {
			return nil, err
		}

		if hash.Valid {
			record.Hash = hash.String
		}

		if t, err := time.Parse(time.RFC3339, installedAt); err == nil {
			record.InstalledAt = t
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

var _ storage.Ledger = (*LedgerRepository)(nil)
