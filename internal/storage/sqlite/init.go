package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the ledger database at path and creates the installed_files table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS installed_files (
		item_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		hash TEXT,
		installed_at DATETIME NOT NULL,
		PRIMARY KEY (item_id, file_name)
	)`)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}
