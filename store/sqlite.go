package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the default single-node store.
type SQLite struct {
	*sqlStore
}

// NewSQLite opens (or creates) the database at path and applies the schema.
// The busy timeout keeps short lock waits inside the driver; longer
// contention surfaces as SQLITE_BUSY and is retried by Backoff.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=250&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	if _, err := db.Exec(schemaSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{sqlStore: &sqlStore{db: db}}, nil
}
