// Package registry stores the pages subwatch should observe in SQLite and
// reports when that set changes, so a long-running watcher can follow
// edits made by another process.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Schema for the watch_pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_pages (
	id              TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	stealth_level   TEXT NOT NULL DEFAULT '1',
	scan_timeout_ms INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'active',
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS watch_pages_status ON watch_pages(status);
`

// Open opens (creating if needed) the registry database at path with WAL,
// a busy timeout and the schema applied. ":memory:" is accepted.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("registry: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: ping: %w", err)
	}
	return db, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// exec runs a statement, retrying up to three times while the database is
// locked by another writer.
func exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	const attempts = 3
	for i := range attempts {
		res, err := db.ExecContext(ctx, query, args...)
		if err == nil || !isBusy(err) || i == attempts-1 {
			return res, err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("registry: exec: retries exhausted")
}
