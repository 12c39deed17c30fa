package subwatch

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/subtrack/subwatch/internal/registry"
)

// OpenRegistry opens (or creates) the SQLite page registry at path.
func OpenRegistry(path string) (*sql.DB, error) { return registry.Open(path) }

// RegisterPage adds or replaces a page in the registry and marks it
// active. A running WatchRegistry picks it up on its next poll.
func RegisterPage(ctx context.Context, db *sql.DB, pc PageConfig) error {
	return registry.Upsert(ctx, db, registry.Page{
		ID:           pc.ID,
		URL:          pc.URL,
		StealthLevel: pc.StealthLevel,
		ScanTimeout:  pc.ScanTimeout,
	})
}

// UnregisterPage disables a page in the registry.
func UnregisterPage(ctx context.Context, db *sql.DB, id string) error {
	return registry.Disable(ctx, db, id)
}
