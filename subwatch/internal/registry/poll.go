package registry

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// Detector reads a version token; a different value means the pages may
// have changed.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// DataVersion reads PRAGMA data_version, which moves when another
// connection commits to the database file.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// LastUpdate reads MAX(updated_at), which also sees writes made on the
// polling connection itself.
func LastUpdate(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(updated_at), 0) FROM watch_pages").Scan(&v)
	return v, err
}

// PollOptions tunes Poll.
type PollOptions struct {
	Interval time.Duration // default 1s
	Detector Detector      // default DataVersion
	Logger   *slog.Logger
}

// PollStats are cumulative poller counters.
type PollStats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
}

// Poller calls back with the active pages each time the registry changes.
type Poller struct {
	db   *sql.DB
	opts PollOptions

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
}

// NewPoller creates a Poller. Call Run to start it.
func NewPoller(db *sql.DB, opts PollOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Detector == nil {
		opts.Detector = DataVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{db: db, opts: opts}
}

// Run delivers the current active pages once, then again after every
// detected change, until ctx is cancelled. When fn fails the version is
// not advanced and the pages are delivered again on the next tick.
func (p *Poller) Run(ctx context.Context, fn func([]Page) error) {
	log := p.opts.Logger

	version := int64(-1)
	check := func() {
		p.checks.Add(1)
		cur, err := p.opts.Detector(ctx, p.db)
		if err != nil {
			p.errors.Add(1)
			log.Warn("registry: version check failed", "error", err)
			return
		}
		if cur == version {
			return
		}
		pages, err := Active(ctx, p.db)
		if err != nil {
			p.errors.Add(1)
			log.Warn("registry: load pages failed", "error", err)
			return
		}
		if err := fn(pages); err != nil {
			p.errors.Add(1)
			log.Error("registry: apply pages failed", "error", err)
			return
		}
		if version >= 0 {
			p.changes.Add(1)
			log.Info("registry: pages reloaded", "version", cur, "pages", len(pages))
		}
		version = cur
	}

	check()
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Stats returns the counters.
func (p *Poller) Stats() PollStats {
	return PollStats{
		Checks:  p.checks.Load(),
		Changes: p.changes.Load(),
		Errors:  p.errors.Load(),
	}
}
