package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Page statuses.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// ErrNotFound is returned when no page has the given id.
var ErrNotFound = errors.New("registry: page not found")

// Page is a row of watch_pages.
type Page struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	StealthLevel string        `json:"stealth_level"`
	ScanTimeout  time.Duration `json:"scan_timeout"`
	Status       string        `json:"status"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Upsert inserts or replaces a page and marks it active.
func Upsert(ctx context.Context, db *sql.DB, p Page) error {
	if p.ID == "" || p.URL == "" {
		return fmt.Errorf("registry: upsert: id and url are required")
	}
	if p.StealthLevel == "" {
		p.StealthLevel = "1"
	}
	_, err := exec(ctx, db, `
		INSERT INTO watch_pages (id, url, stealth_level, scan_timeout_ms, status, updated_at)
		VALUES (?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			stealth_level = excluded.stealth_level,
			scan_timeout_ms = excluded.scan_timeout_ms,
			status = 'active',
			updated_at = excluded.updated_at`,
		p.ID, p.URL, p.StealthLevel, p.ScanTimeout.Milliseconds(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("registry: upsert %s: %w", p.ID, err)
	}
	return nil
}

// Disable stops a page from being observed without deleting it.
func Disable(ctx context.Context, db *sql.DB, id string) error {
	res, err := exec(ctx, db,
		`UPDATE watch_pages SET status = 'disabled', updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("registry: disable %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Active returns every active page ordered by id.
func Active(ctx context.Context, db *sql.DB) ([]Page, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, stealth_level, scan_timeout_ms, status, updated_at
		FROM watch_pages
		WHERE status = 'active'
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("registry: query pages: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var (
			p         Page
			timeoutMs int64
			updatedMs int64
		)
		if err := rows.Scan(&p.ID, &p.URL, &p.StealthLevel, &timeoutMs, &p.Status, &updatedMs); err != nil {
			return nil, fmt.Errorf("registry: scan page: %w", err)
		}
		p.ScanTimeout = time.Duration(timeoutMs) * time.Millisecond
		p.UpdatedAt = time.UnixMilli(updatedMs)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
