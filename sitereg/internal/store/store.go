// CLAUDE:SUMMARY Site row CRUD and health write-back over database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store wraps the registry database.
type Store struct {
	DB *sql.DB
}

// New wraps an already-opened database. Call ApplySchema first.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

const rowColumns = `key, name, runtime, api, ext, searchable, quick_search, filterable,
	headers_json, cookie, enabled, sort_order,
	status, success_count, failure_count, consec_failures,
	last_success_at, last_failure_at, last_error, score, avg_latency_ms,
	created_at, updated_at`

// Upsert inserts or replaces a site row.
func (s *Store) Upsert(ctx context.Context, r *Row) error {
	now := time.Now().UnixMilli()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.HeadersJSON == "" {
		r.HeadersJSON = "{}"
	}
	if r.Status == "" {
		r.Status = "normal"
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sites (`+rowColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET
			name=excluded.name, runtime=excluded.runtime, api=excluded.api,
			ext=excluded.ext, searchable=excluded.searchable,
			quick_search=excluded.quick_search, filterable=excluded.filterable,
			headers_json=excluded.headers_json, cookie=excluded.cookie,
			enabled=excluded.enabled, sort_order=excluded.sort_order,
			updated_at=excluded.updated_at`,
		r.Key, r.Name, r.Runtime, r.API, r.Ext,
		boolInt(r.Searchable), boolInt(r.QuickSearch), boolInt(r.Filterable),
		r.HeadersJSON, r.Cookie, boolInt(r.Enabled), r.SortOrder,
		r.Status, r.SuccessCount, r.FailureCount, r.ConsecFailures,
		nullMilli(r.LastSuccessAt), nullMilli(r.LastFailureAt), r.LastError,
		r.Score, r.AvgLatencyMs, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// Get retrieves a site row by key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) (*Row, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM sites WHERE key = ?`, key)
	return scanRow(row.Scan)
}

// List returns all site rows ordered by sort_order then key.
func (s *Store) List(ctx context.Context) ([]*Row, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM sites ORDER BY sort_order ASC, key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a site row.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sites WHERE key = ?`, key)
	return err
}

// DeleteAll clears the catalog (full reset).
func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sites`)
	return err
}

// SetEnabled flips the enabled flag.
func (s *Store) SetEnabled(ctx context.Context, key string, enabled bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sites SET enabled=?, updated_at=? WHERE key=?`,
		boolInt(enabled), time.Now().UnixMilli(), key)
	return err
}

// WriteHealth persists the health columns for a site.
func (s *Store) WriteHealth(ctx context.Context, key string, r *Row) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sites SET status=?, success_count=?, failure_count=?,
		consec_failures=?, last_success_at=?, last_failure_at=?, last_error=?,
		score=?, avg_latency_ms=?, updated_at=?
		WHERE key=?`,
		r.Status, r.SuccessCount, r.FailureCount, r.ConsecFailures,
		nullMilli(r.LastSuccessAt), nullMilli(r.LastFailureAt), r.LastError,
		r.Score, r.AvgLatencyMs, time.Now().UnixMilli(), key)
	return err
}

// Count returns the number of sites.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites`).Scan(&n)
	return n, err
}

func scanRow(scan func(...any) error) (*Row, error) {
	var r Row
	var searchable, quick, filterable, enabled int
	var lastOK, lastFail sql.NullInt64
	err := scan(
		&r.Key, &r.Name, &r.Runtime, &r.API, &r.Ext,
		&searchable, &quick, &filterable,
		&r.HeadersJSON, &r.Cookie, &enabled, &r.SortOrder,
		&r.Status, &r.SuccessCount, &r.FailureCount, &r.ConsecFailures,
		&lastOK, &lastFail, &r.LastError, &r.Score, &r.AvgLatencyMs,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan site: %w", err)
	}
	r.Searchable = searchable != 0
	r.QuickSearch = quick != 0
	r.Filterable = filterable != 0
	r.Enabled = enabled != 0
	r.LastSuccessAt = lastOK.Int64
	r.LastFailureAt = lastFail.Int64
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullMilli(ms int64) any {
	if ms == 0 {
		return nil
	}
	return ms
}
