// CLAUDE:SUMMARY SQLite snapshot store — persists the last aggregated catalog as a JSON blob.
// Package store persists aggregation snapshots so a restarted daemon can
// serve a catalog before its first refresh completes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Schema creates the snapshot table.
const Schema = `
CREATE TABLE IF NOT EXISTS catalog_snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	generated_at INTEGER NOT NULL,
	payload      BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_catalog_snapshots_generated
	ON catalog_snapshots(generated_at DESC);
`

// Store reads and writes catalog snapshots.
type Store struct {
	db *sql.DB
}

// New creates a Store. The schema must already exist.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save writes a snapshot and prunes everything older, keeping the newest
// keep rows (minimum 1).
func (s *Store) Save(ctx context.Context, generatedAt time.Time, payload []byte, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO catalog_snapshots (generated_at, payload) VALUES (?, ?)`,
		generatedAt.UnixMilli(), payload)
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM catalog_snapshots WHERE id NOT IN (
			SELECT id FROM catalog_snapshots ORDER BY generated_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("store: prune snapshots: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot, or ok=false when none exists.
func (s *Store) Latest(ctx context.Context) (payload []byte, generatedAt time.Time, ok bool, err error) {
	var millis int64
	row := s.db.QueryRowContext(ctx, `
		SELECT generated_at, payload FROM catalog_snapshots
		ORDER BY generated_at DESC, id DESC LIMIT 1`)
	if err := row.Scan(&millis, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, fmt.Errorf("store: load snapshot: %w", err)
	}
	return payload, time.UnixMilli(millis), true, nil
}
