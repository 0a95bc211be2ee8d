// CLAUDE:SUMMARY Applies the site registry SQL schema: sites table with embedded health columns.
package store

import "database/sql"

// Schema holds the registry tables. Health lives on the same row as the
// descriptor: the two are 1:1 and always read together.
const Schema = `
CREATE TABLE IF NOT EXISTS sites (
    key             TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    runtime         TEXT NOT NULL,
    api             TEXT NOT NULL DEFAULT '',
    ext             TEXT NOT NULL DEFAULT '',
    searchable      INTEGER NOT NULL DEFAULT 0,
    quick_search    INTEGER NOT NULL DEFAULT 0,
    filterable      INTEGER NOT NULL DEFAULT 0,
    headers_json    TEXT NOT NULL DEFAULT '{}',
    cookie          TEXT NOT NULL DEFAULT '',
    enabled         INTEGER NOT NULL DEFAULT 1,
    sort_order      INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'normal',
    success_count   INTEGER NOT NULL DEFAULT 0,
    failure_count   INTEGER NOT NULL DEFAULT 0,
    consec_failures INTEGER NOT NULL DEFAULT 0,
    last_success_at INTEGER,
    last_failure_at INTEGER,
    last_error      TEXT NOT NULL DEFAULT '',
    score           REAL NOT NULL DEFAULT 100,
    avg_latency_ms  INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sites_enabled ON sites(enabled, sort_order);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
