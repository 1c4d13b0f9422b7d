package analytics

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// created_at is stored as ISO-8601 text so strftime can group it.
var sqliteDialect = dialect{
	name:       "sqlite",
	funnel:     `SELECT stage, COUNT(*) FROM leads GROUP BY stage`,
	monthly:    `SELECT strftime('%Y-%m', created_at) AS month, COUNT(*) FROM leads GROUP BY month ORDER BY month`,
	sources:    `SELECT source, COUNT(*) AS n FROM leads GROUP BY source ORDER BY n DESC, source`,
	properties: `SELECT name, leads, site_visits, tokens FROM properties ORDER BY name`,
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS leads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	stage INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS properties (
	name TEXT PRIMARY KEY,
	leads INTEGER NOT NULL DEFAULT 0,
	site_visits INTEGER NOT NULL DEFAULT 0,
	tokens INTEGER NOT NULL DEFAULT 0
);`

// SQLiteSource builds snapshots from a local SQLite file, used for demos and
// single-node installs.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLite opens path and ensures the tables exist.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// DB exposes the handle for seeding.
func (s *SQLiteSource) DB() *sql.DB {
	return s.db
}

func (s *SQLiteSource) Snapshot(ctx context.Context) (Snapshot, error) {
	return loadSnapshot(ctx, sqliteDialect, func(ctx context.Context, q string) (rowScanner, func(), error) {
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		return rows, func() { _ = rows.Close() }, nil
	})
}

func (s *SQLiteSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
