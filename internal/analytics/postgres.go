package analytics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresDialect reads the CRM tables:
//
//	leads(source text, stage int, created_at timestamptz)
//	properties(name text, leads int, site_visits int, tokens int)
var postgresDialect = dialect{
	name:       "postgres",
	funnel:     `SELECT stage, COUNT(*) FROM leads GROUP BY stage`,
	monthly:    `SELECT to_char(date_trunc('month', created_at), 'YYYY-MM') AS month, COUNT(*) FROM leads GROUP BY month ORDER BY month`,
	sources:    `SELECT source, COUNT(*) AS n FROM leads GROUP BY source ORDER BY n DESC, source`,
	properties: `SELECT name, leads, site_visits, tokens FROM properties ORDER BY name`,
}

// PostgresSource builds snapshots from a Postgres CRM database.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource connects and pings the database.
func NewPostgresSource(ctx context.Context, databaseURL string) (*PostgresSource, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

func (s *PostgresSource) Snapshot(ctx context.Context) (Snapshot, error) {
	return loadSnapshot(ctx, postgresDialect, func(ctx context.Context, q string) (rowScanner, func(), error) {
		rows, err := s.pool.Query(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		return rows, rows.Close, nil
	})
}

// Ping checks database connectivity for readiness probes.
func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
