// Package mysql provides a MySQL-backed usage sink for genrouter.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ineyio/genrouter"
)

// Store is a MySQL-backed Sink over database/sql.
type Store struct {
	db    *sql.DB
	table string
}

var _ genrouter.Sink = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTable sets the table name (default "genrouter_usage").
func WithTable(name string) Option {
	return func(s *Store) { s.table = name }
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, table: "genrouter_usage"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to MySQL. The DSN is parsed with the driver's own parser so
// that parseTime is always enabled.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("genrouter/mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("genrouter/mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(2 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("genrouter/mysql: ping: %w", err)
	}
	return New(db, opts...), nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the usage table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		recorded_at DATETIME(3) NOT NULL,
		provider VARCHAR(64) NOT NULL,
		model VARCHAR(128) NOT NULL,
		account_id VARCHAR(128) NOT NULL,
		tier VARCHAR(16) NOT NULL DEFAULT '',
		credits DOUBLE NOT NULL DEFAULT 0,
		cost DOUBLE NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		free TINYINT(1) NOT NULL DEFAULT 0,
		INDEX idx_recorded_at (recorded_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, s.table))
	if err != nil {
		return fmt.Errorf("genrouter/mysql: ensure schema: %w", err)
	}
	return nil
}

// Write inserts one usage record. A record id already present is ignored.
func (s *Store) Write(ctx context.Context, rec genrouter.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT IGNORE INTO %s
			(id, recorded_at, provider, model, account_id, tier, credits, cost, duration_ms, free)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table),
		rec.ID, rec.Time.UTC(), rec.Provider, rec.Model, rec.AccountID, string(rec.Tier),
		rec.Credits, rec.Cost, rec.Duration.Milliseconds(), rec.Free,
	)
	if err != nil {
		return fmt.Errorf("genrouter/mysql: write: %w", err)
	}
	return nil
}

// Totals returns the per-model totals of the UTC day containing t.
func (s *Store) Totals(ctx context.Context, t time.Time) (map[string]genrouter.ModelStats, error) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT provider, model, COUNT(*), COALESCE(SUM(credits), 0), COALESCE(SUM(cost), 0)
			FROM %s WHERE recorded_at >= ? AND recorded_at < ?
			GROUP BY provider, model`, s.table),
		start, start.AddDate(0, 0, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("genrouter/mysql: totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]genrouter.ModelStats)
	for rows.Next() {
		var (
			provider, model string
			n               int
			ms              genrouter.ModelStats
		)
		if err := rows.Scan(&provider, &model, &n, &ms.Credits, &ms.Cost); err != nil {
			return nil, fmt.Errorf("genrouter/mysql: scan totals: %w", err)
		}
		ms.Requests, ms.Successes = n, n
		out[provider+":"+model] = ms
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("genrouter/mysql: totals: %w", err)
	}
	return out, nil
}
