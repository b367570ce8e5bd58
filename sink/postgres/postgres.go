// Package postgres provides a PostgreSQL-backed usage sink for genrouter.
//
// Every record becomes one row keyed by its id, so exports are durable
// across restarts and duplicate writes are ignored.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/genrouter"
)

// Store is a PostgreSQL-backed Sink.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ genrouter.Sink = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "genrouter_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed sink.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "genrouter_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) usageTable() string { return s.tablePrefix + "usage" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			recorded_at TIMESTAMPTZ NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			account_id TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT '',
			credits DOUBLE PRECISION NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			free BOOLEAN NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS %[1]s_recorded_at_idx ON %[1]s (recorded_at);
	`, s.usageTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("genrouter/postgres: ensure schema: %w", err)
	}
	return nil
}

// Write inserts one usage record. A record id already present is ignored.
func (s *Store) Write(ctx context.Context, rec genrouter.UsageRecord) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s
			(id, recorded_at, provider, model, account_id, tier, credits, cost, duration_ms, free)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING`, s.usageTable()),
		rec.ID, rec.Time.UTC(), rec.Provider, rec.Model, rec.AccountID, string(rec.Tier),
		rec.Credits, rec.Cost, rec.Duration.Milliseconds(), rec.Free,
	)
	if err != nil {
		return fmt.Errorf("genrouter/postgres: write: %w", err)
	}
	return nil
}

// Totals returns the per-model totals of the UTC day containing t.
func (s *Store) Totals(ctx context.Context, t time.Time) (map[string]genrouter.ModelStats, error) {
	start := time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT provider, model, count(*), coalesce(sum(credits), 0), coalesce(sum(cost), 0)
			FROM %s WHERE recorded_at >= $1 AND recorded_at < $2
			GROUP BY provider, model`, s.usageTable()),
		start, start.AddDate(0, 0, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("genrouter/postgres: totals: %w", err)
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
			return nil, fmt.Errorf("genrouter/postgres: scan totals: %w", err)
		}
		ms.Requests, ms.Successes = n, n
		out[provider+":"+model] = ms
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("genrouter/postgres: totals: %w", err)
	}
	return out, nil
}

// Get returns one stored record.
func (s *Store) Get(ctx context.Context, id string) (genrouter.UsageRecord, bool, error) {
	var (
		rec        genrouter.UsageRecord
		tier       string
		durationMS int64
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, recorded_at, provider, model, account_id, tier, credits, cost, duration_ms, free
			FROM %s WHERE id = $1`, s.usageTable()),
		id,
	).Scan(&rec.ID, &rec.Time, &rec.Provider, &rec.Model, &rec.AccountID, &tier,
		&rec.Credits, &rec.Cost, &durationMS, &rec.Free)
	if errors.Is(err, pgx.ErrNoRows) {
		return genrouter.UsageRecord{}, false, nil
	}
	if err != nil {
		return genrouter.UsageRecord{}, false, fmt.Errorf("genrouter/postgres: get: %w", err)
	}
	rec.Tier = genrouter.Tier(tier)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, true, nil
}

// Cleanup removes records older than the given age.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE recorded_at < $1`, s.usageTable()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("genrouter/postgres: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
