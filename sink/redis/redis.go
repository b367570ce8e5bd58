// Package redis provides a Redis-backed usage sink for genrouter.
//
// Records are folded into one hash per UTC day with an atomic Lua script
// that also deduplicates record ids. This makes it safe for multi-instance
// deployments sharing one Redis.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/sink"
)

const defaultRetention = 35 * 24 * time.Hour

// Store is a Redis-backed Sink.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	retention time.Duration
}

var _ genrouter.Sink = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "genrouter:usage:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithRetention sets how long daily hashes are kept (default 35 days).
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New creates a new Redis-backed sink.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "genrouter:usage:",
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) dayKey(t time.Time) string {
	return s.keyPrefix + sink.DayKey(t)
}

func (s *Store) idemKey(id string) string {
	return s.keyPrefix + "idem:" + id
}

// writeScript atomically folds one record into its daily hash.
// KEYS[1] = daily hash key
// KEYS[2] = idempotency key
// ARGV[1] = provider:model field prefix
// ARGV[2] = credits
// ARGV[3] = cost
// ARGV[4] = ttl seconds
// ARGV[5] = has_idem ("1" or "0")
//
// Returns:
//
//	1  = recorded
//	-1 = duplicate record id
var writeScript = goredis.NewScript(`
local day_key = KEYS[1]
local idem_key = KEYS[2]
local field = ARGV[1]
local ttl = tonumber(ARGV[4])

-- Idempotency check
if ARGV[5] == "1" then
    local set = redis.call("SET", idem_key, "1", "NX", "EX", ttl)
    if not set then
        return -1
    end
end

redis.call("HINCRBY", day_key, field .. "|count", 1)
redis.call("HINCRBYFLOAT", day_key, field .. "|credits", ARGV[2])
redis.call("HINCRBYFLOAT", day_key, field .. "|cost", ARGV[3])
redis.call("EXPIRE", day_key, ttl)
return 1
`)

// Write records one successful generation.
func (s *Store) Write(ctx context.Context, rec genrouter.UsageRecord) error {
	hasIdem := "0"
	idemK := s.idemKey("_noop")
	if rec.ID != "" {
		hasIdem = "1"
		idemK = s.idemKey(rec.ID)
	}

	result, err := writeScript.Run(ctx, s.client,
		[]string{s.dayKey(rec.Time), idemK},
		rec.Key(),
		strconv.FormatFloat(rec.Credits, 'f', -1, 64),
		strconv.FormatFloat(rec.Cost, 'f', -1, 64),
		int64(s.retention/time.Second),
		hasIdem,
	).Int64()
	if err != nil {
		return fmt.Errorf("genrouter/redis: write: %w", err)
	}

	switch result {
	case 1:
		return nil
	case -1:
		return fmt.Errorf("genrouter/redis: duplicate usage record %q", rec.ID)
	default:
		return fmt.Errorf("genrouter/redis: unexpected write result: %d", result)
	}
}

// Totals returns the per-model totals of the UTC day containing t.
func (s *Store) Totals(ctx context.Context, t time.Time) (map[string]genrouter.ModelStats, error) {
	vals, err := s.client.HGetAll(ctx, s.dayKey(t)).Result()
	if err != nil {
		return nil, fmt.Errorf("genrouter/redis: totals: %w", err)
	}

	out := make(map[string]genrouter.ModelStats)
	for field, raw := range vals {
		key, metric, ok := strings.Cut(field, "|")
		if !ok {
			continue
		}
		ms := out[key]
		switch metric {
		case "count":
			n, _ := strconv.Atoi(raw)
			ms.Requests = n
			ms.Successes = n
		case "credits":
			ms.Credits, _ = strconv.ParseFloat(raw, 64)
		case "cost":
			ms.Cost, _ = strconv.ParseFloat(raw, 64)
		}
		out[key] = ms
	}
	return out, nil
}
