// Package sink provides UsageLedger sinks that export usage records outside
// the router process.
package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ineyio/genrouter"
)

// Memory is an in-process Sink with daily per-model totals. It is mainly
// useful in tests and single-instance deployments.
type Memory struct {
	mu      sync.RWMutex
	records []genrouter.UsageRecord
	days    map[string]map[string]*genrouter.ModelStats // day -> provider:model
	seen    map[string]bool                             // record id dedup
}

var _ genrouter.Sink = (*Memory)(nil)

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		days: make(map[string]map[string]*genrouter.ModelStats),
		seen: make(map[string]bool),
	}
}

// Write stores rec. Writing the same record id twice is an error.
func (s *Memory) Write(_ context.Context, rec genrouter.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotency check.
	if rec.ID != "" && s.seen[rec.ID] {
		return fmt.Errorf("genrouter/sink: duplicate usage record %q", rec.ID)
	}

	day := DayKey(rec.Time)
	models, ok := s.days[day]
	if !ok {
		models = make(map[string]*genrouter.ModelStats)
		s.days[day] = models
	}
	ms, ok := models[rec.Key()]
	if !ok {
		ms = &genrouter.ModelStats{}
		models[rec.Key()] = ms
	}
	ms.Requests++
	ms.Successes++
	ms.Credits += rec.Credits
	ms.Cost += rec.Cost

	s.records = append(s.records, rec)
	if rec.ID != "" {
		s.seen[rec.ID] = true
	}
	return nil
}

// Records returns a copy of every stored record in write order.
func (s *Memory) Records() []genrouter.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]genrouter.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Totals returns the per-model totals of the UTC day containing t.
func (s *Memory) Totals(_ context.Context, t time.Time) (map[string]genrouter.ModelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]genrouter.ModelStats)
	for k, ms := range s.days[DayKey(t)] {
		out[k] = *ms
	}
	return out, nil
}

// DayKey formats the UTC date sinks bucket records by.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
