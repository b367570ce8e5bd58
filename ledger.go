package genrouter

import (
	"context"
	"maps"
	"sync"
	"time"
)

const defaultSinkTimeout = 5 * time.Second

// UsageRecord is one successful generation as seen by the ledger and exported
// to a Sink.
type UsageRecord struct {
	ID        string        `json:"id"`
	Time      time.Time     `json:"time"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	AccountID string        `json:"account_id"`
	Tier      Tier          `json:"tier"`
	Credits   float64       `json:"credits"`
	Cost      float64       `json:"cost"`
	Duration  time.Duration `json:"duration"`
	Free      bool          `json:"free"`
}

// Key returns the "provider:model" stats key of the record.
func (r UsageRecord) Key() string { return statsKey(r.Provider, r.Model) }

// Sink exports usage records outside the process.
type Sink interface {
	Write(ctx context.Context, rec UsageRecord) error
}

// ModelStats are the counters of one provider model.
type ModelStats struct {
	Requests  int     `json:"requests"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
	Credits   float64 `json:"credits"`
	Cost      float64 `json:"cost"`
}

// GenerationStats is a snapshot of the ledger.
type GenerationStats struct {
	ByModel             map[string]ModelStats `json:"by_model"`
	TotalRequests       int                   `json:"total_requests"`
	TotalSuccesses      int                   `json:"total_successes"`
	TotalFailures       int                   `json:"total_failures"`
	TotalCredits        float64               `json:"total_credits"`
	TotalCost           float64               `json:"total_cost"`
	FailoverActivations int                   `json:"failover_activations"`
	ServiceRestorations int                   `json:"service_restorations"`
	TierToday           map[Tier]int          `json:"tier_today"`
	Day                 time.Time             `json:"day"`
}

// SuccessRate returns successes over requests, or 0 with no traffic.
func (s GenerationStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalSuccesses) / float64(s.TotalRequests)
}

// UsageLedger accumulates generation counters for the process lifetime. The
// per-tier counts of the current day reset at local midnight.
type UsageLedger struct {
	mu           sync.Mutex
	byModel      map[string]*ModelStats
	totals       ModelStats
	failovers    int
	restorations int
	tierToday    map[Tier]int
	day          time.Time

	sink        Sink
	sinkTimeout time.Duration
	meter       Meter
	now         func() time.Time
}

// LedgerOption configures a UsageLedger.
type LedgerOption func(*UsageLedger)

// WithSink exports every recorded generation to s.
func WithSink(s Sink) LedgerOption {
	return func(l *UsageLedger) { l.sink = s }
}

// WithSinkTimeout bounds a single sink write.
func WithSinkTimeout(d time.Duration) LedgerOption {
	return func(l *UsageLedger) { l.sinkTimeout = d }
}

// WithLedgerMeter sets the meter notified of sink failures.
func WithLedgerMeter(m Meter) LedgerOption {
	return func(l *UsageLedger) { l.meter = m }
}

// WithLedgerClock overrides the clock, used by tests.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *UsageLedger) { l.now = now }
}

// NewUsageLedger creates an empty ledger.
func NewUsageLedger(opts ...LedgerOption) *UsageLedger {
	l := &UsageLedger{
		byModel:     make(map[string]*ModelStats),
		tierToday:   make(map[Tier]int),
		sinkTimeout: defaultSinkTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.meter == nil {
		l.meter = &noopMeter{}
	}
	l.day = midnight(l.now())
	return l
}

// Record counts a successful generation and exports it to the sink, if any.
// Sink failures are reported to the meter and never returned.
func (l *UsageLedger) Record(ctx context.Context, rec UsageRecord) {
	l.mu.Lock()
	if rec.Time.IsZero() {
		rec.Time = l.now()
	}
	l.maybeResetDay(l.now())
	s := l.stats(rec.Key())
	s.Requests++
	s.Successes++
	s.Credits += rec.Credits
	s.Cost += rec.Cost
	l.totals.Requests++
	l.totals.Successes++
	l.totals.Credits += rec.Credits
	l.totals.Cost += rec.Cost
	if rec.Tier != "" {
		l.tierToday[rec.Tier]++
	}
	sink := l.sink
	l.mu.Unlock()

	if sink == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.sinkTimeout)
	defer cancel()
	if err := sink.Write(wctx, rec); err != nil {
		l.meter.OnSinkError(SinkErrorEvent{RecordID: rec.ID, Error: err})
	}
}

// RecordFailure counts a failed generation against provider/model.
func (l *UsageLedger) RecordFailure(provider, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats(statsKey(provider, model))
	s.Requests++
	s.Failures++
	l.totals.Requests++
	l.totals.Failures++
}

// RecordFailover counts one failover activation.
func (l *UsageLedger) RecordFailover() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failovers++
}

// RecordRestoration counts one primary-service restoration.
func (l *UsageLedger) RecordRestoration() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restorations++
}

// Snapshot returns a copy of all counters.
func (l *UsageLedger) Snapshot() GenerationStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeResetDay(l.now())
	byModel := make(map[string]ModelStats, len(l.byModel))
	for k, s := range l.byModel {
		byModel[k] = *s
	}
	return GenerationStats{
		ByModel:             byModel,
		TotalRequests:       l.totals.Requests,
		TotalSuccesses:      l.totals.Successes,
		TotalFailures:       l.totals.Failures,
		TotalCredits:        l.totals.Credits,
		TotalCost:           l.totals.Cost,
		FailoverActivations: l.failovers,
		ServiceRestorations: l.restorations,
		TierToday:           maps.Clone(l.tierToday),
		Day:                 l.day,
	}
}

// stats returns the counters for key, creating them. Must be called with the
// lock held.
func (l *UsageLedger) stats(key string) *ModelStats {
	s, ok := l.byModel[key]
	if !ok {
		s = &ModelStats{}
		l.byModel[key] = s
	}
	return s
}

// maybeResetDay clears the per-tier counts when the local date changed. Must
// be called with the lock held.
func (l *UsageLedger) maybeResetDay(now time.Time) {
	today := midnight(now)
	if today.Equal(l.day) {
		return
	}
	l.tierToday = make(map[Tier]int)
	l.day = today
}

func statsKey(provider, model string) string { return provider + ":" + model }
