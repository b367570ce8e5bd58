package genrouter

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	providerFailureThreshold = 3
	defaultRecoveryWindow    = 5 * time.Minute
)

// ServiceHealth is the aggregated health of one provider.
type ServiceHealth struct {
	Provider            string    `json:"provider"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheck           time.Time `json:"last_check,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

// HealthView is a point-in-time copy of every provider's health, handed to
// routing strategies.
type HealthView map[string]ServiceHealth

// Healthy reports whether provider is healthy. Providers never observed are
// assumed healthy.
func (v HealthView) Healthy(provider string) bool {
	h, ok := v[provider]
	return !ok || h.Healthy
}

// HealthMonitor aggregates account-pool availability, liveness probes and
// foreground call outcomes into one healthy flag per provider. Periodic
// refreshes and foreground updates write the same fields under one mutex.
type HealthMonitor struct {
	mu          sync.Mutex
	services    map[string]*ServiceHealth
	pool        *AccountPool
	pingers     map[string]Pinger
	interval    time.Duration
	recovery    time.Duration
	lastRefresh time.Time
	now         func() time.Time
}

// HealthOption configures a HealthMonitor.
type HealthOption func(*HealthMonitor)

// WithRefreshInterval limits Refresh to one run per interval.
func WithRefreshInterval(d time.Duration) HealthOption {
	return func(h *HealthMonitor) { h.interval = d }
}

// WithRecoveryWindow sets how long an unhealthy provider without a liveness
// probe waits before it is offered traffic again.
func WithRecoveryWindow(d time.Duration) HealthOption {
	return func(h *HealthMonitor) { h.recovery = d }
}

// WithPinger registers a liveness probe for provider.
func WithPinger(provider string, p Pinger) HealthOption {
	return func(h *HealthMonitor) { h.pingers[provider] = p }
}

// WithHealthClock overrides the clock, used by tests.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthMonitor) { h.now = now }
}

// NewHealthMonitor creates a monitor over the providers registered in pool.
func NewHealthMonitor(pool *AccountPool, opts ...HealthOption) *HealthMonitor {
	h := &HealthMonitor{
		services: make(map[string]*ServiceHealth),
		pool:     pool,
		pingers:  make(map[string]Pinger),
		interval: defaultHealthCheckInterval,
		recovery: defaultRecoveryWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if pool != nil {
		for _, name := range pool.Providers() {
			h.services[name] = &ServiceHealth{Provider: name, Healthy: true}
		}
	}
	return h
}

// Refresh runs the pool's account health check and recomputes every
// provider's health. Calls arriving within the refresh interval of the
// previous run return false without doing any work, whatever the call volume.
func (h *HealthMonitor) Refresh(ctx context.Context) bool {
	h.mu.Lock()
	now := h.now()
	if !h.lastRefresh.IsZero() && now.Sub(h.lastRefresh) < h.interval {
		h.mu.Unlock()
		return false
	}
	h.lastRefresh = now
	names := make([]string, 0, len(h.services))
	for name := range h.services {
		names = append(names, name)
	}
	h.mu.Unlock()

	if h.pool != nil {
		// Errors are logged by the pool; accounts it could not reach still
		// recover through the recovery window.
		_ = h.pool.RunHealthCheck(ctx)
	}

	probes := make(map[string]error, len(h.pingers))
	for name, p := range h.pingers {
		probes[name] = p.Ping(ctx)
	}
	available := make(map[string]bool, len(names))
	for _, name := range names {
		available[name] = h.pool == nil || h.pool.HasAvailable(name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range names {
		s := h.services[name]
		if err, probed := probes[name]; probed {
			if err != nil {
				s.ConsecutiveFailures++
				s.LastFailure = now
			} else {
				s.ConsecutiveFailures = 0
			}
		} else if s.ConsecutiveFailures >= providerFailureThreshold && now.Sub(s.LastFailure) >= h.recovery {
			s.ConsecutiveFailures = 0
		}
		s.Healthy = s.ConsecutiveFailures < providerFailureThreshold && available[name]
		s.LastCheck = now
	}
	return true
}

// RecordSuccess marks provider healthy after a successful call.
func (h *HealthMonitor) RecordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(provider)
	s.ConsecutiveFailures = 0
	s.Healthy = true
}

// RecordFailure counts a failed call against provider. The provider turns
// unhealthy once the consecutive-failure threshold is reached.
func (h *HealthMonitor) RecordFailure(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getOrCreate(provider)
	s.ConsecutiveFailures++
	s.LastFailure = h.now()
	if s.ConsecutiveFailures >= providerFailureThreshold {
		s.Healthy = false
	}
}

// Snapshot returns a copy of the current health of every provider.
func (h *HealthMonitor) Snapshot() HealthView {
	h.mu.Lock()
	defer h.mu.Unlock()

	v := make(HealthView, len(h.services))
	for name, s := range h.services {
		v[name] = *s
	}
	return v
}

// List returns the snapshot sorted by provider name.
func (v HealthView) List() []ServiceHealth {
	out := make([]ServiceHealth, 0, len(v))
	for _, s := range v {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (h *HealthMonitor) getOrCreate(provider string) *ServiceHealth {
	s, ok := h.services[provider]
	if !ok {
		s = &ServiceHealth{Provider: provider, Healthy: true}
		h.services[provider] = s
	}
	return s
}
