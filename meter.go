package genrouter

import "time"

// Meter observes routing events for monitoring/logging.
type Meter interface {
	// OnRoute is called when an account has been chosen for an attempt.
	OnRoute(event RouteEvent)

	// OnResult is called when a provider attempt finishes.
	OnResult(event ResultEvent)

	// OnFailover is called on every failover activation or restoration edge.
	OnFailover(event FailoverEvent)

	// OnSinkError is called when a usage record could not be exported.
	OnSinkError(event SinkErrorEvent)
}

// RouteEvent describes a routing decision.
type RouteEvent struct {
	Strategy     string
	Provider     string
	AccountID    string
	Model        string
	Tier         Tier
	Free         bool
	AttemptNum   int
	FailoverFrom string
}

// ResultEvent describes the outcome of a provider attempt.
type ResultEvent struct {
	Provider  string
	AccountID string
	Model     string
	Free      bool
	Success   bool
	Duration  time.Duration
	Credits   float64
	Cost      float64
	Error     error
}

// FailoverEvent describes a change of a (primary, alternate) failover pair.
// Active is true when traffic moved to the alternate and false when the
// primary was restored.
type FailoverEvent struct {
	Primary   string
	Alternate string
	Active    bool
}

// SinkErrorEvent describes a failed usage export.
type SinkErrorEvent struct {
	RecordID string
	Error    error
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnRoute(RouteEvent)         {}
func (m *noopMeter) OnResult(ResultEvent)       {}
func (m *noopMeter) OnFailover(FailoverEvent)   {}
func (m *noopMeter) OnSinkError(SinkErrorEvent) {}
