package genrouter

import (
	"slices"
	"time"
)

// AccountStatus describes the health of a provider account.
type AccountStatus string

const (
	StatusHealthy     AccountStatus = "HEALTHY"
	StatusDegraded    AccountStatus = "DEGRADED"
	StatusUnavailable AccountStatus = "UNAVAILABLE"
	StatusRateLimited AccountStatus = "RATE_LIMITED"
	StatusLowCredits  AccountStatus = "LOW_CREDITS"
)

const (
	degradedThreshold    = 3
	unavailableThreshold = 5
)

// AccountConfig configures a single provider account.
type AccountConfig struct {
	ID             string     `yaml:"id" json:"id" validate:"required"`
	Provider       string     `yaml:"provider" json:"provider" validate:"required"`
	Credential     Credential `yaml:",inline" json:"-"`
	Capabilities   []string   `yaml:"capabilities" json:"capabilities" validate:"required,min=1,dive,required"`
	Priority       int        `yaml:"priority" json:"priority"`
	CreditFloor    float64    `yaml:"credit_floor" json:"credit_floor" validate:"gte=0"`
	InitialCredits float64    `yaml:"initial_credits" json:"initial_credits" validate:"gte=0"`

	// FreeCapabilities lists declared capabilities this account may use at no
	// credit cost (e.g. a free daily allotment on a paid provider).
	FreeCapabilities []string `yaml:"free_capabilities" json:"free_capabilities,omitempty"`
}

// Account is a snapshot of a pooled account. The pool hands out copies; the
// authoritative state never leaves the pool.
type Account struct {
	ID         string     `json:"id"`
	Provider   string     `json:"provider"`
	Credential Credential `json:"-"`

	// DeclaredCapabilities is the permanent configured set. ActiveCapabilities
	// is narrowed to the free subset while the provider is in emergency mode.
	DeclaredCapabilities []string `json:"declared_capabilities"`
	ActiveCapabilities   []string `json:"active_capabilities"`
	FreeCapabilities     []string `json:"free_capabilities,omitempty"`

	Priority          int           `json:"priority"`
	Credits           float64       `json:"credits"`
	CreditFloor       float64       `json:"credit_floor"`
	Status            AccountStatus `json:"status"`
	LastUsed          time.Time     `json:"last_used,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	RequestsToday     int           `json:"requests_today"`
	RateLimitedUntil  time.Time     `json:"rate_limited_until,omitempty"`
	LastFailure       time.Time     `json:"last_failure,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
}

// Supports reports whether the account currently declares capability.
func (a Account) Supports(capability string) bool {
	return slices.Contains(a.ActiveCapabilities, capability)
}

func newAccount(cfg AccountConfig) *Account {
	return &Account{
		ID:                   cfg.ID,
		Provider:             cfg.Provider,
		Credential:           cfg.Credential,
		DeclaredCapabilities: slices.Clone(cfg.Capabilities),
		ActiveCapabilities:   slices.Clone(cfg.Capabilities),
		FreeCapabilities:     slices.Clone(cfg.FreeCapabilities),
		Priority:             cfg.Priority,
		Credits:              cfg.InitialCredits,
		CreditFloor:          cfg.CreditFloor,
		Status:               StatusHealthy,
	}
}

func (a *Account) snapshot() Account {
	c := *a
	c.DeclaredCapabilities = slices.Clone(a.DeclaredCapabilities)
	c.ActiveCapabilities = slices.Clone(a.ActiveCapabilities)
	c.FreeCapabilities = slices.Clone(a.FreeCapabilities)
	return c
}

// statusForStreak applies the failure-streak state machine.
func statusForStreak(errors int) AccountStatus {
	switch {
	case errors >= unavailableThreshold:
		return StatusUnavailable
	case errors >= degradedThreshold:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// IsFree reports whether capability costs no credits when served by this
// account on spec.
func (a Account) IsFree(spec ProviderSpec, capability string) bool {
	return spec.IsFree(capability) || slices.Contains(a.FreeCapabilities, capability)
}

// freeSubset returns the declared capabilities that are free on spec.
func (a *Account) freeSubset(spec ProviderSpec) []string {
	var out []string
	for _, c := range a.DeclaredCapabilities {
		if a.IsFree(spec, c) {
			out = append(out, c)
		}
	}
	return out
}

// funded reports whether the balance may pay for credit-bearing work: at or
// above the floor and never at zero.
func (a *Account) funded() bool {
	return a.Credits > 0 && a.Credits >= a.CreditFloor
}

// hasFreeCapability reports whether any active capability is zero-cost on
// spec. Such accounts stay selectable for that capability below the floor.
func (a *Account) hasFreeCapability(spec ProviderSpec) bool {
	for _, c := range a.ActiveCapabilities {
		if a.IsFree(spec, c) {
			return true
		}
	}
	return false
}

// recompute derives the status from the error streak, credits and rate-limit
// window. A failure streak outranks low credits.
func (a *Account) recompute(spec ProviderSpec, now time.Time) {
	if !a.RateLimitedUntil.IsZero() {
		if now.Before(a.RateLimitedUntil) {
			a.Status = StatusRateLimited
			return
		}
		a.RateLimitedUntil = time.Time{}
	}
	if s := statusForStreak(a.ConsecutiveErrors); s != StatusHealthy {
		a.Status = s
		return
	}
	if !a.funded() && !a.hasFreeCapability(spec) {
		a.Status = StatusLowCredits
		return
	}
	a.Status = StatusHealthy
}
