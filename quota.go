package genrouter

import (
	"math"
	"slices"
	"time"
)

// CostModel describes how a provider charges for a generation.
type CostModel struct {
	// CreditsPerUnit is charged for each started UnitDuration of output.
	CreditsPerUnit float64 `yaml:"credits_per_unit" json:"credits_per_unit" validate:"gte=0"`

	// UnitDuration is the billing granularity. Zero means one unit per request.
	UnitDuration time.Duration `yaml:"unit_duration" json:"unit_duration"`

	// USDPerCredit converts credits into money.
	USDPerCredit float64 `yaml:"usd_per_credit" json:"usd_per_credit" validate:"gte=0"`

	// Volume marks a zero-cost provider. Volume capabilities bypass credit checks.
	Volume bool `yaml:"volume" json:"volume"`
}

// Credits returns the credits a generation of the given duration consumes.
func (c CostModel) Credits(d time.Duration) float64 {
	if c.Volume {
		return 0
	}
	units := 1.0
	if c.UnitDuration > 0 && d > 0 {
		units = math.Ceil(float64(d) / float64(c.UnitDuration))
	}
	return c.CreditsPerUnit * units
}

// Cost converts credits into USD.
func (c CostModel) Cost(credits float64) float64 {
	return credits * c.USDPerCredit
}

// ProviderSpec is the immutable configuration of a generation backend.
type ProviderSpec struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`

	// SigningNode, when set, makes the HTTP adapter sign requests with the
	// account key instead of sending it as a bearer token.
	SigningNode string `yaml:"signing_node" json:"signing_node,omitempty"`

	CostModel `yaml:",inline"`

	// FreeCapabilities are zero-cost capabilities of an otherwise paid provider.
	FreeCapabilities []string `yaml:"free_capabilities" json:"free_capabilities,omitempty"`

	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	PollTimeout    time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	Retry RetryConfig `yaml:"retry" json:"retry"`
}

const (
	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 10 * time.Minute
)

// IsFree reports whether capability is zero-cost on this provider.
func (p ProviderSpec) IsFree(capability string) bool {
	return p.Volume || slices.Contains(p.FreeCapabilities, capability)
}

// CreditsFor returns the credits a request consumes on capability.
func (p ProviderSpec) CreditsFor(capability string, d time.Duration) float64 {
	if p.IsFree(capability) {
		return 0
	}
	return p.Credits(d)
}

func (p ProviderSpec) pollInterval() time.Duration {
	if p.PollInterval > 0 {
		return p.PollInterval
	}
	return defaultPollInterval
}

func (p ProviderSpec) pollTimeout() time.Duration {
	if p.PollTimeout > 0 {
		return p.PollTimeout
	}
	return defaultPollTimeout
}
