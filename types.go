package genrouter

import "time"

// Tier is a cost/quality class of content generation.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierVolume   Tier = "volume"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierPremium, TierStandard, TierVolume:
		return true
	default:
		return false
	}
}

// GenerationRequest describes a single content-generation job.
type GenerationRequest struct {
	Prompt      string            `json:"prompt"`
	Platform    string            `json:"platform,omitempty"`
	Tier        Tier              `json:"tier"`
	Duration    time.Duration     `json:"duration,omitempty"`
	AspectRatio string            `json:"aspect_ratio,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	Reference   *Asset            `json:"-"`
	Params      map[string]string `json:"params,omitempty"`
}

// Asset is a reference input (e.g. a starting frame) attached to a request.
type Asset struct {
	Data        []byte
	ContentType string
	URL         string
}

// GenerationResult describes the outcome of a generation request.
type GenerationResult struct {
	ID             string            `json:"id"`
	ArtifactURL    string            `json:"artifact_url,omitempty"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	AccountID      string            `json:"account_id"`
	CreditsUsed    float64           `json:"credits_used"`
	Cost           float64           `json:"cost"`
	GenerationTime time.Duration     `json:"generation_time"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Success        bool              `json:"success"`
	Error          *ErrorInfo        `json:"error,omitempty"`
	Attempts       int               `json:"attempts"`
	Free           bool              `json:"free"`
}

// ErrorInfo is the serializable error descriptor carried by a failed result.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// ModelRef references a specific provider model.
type ModelRef struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

// IsZero reports whether the reference is unset.
func (m ModelRef) IsZero() bool { return m.Provider == "" }

func (m ModelRef) String() string { return m.Provider + ":" + m.Model }

// Route is the (provider, model) pair chosen by a routing strategy.
type Route struct {
	Provider string
	Model    string

	// FailoverFrom names the unhealthy primary this route substitutes for.
	// Empty when the route is the normal choice for the request.
	FailoverFrom string
}
