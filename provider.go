package genrouter

import "context"

// ProviderAdapter is the interface that generation backend integrations must
// implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "kling", "veo", "pollinations").
	Name() string

	// Submit starts a generation. Synchronous providers return the artifact
	// directly; asynchronous ones return a job id to poll.
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)

	// Poll returns the current state of a previously submitted job.
	Poll(ctx context.Context, req PollRequest) (PollResult, error)
}

// BalanceChecker is implemented by adapters that can report an authoritative
// credit balance for an account.
type BalanceChecker interface {
	Balance(ctx context.Context, cred Credential) (float64, error)
}

// Pinger is implemented by adapters that expose a cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Credential holds authentication material for a provider account.
type Credential struct {
	Token string `yaml:"credential" json:"-"`
}

// SubmitRequest is the request sent to a provider adapter.
type SubmitRequest struct {
	Credential Credential
	Model      string
	Request    GenerationRequest
}

// SubmitResult is either an immediate artifact or a job handle.
type SubmitResult struct {
	JobID       string
	ArtifactURL string
	Credits     *float64 // provider-reported credits, when available
	Metadata    map[string]string
}

// Immediate reports whether the artifact was returned without a job.
func (r SubmitResult) Immediate() bool { return r.JobID == "" && r.ArtifactURL != "" }

// PollRequest asks a provider for the state of a job.
type PollRequest struct {
	Credential Credential
	Model      string
	JobID      string
}

// JobState is the four-state polling contract every provider maps onto.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Terminal reports whether no further polling is needed.
func (s JobState) Terminal() bool { return s == JobCompleted || s == JobFailed }

// PollResult is the response from Poll.
type PollResult struct {
	State       JobState
	ArtifactURL string
	Message     string
	Credits     *float64
	Metadata    map[string]string
}
