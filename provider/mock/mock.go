// Package mock provides scriptable generation providers for tests and
// examples.
package mock

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ineyio/genrouter"
)

// Provider is a mock generation provider. By default every Submit returns an
// artifact immediately.
type Provider struct {
	name         string
	latency      time.Duration
	failAfter    int
	staticErr    error
	artifactURL  string
	credits      *float64
	submitFunc   func(genrouter.SubmitRequest) (genrouter.SubmitResult, error)
	submitErrors []error
	pollErrors   []error
	states       []genrouter.JobState
	balances     map[string]float64

	callCount atomic.Int64
	pollCount atomic.Int64

	mu       sync.Mutex
	jobs     map[string]int // job id -> polls served
	requests []genrouter.SubmitRequest
}

var (
	_ genrouter.ProviderAdapter = (*Provider)(nil)
	_ genrouter.BalanceChecker  = (*Provider)(nil)
)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:        "mock",
		artifactURL: "https://mock.test/artifact.mp4",
		balances:    make(map[string]float64),
		jobs:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each Submit.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail with a 503 after N submits.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes every Submit return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithStatus makes every Submit fail with the given HTTP status.
func WithStatus(code int) Option {
	return WithError(&genrouter.StatusError{Code: code, Body: http.StatusText(code)})
}

// WithSubmitErrors scripts the outcome of successive Submit calls: call i
// returns errs[i], a nil entry succeeds. Calls past the script succeed.
func WithSubmitErrors(errs ...error) Option {
	return func(p *Provider) { p.submitErrors = errs }
}

// WithPollErrors scripts the outcome of successive Poll calls the same way.
func WithPollErrors(errs ...error) Option {
	return func(p *Provider) { p.pollErrors = errs }
}

// WithJob makes Submit return a job whose polls walk through states. The last
// state repeats once the script runs out.
func WithJob(states ...genrouter.JobState) Option {
	return func(p *Provider) { p.states = states }
}

// WithArtifact sets the artifact URL of successful generations.
func WithArtifact(url string) Option {
	return func(p *Provider) { p.artifactURL = url }
}

// WithCredits makes the provider report the credits it charged.
func WithCredits(c float64) Option {
	return func(p *Provider) { p.credits = &c }
}

// WithBalance sets the balance reported for the account holding token.
func WithBalance(token string, credits float64) Option {
	return func(p *Provider) { p.balances[token] = credits }
}

// WithSubmitFunc replaces the scripted Submit behavior.
func WithSubmitFunc(fn func(genrouter.SubmitRequest) (genrouter.SubmitResult, error)) Option {
	return func(p *Provider) { p.submitFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Submit(ctx context.Context, req genrouter.SubmitRequest) (genrouter.SubmitResult, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return genrouter.SubmitResult{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.staticErr != nil {
		return genrouter.SubmitResult{}, p.staticErr
	}
	if err := scripted(p.submitErrors, count); err != nil {
		return genrouter.SubmitResult{}, err
	}
	if p.failAfter > 0 && int(count) > p.failAfter {
		return genrouter.SubmitResult{}, &genrouter.StatusError{Code: http.StatusServiceUnavailable, Body: "mock unavailable"}
	}
	if p.submitFunc != nil {
		return p.submitFunc(req)
	}

	if len(p.states) > 0 {
		id := uuid.NewString()
		p.mu.Lock()
		p.jobs[id] = 0
		p.mu.Unlock()
		return genrouter.SubmitResult{JobID: id}, nil
	}
	return genrouter.SubmitResult{ArtifactURL: p.artifactURL, Credits: p.credits}, nil
}

func (p *Provider) Poll(ctx context.Context, req genrouter.PollRequest) (genrouter.PollResult, error) {
	count := p.pollCount.Add(1)
	if err := ctx.Err(); err != nil {
		return genrouter.PollResult{}, err
	}
	if err := scripted(p.pollErrors, count); err != nil {
		return genrouter.PollResult{}, err
	}

	p.mu.Lock()
	n, ok := p.jobs[req.JobID]
	if ok {
		p.jobs[req.JobID] = n + 1
	}
	p.mu.Unlock()
	if !ok || len(p.states) == 0 {
		return genrouter.PollResult{}, &genrouter.StatusError{Code: http.StatusNotFound, Body: "unknown job " + req.JobID}
	}

	state := p.states[min(n, len(p.states)-1)]
	res := genrouter.PollResult{State: state}
	switch state {
	case genrouter.JobCompleted:
		res.ArtifactURL = p.artifactURL
		res.Credits = p.credits
	case genrouter.JobFailed:
		res.Message = "mock job failed"
	}
	return res, nil
}

// Balance returns the balance configured for cred's token.
func (p *Provider) Balance(_ context.Context, cred genrouter.Credential) (float64, error) {
	bal, ok := p.balances[cred.Token]
	if !ok {
		return 0, errors.New("mock: no balance configured")
	}
	return bal, nil
}

// CallCount returns the number of Submit calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// PollCount returns the number of Poll calls made to the provider.
func (p *Provider) PollCount() int64 { return p.pollCount.Load() }

// Requests returns the submit requests received so far.
func (p *Provider) Requests() []genrouter.SubmitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]genrouter.SubmitRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func scripted(errs []error, call int64) error {
	if i := int(call) - 1; i < len(errs) {
		return errs[i]
	}
	return nil
}

// Pinger is a liveness probe whose result can be switched at runtime.
type Pinger struct {
	mu    sync.Mutex
	err   error
	calls int
}

var _ genrouter.Pinger = (*Pinger)(nil)

// SetError makes subsequent pings fail with err, or succeed when err is nil.
func (p *Pinger) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Pinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

// Calls returns the number of pings served.
func (p *Pinger) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
