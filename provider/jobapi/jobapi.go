// Package jobapi is a generic adapter for bearer-token REST generation APIs
// that follow the submit/poll job pattern:
//
//	POST {base}/generations       submit, returns an artifact or a job id
//	GET  {base}/generations/{id}  job status
//	GET  {base}/account/balance   remaining credits of the calling account
//	POST {base}/uploads           reference asset upload
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ineyio/genrouter"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 60 * time.Second
	maxErrorBody          = 1024
)

// Provider is a job-pattern REST adapter.
type Provider struct {
	name             string
	baseURL          string
	httpClient       *http.Client
	requireReference bool
}

var (
	_ genrouter.ProviderAdapter = (*Provider)(nil)
	_ genrouter.BalanceChecker  = (*Provider)(nil)
)

// Option configures the provider.
type Option func(*config)

type config struct {
	connectTimeout   time.Duration
	requestTimeout   time.Duration
	httpClient       *http.Client
	transport        http.RoundTripper
	requireReference bool
	signWith         string
	signing          bool
	nowFunc          func() time.Time
}

// WithHTTPClient sets a custom HTTP client. Timeouts and signing options are
// ignored when a client is supplied.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) { cfg.httpClient = c }
}

// WithTimeouts sets the TCP connect timeout and the total per-call timeout.
func WithTimeouts(connect, total time.Duration) Option {
	return func(cfg *config) {
		cfg.connectTimeout = connect
		cfg.requestTimeout = total
	}
}

// WithBaseTransport sets the underlying HTTP transport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(cfg *config) { cfg.transport = rt }
}

// WithRequireReference fails submissions whose reference upload fails instead
// of continuing without the reference.
func WithRequireReference() Option {
	return func(cfg *config) { cfg.requireReference = true }
}

// WithSigning authenticates by signature for networks that expect it. The
// account credential must then be a hex-encoded secp256k1 private key; it is
// never sent, and each request carries a signature over its method, path,
// timestamp and body, bound to nodeAddress.
func WithSigning(nodeAddress string) Option {
	return func(cfg *config) {
		cfg.signing = true
		cfg.signWith = nodeAddress
	}
}

// withNowFunc is unexported, used in tests for deterministic timestamps.
func withNowFunc(fn func() time.Time) Option {
	return func(cfg *config) { cfg.nowFunc = fn }
}

// New creates a provider named name talking to baseURL.
func New(name, baseURL string, opts ...Option) *Provider {
	cfg := &config{
		connectTimeout: defaultConnectTimeout,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := cfg.httpClient
	if client == nil {
		client = newHTTPClient(cfg)
	}

	return &Provider{
		name:             name,
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       client,
		requireReference: cfg.requireReference,
	}
}

// NewFromSpec creates a provider from its router configuration, taking the
// name, base URL, timeouts and signing node from spec.
func NewFromSpec(spec genrouter.ProviderSpec, opts ...Option) *Provider {
	var specOpts []Option
	if spec.SigningNode != "" {
		specOpts = append(specOpts, WithSigning(spec.SigningNode))
	}
	if spec.ConnectTimeout > 0 || spec.RequestTimeout > 0 {
		connect, total := spec.ConnectTimeout, spec.RequestTimeout
		if connect <= 0 {
			connect = defaultConnectTimeout
		}
		if total <= 0 {
			total = defaultRequestTimeout
		}
		specOpts = append(specOpts, WithTimeouts(connect, total))
	}
	return New(spec.Name, spec.BaseURL, append(specOpts, opts...)...)
}

func newHTTPClient(cfg *config) *http.Client {
	base := cfg.transport
	if base == nil {
		dialer := &net.Dialer{Timeout: cfg.connectTimeout, KeepAlive: 30 * time.Second}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = dialer.DialContext
		t.TLSHandshakeTimeout = cfg.connectTimeout
		base = t
	}
	if cfg.signing {
		base = &signingTransport{next: base, signer: newSigner(cfg.signWith, cfg.nowFunc)}
	}
	return &http.Client{Transport: base, Timeout: cfg.requestTimeout}
}

func (p *Provider) Name() string { return p.name }

// apiSubmit is the generation request format.
type apiSubmit struct {
	Model        string            `json:"model"`
	Prompt       string            `json:"prompt"`
	Platform     string            `json:"platform,omitempty"`
	Tier         string            `json:"tier,omitempty"`
	DurationSecs float64           `json:"duration_seconds,omitempty"`
	AspectRatio  string            `json:"aspect_ratio,omitempty"`
	Priority     int               `json:"priority,omitempty"`
	ReferenceURL string            `json:"reference_url,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
}

// apiJob is the response of both submit and status calls.
type apiJob struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	ArtifactURL string            `json:"artifact_url"`
	Error       string            `json:"error"`
	Credits     *float64          `json:"credits"`
	Metadata    map[string]string `json:"metadata"`
}

type apiBalance struct {
	Credits float64 `json:"credits"`
}

type apiUpload struct {
	URL string `json:"url"`
}

// Submit starts a generation. A reference asset is uploaded first; if the
// upload fails the generation continues without it unless the provider was
// built WithRequireReference.
func (p *Provider) Submit(ctx context.Context, req genrouter.SubmitRequest) (genrouter.SubmitResult, error) {
	gr := req.Request
	body := apiSubmit{
		Model:        req.Model,
		Prompt:       gr.Prompt,
		Platform:     gr.Platform,
		Tier:         string(gr.Tier),
		DurationSecs: gr.Duration.Seconds(),
		AspectRatio:  gr.AspectRatio,
		Priority:     gr.Priority,
		Params:       gr.Params,
	}

	var meta map[string]string
	if ref := gr.Reference; ref != nil {
		refURL, err := p.reference(ctx, req.Credential, ref)
		switch {
		case err == nil:
			body.ReferenceURL = refURL
		case p.requireReference:
			return genrouter.SubmitResult{}, fmt.Errorf("jobapi: reference upload: %w", err)
		default:
			meta = map[string]string{"reference_dropped": err.Error()}
		}
	}

	var job apiJob
	if err := p.doJSON(ctx, http.MethodPost, "/generations", req.Credential, body, &job); err != nil {
		return genrouter.SubmitResult{}, err
	}

	res := genrouter.SubmitResult{
		ArtifactURL: job.ArtifactURL,
		Credits:     job.Credits,
		Metadata:    mergeMeta(meta, job.Metadata),
	}
	switch mapState(job.Status) {
	case genrouter.JobCompleted:
		if job.ArtifactURL != "" {
			return res, nil
		}
	case genrouter.JobFailed:
		return genrouter.SubmitResult{}, &genrouter.JobError{JobID: job.ID, Message: job.Error}
	}
	if job.ID == "" {
		return genrouter.SubmitResult{}, fmt.Errorf("%w: jobapi: submit response has neither artifact nor job id", genrouter.ErrTransient)
	}
	res.JobID = job.ID
	return res, nil
}

// Poll returns the state of a job.
func (p *Provider) Poll(ctx context.Context, req genrouter.PollRequest) (genrouter.PollResult, error) {
	var job apiJob
	path := "/generations/" + url.PathEscape(req.JobID)
	if err := p.doJSON(ctx, http.MethodGet, path, req.Credential, nil, &job); err != nil {
		return genrouter.PollResult{}, err
	}
	return genrouter.PollResult{
		State:       mapState(job.Status),
		ArtifactURL: job.ArtifactURL,
		Message:     job.Error,
		Credits:     job.Credits,
		Metadata:    job.Metadata,
	}, nil
}

// Balance returns the credits remaining on the account behind cred.
func (p *Provider) Balance(ctx context.Context, cred genrouter.Credential) (float64, error) {
	var bal apiBalance
	if err := p.doJSON(ctx, http.MethodGet, "/account/balance", cred, nil, &bal); err != nil {
		return 0, err
	}
	return bal.Credits, nil
}

func (p *Provider) reference(ctx context.Context, cred genrouter.Credential, ref *genrouter.Asset) (string, error) {
	if len(ref.Data) == 0 {
		if ref.URL != "" {
			return ref.URL, nil
		}
		return "", fmt.Errorf("jobapi: empty reference asset")
	}

	contentType := ref.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(ref.Data)
	}
	httpResp, err := p.do(ctx, http.MethodPost, "/uploads", cred, contentType, bytes.NewReader(ref.Data))
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return "", err
	}
	var up apiUpload
	if err := json.NewDecoder(httpResp.Body).Decode(&up); err != nil {
		return "", fmt.Errorf("jobapi: decode upload response: %w", err)
	}
	if up.URL == "" {
		return "", fmt.Errorf("jobapi: upload response has no url")
	}
	return up.URL, nil
}

func (p *Provider) doJSON(ctx context.Context, method, path string, cred genrouter.Credential, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("jobapi: marshal request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
		contentType = "application/json"
	}

	httpResp, err := p.do(ctx, method, path, cred, contentType, body)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return err
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: jobapi: decode response: %v", genrouter.ErrTransient, err)
	}
	return nil
}

func (p *Provider) do(ctx context.Context, method, path string, cred genrouter.Credential, contentType string, body io.Reader) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("jobapi: create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jobapi: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// mapHTTPError converts a non-2xx response into a *genrouter.StatusError,
// which classifies itself against the router's error kinds.
func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &genrouter.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// mapState folds provider status vocabularies onto the four job states.
// Unknown statuses count as still processing.
func mapState(status string) genrouter.JobState {
	switch strings.ToLower(status) {
	case "queued", "pending", "submitted", "waiting":
		return genrouter.JobPending
	case "completed", "succeeded", "success", "done", "finished":
		return genrouter.JobCompleted
	case "failed", "error", "cancelled", "canceled", "rejected":
		return genrouter.JobFailed
	default:
		return genrouter.JobProcessing
	}
}

func mergeMeta(a, b map[string]string) map[string]string {
	if len(a) == 0 {
		return b
	}
	out := make(map[string]string, len(a)+len(b))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}
