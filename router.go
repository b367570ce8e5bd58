package genrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Router routes generation requests across providers and their account pools.
type Router struct {
	cfg        Config
	adapters   map[string]ProviderAdapter
	pool       *AccountPool
	health     *HealthMonitor
	ledger     *UsageLedger
	meter      Meter
	state      *RouterState
	strategies map[string]RoutingStrategy
	selector   Selector
	now        func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithPool sets the account pool. By default one is built from the config.
func WithPool(p *AccountPool) Option {
	return func(r *Router) { r.pool = p }
}

// WithAccountSelector sets the account selection strategy of the default
// pool. It is required when the config names a selection other than
// round_robin and no pool is supplied; the policy package maps names to
// selectors.
func WithAccountSelector(sel Selector) Option {
	return func(r *Router) { r.selector = sel }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// WithLedger sets the usage ledger.
func WithLedger(l *UsageLedger) Option {
	return func(r *Router) { r.ledger = l }
}

// WithHealthMonitor sets the provider health monitor.
func WithHealthMonitor(h *HealthMonitor) Option {
	return func(r *Router) { r.health = h }
}

// WithStrategy registers a routing strategy under its name, replacing a
// built-in of the same name.
func WithStrategy(s RoutingStrategy) Option {
	return func(r *Router) { r.strategies[s.Name()] = s }
}

// WithClock overrides the clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a new Router with the given config and adapters.
// Adapters are registered by Name. A pool, health monitor, ledger and meter
// are built from the config unless supplied via options.
func NewRouter(cfg Config, adapters []ProviderAdapter, opts ...Option) (*Router, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("genrouter: at least one provider adapter is required")
	}

	byName := make(map[string]ProviderAdapter, len(adapters))
	for _, a := range adapters {
		if _, dup := byName[a.Name()]; dup {
			return nil, fmt.Errorf("genrouter: duplicate provider adapter %q", a.Name())
		}
		byName[a.Name()] = a
	}

	r := &Router{
		cfg:        cfg,
		adapters:   byName,
		state:      NewRouterState(),
		strategies: builtinStrategies(cfg.Routing),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	// Apply defaults after options.
	if r.meter == nil {
		r.meter = &noopMeter{}
	}
	if r.pool == nil {
		popts := []PoolOption{WithPoolClock(r.now)}
		switch {
		case r.selector != nil:
			popts = append(popts, WithSelector(r.selector))
		case cfg.Selection != "" && cfg.Selection != selectionRoundRobin:
			return nil, fmt.Errorf("genrouter: selection %q needs WithAccountSelector or WithPool", cfg.Selection)
		}
		for name, a := range byName {
			if bc, ok := a.(BalanceChecker); ok {
				popts = append(popts, WithBalanceChecker(name, bc))
			}
		}
		pool, err := NewAccountPool(cfg.Providers, cfg.Accounts, popts...)
		if err != nil {
			return nil, err
		}
		r.pool = pool
	}
	if r.health == nil {
		hopts := []HealthOption{WithHealthClock(r.now)}
		if cfg.HealthCheckInterval > 0 {
			hopts = append(hopts, WithRefreshInterval(cfg.HealthCheckInterval))
		}
		for name, a := range byName {
			if p, ok := a.(Pinger); ok {
				hopts = append(hopts, WithPinger(name, p))
			}
		}
		r.health = NewHealthMonitor(r.pool, hopts...)
	}
	if r.ledger == nil {
		r.ledger = NewUsageLedger(WithLedgerMeter(r.meter))
	}

	for _, ref := range []ModelRef{cfg.Routing.Primary, cfg.Routing.Alternate, cfg.Routing.Free, cfg.Routing.Premium} {
		if ref.IsZero() {
			continue
		}
		if _, ok := byName[ref.Provider]; !ok {
			return nil, fmt.Errorf("%w %q: routing target has no adapter", ErrUnknownProvider, ref.Provider)
		}
	}

	return r, nil
}

// Pool returns the router's account pool.
func (r *Router) Pool() *AccountPool { return r.pool }

// Health returns the router's provider health monitor.
func (r *Router) Health() *HealthMonitor { return r.health }

// Ledger returns the router's usage ledger.
func (r *Router) Ledger() *UsageLedger { return r.ledger }

// State returns the router's failover state.
func (r *Router) State() *RouterState { return r.state }

// generation carries the attempts of one Generate call.
type generation struct {
	strategy string
	req      GenerationRequest
	tier     Tier
	start    time.Time
	attempts []Attempt
	tried    map[string]bool
}

// Generate routes req with the named strategy (the configured default when
// empty) and returns the result. All in-process fallback happens here: account
// rotation on quota and rate-limit errors, then one last-resort attempt on the
// free provider once the routed provider has nothing left to offer. Failed requests return a result
// carrying the error descriptor together with a *GenerationError.
func (r *Router) Generate(ctx context.Context, req GenerationRequest, strategy string) (GenerationResult, error) {
	if strategy == "" {
		strategy = r.cfg.Strategy
	}
	if strategy == "" {
		strategy = StrategyBalanced
	}
	g := &generation{
		strategy: strategy,
		req:      req,
		start:    r.now(),
		tried:    make(map[string]bool),
	}

	r.health.Refresh(ctx)

	strat, ok := r.strategies[strategy]
	if !ok {
		return r.fail(g, fmt.Errorf("%w: %w %q", ErrPermanent, ErrUnknownStrategy, strategy))
	}
	tier, err := requestTier(req)
	if err != nil {
		return r.fail(g, err)
	}
	g.tier = tier

	route, err := strat.Route(req, r.health.Snapshot())
	if err != nil {
		return r.fail(g, err)
	}
	if route.FailoverFrom != "" {
		r.activateFailover(route.FailoverFrom, route.Provider)
	}

	res, err := r.tryProvider(ctx, g, route)
	if err == nil {
		return res, nil
	}
	if !r.wantsLastResort(ctx, err) {
		return r.fail(g, err)
	}

	free := r.cfg.Routing.Free
	if free.IsZero() || g.tried[free.Provider] {
		return r.fail(g, err)
	}
	res, ferr := r.tryProvider(ctx, g, Route{Provider: free.Provider, Model: free.Model})
	if ferr == nil {
		return res, nil
	}
	if errors.Is(ferr, ErrPoolExhausted) {
		// The original failure is more informative than the empty free pool.
		return r.fail(g, err)
	}
	return r.fail(g, ferr)
}

func (r *Router) wantsLastResort(ctx context.Context, err error) bool {
	if isCallerDone(ctx, err) {
		return false
	}
	switch {
	case errors.Is(err, ErrPoolExhausted), errors.Is(err, ErrPermanent):
		return false
	default:
		return true
	}
}

// tryProvider runs the request against route's provider, rotating accounts
// on quota and rate-limit errors. It returns ErrPoolExhausted when no account
// was eligible at all.
func (r *Router) tryProvider(ctx context.Context, g *generation, route Route) (GenerationResult, error) {
	g.tried[route.Provider] = true

	adapter, ok := r.adapters[route.Provider]
	if !ok {
		return GenerationResult{}, fmt.Errorf("%w: %w %q", ErrPermanent, ErrUnknownProvider, route.Provider)
	}
	spec, _ := r.pool.Spec(route.Provider)
	wantFree := g.tier == TierVolume

	skip := make(map[string]bool)
	var lastErr error
	for {
		c, ok := r.pool.acquire(route.Provider, route.Model, wantFree, skip)
		if !ok {
			if lastErr != nil {
				return GenerationResult{}, lastErr
			}
			return GenerationResult{}, fmt.Errorf("%w: provider %s capability %s", ErrPoolExhausted, route.Provider, route.Model)
		}
		skip[c.Account.ID] = true

		r.meter.OnRoute(RouteEvent{
			Strategy:     g.strategy,
			Provider:     route.Provider,
			AccountID:    c.Account.ID,
			Model:        route.Model,
			Tier:         g.tier,
			Free:         c.Free,
			AttemptNum:   len(g.attempts) + 1,
			FailoverFrom: route.FailoverFrom,
		})

		attemptStart := r.now()
		out, err := r.execute(ctx, adapter, spec, c, route.Model, g.req)
		latency := r.now().Sub(attemptStart)

		if err == nil {
			return r.succeed(ctx, g, route, spec, c, out, latency), nil
		}

		status, _ := statusOf(err)
		g.attempts = append(g.attempts, Attempt{
			Provider:  route.Provider,
			AccountID: c.Account.ID,
			Model:     route.Model,
			Status:    status,
			Error:     err.Error(),
			Latency:   latency,
		})
		r.meter.OnResult(ResultEvent{
			Provider:  route.Provider,
			AccountID: c.Account.ID,
			Model:     route.Model,
			Free:      c.Free,
			Duration:  latency,
			Error:     err,
		})
		lastErr = err

		switch {
		case isCallerDone(ctx, err):
			return GenerationResult{}, err

		case errors.Is(err, ErrQuotaExhausted):
			r.pool.MarkQuotaExhausted(c.Account.ID)
			r.ledger.RecordFailure(route.Provider, route.Model)
			continue

		case errors.Is(err, ErrRateLimited):
			r.pool.MarkRateLimited(c.Account.ID, time.Time{})
			r.ledger.RecordFailure(route.Provider, route.Model)
			continue

		case errors.Is(err, ErrPermanent):
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				_ = r.pool.recordFailure(c.Account.ID, err)
			}
			r.ledger.RecordFailure(route.Provider, route.Model)
			return GenerationResult{}, err

		default:
			_ = r.pool.recordFailure(c.Account.ID, err)
			r.health.RecordFailure(route.Provider)
			r.ledger.RecordFailure(route.Provider, route.Model)
			return GenerationResult{}, err
		}
	}
}

// jobOutcome is the terminal state of a submitted generation.
type jobOutcome struct {
	artifactURL string
	credits     *float64
	metadata    map[string]string
}

// execute submits the request and, for asynchronous providers, polls the job
// to completion. Every provider call runs under the provider's RetryPolicy.
func (r *Router) execute(ctx context.Context, adapter ProviderAdapter, spec ProviderSpec, c Candidate, model string, req GenerationRequest) (jobOutcome, error) {
	policy := NewRetryPolicy(spec.Retry)
	cred := c.Account.Credential

	var sub SubmitResult
	err := policy.Execute(ctx, func(ctx context.Context) error {
		var err error
		sub, err = adapter.Submit(ctx, SubmitRequest{Credential: cred, Model: model, Request: req})
		return err
	})
	if err != nil {
		return jobOutcome{}, err
	}

	if sub.JobID == "" {
		if sub.ArtifactURL == "" {
			return jobOutcome{}, fmt.Errorf("%w: %s returned neither artifact nor job", ErrTransient, adapter.Name())
		}
		return jobOutcome{artifactURL: sub.ArtifactURL, credits: sub.Credits, metadata: sub.Metadata}, nil
	}

	poll := func(ctx context.Context) (PollResult, error) {
		var res PollResult
		err := policy.Execute(ctx, func(ctx context.Context) error {
			var err error
			res, err = adapter.Poll(ctx, PollRequest{Credential: cred, Model: model, JobID: sub.JobID})
			return err
		})
		return res, err
	}
	res, err := awaitJob(ctx, sub.JobID, poll, spec.pollInterval(), spec.pollTimeout())
	if err != nil {
		return jobOutcome{}, err
	}

	credits := res.Credits
	if credits == nil {
		credits = sub.Credits
	}
	meta := mergeMetadata(sub.Metadata, res.Metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["job_id"] = sub.JobID
	return jobOutcome{artifactURL: res.ArtifactURL, credits: credits, metadata: meta}, nil
}

func (r *Router) succeed(ctx context.Context, g *generation, route Route, spec ProviderSpec, c Candidate, out jobOutcome, latency time.Duration) GenerationResult {
	credits := spec.CreditsFor(route.Model, g.req.Duration)
	if out.credits != nil {
		credits = *out.credits
	}
	if c.Free {
		credits = 0
	}
	cost := spec.Cost(credits)

	_ = r.pool.recordSuccess(c.Account.ID, credits)
	r.health.RecordSuccess(route.Provider)
	r.restoreFailover(route.Provider)

	g.attempts = append(g.attempts, Attempt{
		Provider:  route.Provider,
		AccountID: c.Account.ID,
		Model:     route.Model,
		Latency:   latency,
	})

	res := GenerationResult{
		ID:             uuid.NewString(),
		ArtifactURL:    out.artifactURL,
		Provider:       route.Provider,
		Model:          route.Model,
		AccountID:      c.Account.ID,
		CreditsUsed:    credits,
		Cost:           cost,
		GenerationTime: r.now().Sub(g.start),
		Metadata:       out.metadata,
		Success:        true,
		Attempts:       len(g.attempts),
		Free:           c.Free,
	}

	r.meter.OnResult(ResultEvent{
		Provider:  route.Provider,
		AccountID: c.Account.ID,
		Model:     route.Model,
		Free:      c.Free,
		Success:   true,
		Duration:  latency,
		Credits:   credits,
		Cost:      cost,
	})
	r.ledger.Record(ctx, UsageRecord{
		ID:        res.ID,
		Time:      r.now(),
		Provider:  route.Provider,
		Model:     route.Model,
		AccountID: c.Account.ID,
		Tier:      g.tier,
		Credits:   credits,
		Cost:      cost,
		Duration:  g.req.Duration,
		Free:      c.Free,
	})
	return res
}

// fail builds the failed result and its *GenerationError.
func (r *Router) fail(g *generation, err error) (GenerationResult, error) {
	ge := &GenerationError{
		Kind:     errorKind(err),
		Attempts: g.attempts,
		Elapsed:  r.now().Sub(g.start),
		Err:      err,
	}
	ge.LastStatus, ge.LastMessage = statusOf(err)
	if ge.LastMessage == "" {
		ge.LastMessage = err.Error()
	}
	return GenerationResult{
		ID:             uuid.NewString(),
		GenerationTime: ge.Elapsed,
		Success:        false,
		Error:          ge.Info(),
		Attempts:       len(g.attempts),
	}, ge
}

// errorKind maps a failure onto one of the five caller-facing kinds.
// Cancellation by the caller counts as a timeout.
func errorKind(err error) error {
	switch {
	case errors.Is(err, ErrPoolExhausted):
		return ErrPoolExhausted
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrTimeout
	case errors.Is(err, ErrQuotaExhausted):
		return ErrQuotaExhausted
	case errors.Is(err, ErrPermanent):
		return ErrPermanent
	default:
		return ErrTransient
	}
}

func (r *Router) activateFailover(primary, alternate string) {
	if !r.state.Activate(primary, alternate) {
		return
	}
	r.ledger.RecordFailover()
	r.meter.OnFailover(FailoverEvent{Primary: primary, Alternate: alternate, Active: true})
}

func (r *Router) restoreFailover(provider string) {
	for _, p := range r.state.Restore(provider) {
		r.ledger.RecordRestoration()
		r.meter.OnFailover(FailoverEvent{Primary: p.Primary, Alternate: p.Alternate, Active: false})
	}
}

func mergeMetadata(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
