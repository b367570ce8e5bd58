package genrouter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultHealthCheckInterval = 2 * time.Minute
	defaultAccountRecovery     = 5 * time.Minute
	healthCheckConcurrency     = 8
	rateLimitCooldown          = time.Minute
)

// AccountPool holds the accounts of every provider, selects one per request
// and tracks per-account health and credits. All account state is guarded by a
// single mutex shared by foreground updates and the background health check.
type AccountPool struct {
	mu        sync.Mutex
	specs     map[string]ProviderSpec
	accounts  map[string][]*Account // by provider, in config order
	byID      map[string]*Account
	selector  Selector
	emergency map[string]bool
	balances  map[string]BalanceChecker
	recovery  time.Duration
	day       time.Time

	now    func() time.Time
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PoolOption configures an AccountPool.
type PoolOption func(*AccountPool)

// WithSelector sets the account selection strategy.
func WithSelector(s Selector) PoolOption {
	return func(p *AccountPool) { p.selector = s }
}

// WithPoolClock overrides the clock, used by tests.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *AccountPool) { p.now = now }
}

// WithPoolLogger sets the logger for status transitions and health checks.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *AccountPool) { p.logger = l }
}

// WithBalanceChecker registers the authoritative balance source for provider.
func WithBalanceChecker(provider string, bc BalanceChecker) PoolOption {
	return func(p *AccountPool) { p.balances[provider] = bc }
}

// WithAccountRecovery sets how long a failing account whose balance could not
// be looked up rests before a health check clears its error streak.
func WithAccountRecovery(d time.Duration) PoolOption {
	return func(p *AccountPool) { p.recovery = d }
}

// NewAccountPool creates a pool from provider specs and account configs.
func NewAccountPool(specs []ProviderSpec, accounts []AccountConfig, opts ...PoolOption) (*AccountPool, error) {
	p := &AccountPool{
		specs:     make(map[string]ProviderSpec, len(specs)),
		accounts:  make(map[string][]*Account),
		byID:      make(map[string]*Account, len(accounts)),
		emergency: make(map[string]bool),
		balances:  make(map[string]BalanceChecker),
		recovery:  defaultAccountRecovery,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, s := range specs {
		p.specs[s.Name] = s
	}

	for _, cfg := range accounts {
		if _, ok := p.specs[cfg.Provider]; !ok {
			return nil, fmt.Errorf("%w %q for account %q", ErrUnknownProvider, cfg.Provider, cfg.ID)
		}
		if _, dup := p.byID[cfg.ID]; dup {
			return nil, fmt.Errorf("genrouter: duplicate account id %q", cfg.ID)
		}
		a := newAccount(cfg)
		p.accounts[cfg.Provider] = append(p.accounts[cfg.Provider], a)
		p.byID[cfg.ID] = a
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.selector == nil {
		p.selector = &defaultRoundRobin{}
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	now := p.now()
	p.day = midnight(now)
	for _, a := range p.byID {
		a.recompute(p.specs[a.Provider], now)
	}
	return p, nil
}

// Spec returns the provider spec registered under name.
func (p *AccountPool) Spec(name string) (ProviderSpec, bool) {
	s, ok := p.specs[name]
	return s, ok
}

// Providers returns the registered provider names, sorted.
func (p *AccountPool) Providers() []string {
	names := make([]string, 0, len(p.specs))
	for n := range p.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetAccount selects an account of provider able to serve capability. When
// preferFree is set, accounts serving the capability at no credit cost win
// over paid ones. The second result is false when no account is eligible.
func (p *AccountPool) GetAccount(provider, capability string, preferFree bool) (Account, bool) {
	c, ok := p.acquire(provider, capability, preferFree, nil)
	return c.Account, ok
}

// acquire is GetAccount with an exclusion set, used for in-request rotation.
func (p *AccountPool) acquire(provider, capability string, wantFree bool, skip map[string]bool) (Candidate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.maybeResetDay(now)

	spec, ok := p.specs[provider]
	if !ok {
		return Candidate{}, false
	}
	accs := p.accounts[provider]
	for _, a := range accs {
		if a.Status == StatusRateLimited {
			p.transition(a, spec, now)
		}
	}

	eligible := eligibleCandidates(accs, spec, capability, skip)
	if len(eligible) == 0 {
		return Candidate{}, false
	}
	if wantFree {
		eligible = preferFree(eligible)
	}

	chosen := p.selector.Select(eligible)
	a := p.byID[chosen.Account.ID]
	a.LastUsed = now
	a.RequestsToday++
	chosen.Account = a.snapshot()
	return chosen, true
}

// UpdateAfterUse records the outcome of a call made with an account. On
// success the credits are debited (never below zero) and the error streak is
// cleared; on failure the streak grows and the status state machine applies.
func (p *AccountPool) UpdateAfterUse(accountID string, success bool, creditsUsed float64) error {
	if success {
		return p.recordSuccess(accountID, creditsUsed)
	}
	return p.recordFailure(accountID, nil)
}

func (p *AccountPool) recordSuccess(accountID string, creditsUsed float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byID[accountID]
	if !ok {
		return fmt.Errorf("genrouter: unknown account %q", accountID)
	}
	a.Credits -= creditsUsed
	if a.Credits < 0 {
		a.Credits = 0
	}
	a.ConsecutiveErrors = 0
	a.RateLimitedUntil = time.Time{}
	a.LastError = ""
	p.transition(a, p.specs[a.Provider], p.now())
	return nil
}

func (p *AccountPool) recordFailure(accountID string, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byID[accountID]
	if !ok {
		return fmt.Errorf("genrouter: unknown account %q", accountID)
	}
	now := p.now()
	a.ConsecutiveErrors++
	a.LastFailure = now
	if cause != nil {
		a.LastError = cause.Error()
	}
	p.transition(a, p.specs[a.Provider], now)
	return nil
}

// MarkRateLimited takes an account out of rotation until the given time. A
// zero until applies the default cooldown.
func (p *AccountPool) MarkRateLimited(accountID string, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byID[accountID]
	if !ok {
		return
	}
	now := p.now()
	if until.IsZero() {
		until = now.Add(rateLimitCooldown)
	}
	a.RateLimitedUntil = until
	p.transition(a, p.specs[a.Provider], now)
}

// MarkQuotaExhausted records that the provider refused the account for lack
// of credit. Its paid capabilities stay unusable until a health check reports
// a fresh balance.
func (p *AccountPool) MarkQuotaExhausted(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byID[accountID]
	if !ok {
		return
	}
	a.Credits = 0
	p.logger.Warn("account quota exhausted", "account", a.ID, "provider", a.Provider)
	p.transition(a, p.specs[a.Provider], p.now())
}

// EnterEmergencyMode narrows every account of provider to its free
// capabilities. Declared capabilities are untouched and restored on exit.
func (p *AccountPool) EnterEmergencyMode(provider string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	spec, ok := p.specs[provider]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	if p.emergency[provider] {
		return nil
	}
	now := p.now()
	for _, a := range p.accounts[provider] {
		a.ActiveCapabilities = a.freeSubset(spec)
		p.transition(a, spec, now)
	}
	p.emergency[provider] = true
	p.logger.Warn("emergency mode entered", "provider", provider)
	return nil
}

// ExitEmergencyMode restores the declared capabilities of provider's accounts.
func (p *AccountPool) ExitEmergencyMode(provider string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	spec, ok := p.specs[provider]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	if !p.emergency[provider] {
		return nil
	}
	now := p.now()
	for _, a := range p.accounts[provider] {
		a.ActiveCapabilities = slices.Clone(a.DeclaredCapabilities)
		p.transition(a, spec, now)
	}
	delete(p.emergency, provider)
	p.logger.Info("emergency mode exited", "provider", provider)
	return nil
}

// InEmergencyMode reports whether provider is narrowed to free capabilities.
func (p *AccountPool) InEmergencyMode(provider string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emergency[provider]
}

// HasAvailable reports whether provider has at least one HEALTHY account.
func (p *AccountPool) HasAvailable(provider string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts[provider] {
		if a.Status == StatusHealthy {
			return true
		}
	}
	return false
}

// Accounts returns a snapshot of every account, sorted by provider then id.
func (p *AccountPool) Accounts() []Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Account, 0, len(p.byID))
	for _, a := range p.byID {
		out = append(out, a.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AccountsFor returns snapshots of provider's accounts in config order.
func (p *AccountPool) AccountsFor(provider string) []Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	accs := p.accounts[provider]
	out := make([]Account, 0, len(accs))
	for _, a := range accs {
		out = append(out, a.snapshot())
	}
	return out
}

// Account returns a snapshot of one account.
func (p *AccountPool) Account(id string) (Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[id]
	if !ok {
		return Account{}, false
	}
	return a.snapshot(), true
}

type balanceProbe struct {
	accountID string
	checker   BalanceChecker
	cred      Credential
}

// RunHealthCheck refreshes authoritative balances from providers that report
// them, recomputes every account status from credits, error streak and
// rate-limit window, and resets daily request counters at local midnight.
// Balance lookup failures are returned joined but do not stop the check.
//
// This is also how failing accounts come back: a successful balance lookup
// clears the error streak, and accounts without a fresh balance (no checker,
// or the lookup failed) are cleared once the recovery window has passed since
// their last failure.
func (p *AccountPool) RunHealthCheck(ctx context.Context) error {
	p.mu.Lock()
	var probes []balanceProbe
	for provider, bc := range p.balances {
		for _, a := range p.accounts[provider] {
			probes = append(probes, balanceProbe{accountID: a.ID, checker: bc, cred: a.Credential})
		}
	}
	p.mu.Unlock()

	var (
		resMu    sync.Mutex
		balances = make(map[string]float64, len(probes))
		errs     []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthCheckConcurrency)
	for _, pr := range probes {
		g.Go(func() error {
			bal, err := pr.checker.Balance(gctx, pr.cred)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("genrouter: balance %s: %w", pr.accountID, err))
				return nil
			}
			balances[pr.accountID] = bal
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.maybeResetDay(now)
	for id, bal := range balances {
		if a, ok := p.byID[id]; ok {
			a.Credits = bal
			p.clearStreak(a)
		}
	}
	for _, a := range p.byID {
		if _, fresh := balances[a.ID]; !fresh && a.ConsecutiveErrors > 0 && now.Sub(a.LastFailure) >= p.recovery {
			p.clearStreak(a)
		}
		p.transition(a, p.specs[a.Provider], now)
	}

	if err := errors.Join(errs...); err != nil {
		p.logger.Warn("health check balance errors", "error", err)
		return err
	}
	return ctx.Err()
}

// Start runs RunHealthCheck every interval until Stop is called or ctx ends.
func (p *AccountPool) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}
	p.logger.Info("account health checks started", "interval", interval)
	p.wg.Add(1)
	go p.checkLoop(ctx, interval)
}

// Stop signals the health-check loop and waits for it to exit.
func (p *AccountPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *AccountPool) checkLoop(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.safeHealthCheck(ctx)
		}
	}
}

func (p *AccountPool) safeHealthCheck(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in account health check", "panic", r)
		}
	}()
	_ = p.RunHealthCheck(ctx)
}

// transition recomputes an account status and logs changes. Must be called
// with the lock held.
func (p *AccountPool) transition(a *Account, spec ProviderSpec, now time.Time) {
	prev := a.Status
	a.recompute(spec, now)
	if a.Status != prev {
		p.logger.Info("account status changed",
			"account", a.ID,
			"provider", a.Provider,
			"from", prev,
			"to", a.Status,
			"consecutive_errors", a.ConsecutiveErrors,
			"credits", a.Credits,
		)
	}
}

// clearStreak forgets an account's failures. Must be called with the lock
// held.
func (p *AccountPool) clearStreak(a *Account) {
	if a.ConsecutiveErrors >= degradedThreshold {
		p.logger.Info("account recovered", "account", a.ID, "provider", a.Provider, "consecutive_errors", a.ConsecutiveErrors)
	}
	a.ConsecutiveErrors = 0
}

// maybeResetDay zeroes daily counters when the local date changed. Must be
// called with the lock held.
func (p *AccountPool) maybeResetDay(now time.Time) {
	today := midnight(now)
	if today.Equal(p.day) {
		return
	}
	for _, a := range p.byID {
		a.RequestsToday = 0
	}
	p.day = today
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
