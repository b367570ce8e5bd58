package genrouter

import (
	"context"
	"errors"
	"net"
	"time"
)

// RetryConfig is the YAML form of a RetryPolicy. A nil MaxRetries takes the
// default; an explicit 0 disables retrying.
type RetryConfig struct {
	MaxRetries *int            `yaml:"max_retries" json:"max_retries" validate:"omitempty,gte=0"`
	Delays     []time.Duration `yaml:"delays" json:"delays"`
}

// Retries returns a pointer to n for RetryConfig.MaxRetries.
func Retries(n int) *int { return &n }

// DefaultRetryDelays is the backoff schedule used when none is configured.
var DefaultRetryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// RetryPolicy retries an operation with a fixed delay schedule while its
// failures are classified as transient.
type RetryPolicy struct {
	MaxRetries int
	Delays     []time.Duration

	// Retryable classifies an error. Defaults to DefaultRetryable.
	Retryable func(error) bool

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy from config, filling defaults.
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	p := RetryPolicy{MaxRetries: len(DefaultRetryDelays), Delays: cfg.Delays}
	if cfg.MaxRetries != nil {
		p.MaxRetries = *cfg.MaxRetries
	}
	if len(p.Delays) == 0 {
		p.Delays = DefaultRetryDelays
	}
	return p
}

// DefaultRetryable treats transient provider errors and network failures as
// retryable. Validation, auth, quota and rate-limit failures are not.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Delay returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// Execute runs op until it succeeds, fails permanently, or MaxRetries retries
// have been spent. Failures come back as *RetryError.
func (p RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		attempts++
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == p.MaxRetries {
			break
		}

		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			break
		}
	}

	status, body := statusOf(lastErr)
	return &RetryError{
		Attempts:   attempts,
		LastStatus: status,
		LastBody:   body,
		Err:        lastErr,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
