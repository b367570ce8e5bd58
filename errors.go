package genrouter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors. Every error returned by Router.Generate matches exactly one
// of the first five with errors.Is.
var (
	ErrTransient      = errors.New("genrouter: transient provider error")
	ErrPermanent      = errors.New("genrouter: permanent request error")
	ErrQuotaExhausted = errors.New("genrouter: quota exhausted")
	ErrTimeout        = errors.New("genrouter: generation timed out")
	ErrPoolExhausted  = errors.New("genrouter: no eligible account")

	ErrRateLimited     = errors.New("genrouter: rate limited by provider")
	ErrUnknownProvider = errors.New("genrouter: unknown provider")
	ErrUnknownStrategy = errors.New("genrouter: unknown routing strategy")
)

// Attempt records one provider/account call made while serving a request.
type Attempt struct {
	Provider  string        `json:"provider"`
	AccountID string        `json:"account_id,omitempty"`
	Model     string        `json:"model"`
	Status    int           `json:"status,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
}

// GenerationError is returned by Router.Generate once all in-process fallback
// has been exhausted.
type GenerationError struct {
	Kind        error
	Attempts    []Attempt
	LastStatus  int
	LastMessage string
	Elapsed     time.Duration
	Err         error
}

func (e *GenerationError) Error() string {
	tried := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.AccountID != "" {
			tried = append(tried, a.Provider+"/"+a.AccountID)
		} else {
			tried = append(tried, a.Provider)
		}
	}
	msg := fmt.Sprintf("%v: attempts=%d tried=[%s] elapsed=%s",
		e.Kind, len(e.Attempts), strings.Join(tried, ","), e.Elapsed.Round(time.Millisecond))
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(" status=%d", e.LastStatus)
	}
	if e.LastMessage != "" {
		msg += ": " + e.LastMessage
	}
	return msg
}

func (e *GenerationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Info converts the error into a result descriptor.
func (e *GenerationError) Info() *ErrorInfo {
	return &ErrorInfo{Kind: KindName(e.Kind), Message: e.LastMessage, Status: e.LastStatus}
}

// StatusError is returned by adapters when a provider answers with a non-2xx
// status code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("genrouter: provider status %d", e.Code)
	}
	return fmt.Sprintf("genrouter: provider status %d: %s", e.Code, e.Body)
}

// Unwrap classifies the status so errors.Is works against the sentinels.
func (e *StatusError) Unwrap() error { return ClassifyStatus(e.Code) }

// RetryError is returned by RetryPolicy.Execute when attempts are exhausted or a
// non-retryable error occurs.
type RetryError struct {
	Attempts   int
	LastStatus int
	LastBody   string
	Err        error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("genrouter: failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP status code to a sentinel error.
func ClassifyStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusPaymentRequired:
		return ErrQuotaExhausted
	case code == http.StatusRequestTimeout:
		return ErrTransient
	case code >= 400 && code < 500:
		return ErrPermanent
	case code >= 500:
		if isTransientStatus(code) {
			return ErrTransient
		}
		return ErrPermanent
	default:
		return nil
	}
}

// 520-524 and 529 are the "temporarily unavailable" codes emitted by CDNs and
// overloaded providers.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, 520, 521, 522, 523, 524, 529:
		return true
	}
	return false
}

// IsFatal returns true if the error should not be retried with another account
// or provider.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// IsRetryable returns true if backing off and repeating the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// KindName returns the short name of a sentinel kind.
func KindName(kind error) string {
	switch {
	case errors.Is(kind, ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(kind, ErrTimeout):
		return "timeout"
	case errors.Is(kind, ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(kind, ErrPermanent):
		return "permanent"
	case errors.Is(kind, ErrTransient), errors.Is(kind, ErrRateLimited):
		return "transient"
	default:
		return "unknown"
	}
}

func statusOf(err error) (int, string) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, se.Body
	}
	var re *RetryError
	if errors.As(err, &re) {
		return re.LastStatus, re.LastBody
	}
	return 0, ""
}
