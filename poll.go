package genrouter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobError is returned when a provider reports a job as failed.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("genrouter: job %s failed", e.JobID)
	}
	return fmt.Sprintf("genrouter: job %s failed: %s", e.JobID, e.Message)
}

// Unwrap classifies a provider-reported failure as permanent.
func (e *JobError) Unwrap() error { return ErrPermanent }

// AwaitJob polls adapter every interval until the job reaches a terminal
// state. It returns ErrTimeout once timeout has elapsed without one, a
// *JobError when the provider reports failure, and ctx.Err() when the caller
// gives up first.
func AwaitJob(ctx context.Context, adapter ProviderAdapter, req PollRequest, interval, timeout time.Duration) (PollResult, error) {
	return awaitJob(ctx, req.JobID, func(ctx context.Context) (PollResult, error) {
		return adapter.Poll(ctx, req)
	}, interval, timeout)
}

func awaitJob(ctx context.Context, jobID string, poll func(context.Context) (PollResult, error), interval, timeout time.Duration) (PollResult, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := pctx.Err(); err != nil {
			return PollResult{}, pollDeadline(ctx, jobID, timeout)
		}

		res, err := poll(pctx)
		if err != nil {
			if pctx.Err() != nil {
				return res, pollDeadline(ctx, jobID, timeout)
			}
			return res, err
		}
		switch res.State {
		case JobCompleted:
			return res, nil
		case JobFailed:
			return res, &JobError{JobID: jobID, Message: res.Message}
		}

		select {
		case <-pctx.Done():
			return res, pollDeadline(ctx, jobID, timeout)
		case <-ticker.C:
		}
	}
}

// pollDeadline tells the caller's own cancellation apart from the poll
// timeout expiring.
func pollDeadline(ctx context.Context, jobID string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s not finished after %s", ErrTimeout, jobID, timeout)
}

// isCallerDone reports whether err comes from the caller's context rather
// than from a provider.
func isCallerDone(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
