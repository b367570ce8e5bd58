package genrouter_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gr "github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/provider/mock"
)

func submitJob(t *testing.T, p *mock.Provider) gr.PollRequest {
	t.Helper()
	sub, err := p.Submit(context.Background(), gr.SubmitRequest{Model: "m"})
	require.NoError(t, err)
	require.NotEmpty(t, sub.JobID)
	return gr.PollRequest{Model: "m", JobID: sub.JobID}
}

func TestAwaitJob_Completes(t *testing.T) {
	p := mock.New(mock.WithJob(gr.JobPending, gr.JobProcessing, gr.JobCompleted), mock.WithCredits(12))
	req := submitJob(t, p)

	res, err := gr.AwaitJob(context.Background(), p, req, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, gr.JobCompleted, res.State)
	assert.Equal(t, "https://mock.test/artifact.mp4", res.ArtifactURL)
	require.NotNil(t, res.Credits)
	assert.Equal(t, 12.0, *res.Credits)
	assert.Equal(t, int64(3), p.PollCount())
}

func TestAwaitJob_Failed(t *testing.T) {
	p := mock.New(mock.WithJob(gr.JobProcessing, gr.JobFailed))
	req := submitJob(t, p)

	_, err := gr.AwaitJob(context.Background(), p, req, time.Millisecond, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gr.ErrPermanent))

	var je *gr.JobError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, req.JobID, je.JobID)
	assert.Equal(t, "mock job failed", je.Message)
}

func TestAwaitJob_Timeout(t *testing.T) {
	p := mock.New(mock.WithJob(gr.JobProcessing))
	req := submitJob(t, p)

	_, err := gr.AwaitJob(context.Background(), p, req, time.Millisecond, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gr.ErrTimeout))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAwaitJob_CallerCancels(t *testing.T) {
	p := mock.New(mock.WithJob(gr.JobProcessing))
	req := submitJob(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := gr.AwaitJob(ctx, p, req, time.Millisecond, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, gr.ErrTimeout))
}

func TestAwaitJob_PollError(t *testing.T) {
	p := mock.New(mock.WithJob(gr.JobProcessing), mock.WithPollErrors(&gr.StatusError{Code: http.StatusBadRequest}))
	req := submitJob(t, p)

	_, err := gr.AwaitJob(context.Background(), p, req, time.Millisecond, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gr.ErrPermanent))
}
