package jobapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/provider/jobapi"
)

var cred = genrouter.Credential{Token: "test-key"}

func TestProvider_Name(t *testing.T) {
	p := jobapi.New("kling", "https://api.test/v1/")
	assert.Equal(t, "kling", p.Name())
}

func TestProvider_NewFromSpec(t *testing.T) {
	p := jobapi.NewFromSpec(genrouter.ProviderSpec{Name: "veo", BaseURL: "https://veo.test", ConnectTimeout: time.Second})
	assert.Equal(t, "veo", p.Name())
}

func TestSubmit_Immediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "flux", body["model"])
		assert.Equal(t, "a cat", body["prompt"])
		assert.Equal(t, 5.0, body["duration_seconds"])

		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "artifact_url": "https://cdn.test/a.png"})
	}))
	defer srv.Close()

	p := jobapi.New("pollinations", srv.URL)
	res, err := p.Submit(context.Background(), genrouter.SubmitRequest{
		Credential: cred,
		Model:      "flux",
		Request:    genrouter.GenerationRequest{Prompt: "a cat", Duration: 5 * time.Second},
	})
	require.NoError(t, err)
	assert.True(t, res.Immediate())
	assert.Equal(t, "https://cdn.test/a.png", res.ArtifactURL)
}

func TestSubmitAndPoll_Job(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/generations":
			json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "queued"})
		case r.Method == http.MethodGet && r.URL.Path == "/generations/job-1":
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "running"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "succeeded", "artifact_url": "https://cdn.test/v.mp4", "credits": 20})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := jobapi.New("kling", srv.URL)
	ctx := context.Background()

	sub, err := p.Submit(ctx, genrouter.SubmitRequest{Credential: cred, Model: "kling-2"})
	require.NoError(t, err)
	assert.False(t, sub.Immediate())
	assert.Equal(t, "job-1", sub.JobID)

	res, err := genrouter.AwaitJob(ctx, p, genrouter.PollRequest{Credential: cred, Model: "kling-2", JobID: sub.JobID}, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, genrouter.JobCompleted, res.State)
	assert.Equal(t, "https://cdn.test/v.mp4", res.ArtifactURL)
	require.NotNil(t, res.Credits)
	assert.Equal(t, 20.0, *res.Credits)
}

func TestPoll_Failed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "FAILED", "error": "content policy"})
	}))
	defer srv.Close()

	p := jobapi.New("kling", srv.URL)
	_, err := genrouter.AwaitJob(context.Background(), p, genrouter.PollRequest{JobID: "job-1"}, time.Millisecond, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, genrouter.ErrPermanent))
	assert.Contains(t, err.Error(), "content policy")
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadGateway, genrouter.ErrTransient},
		{http.StatusServiceUnavailable, genrouter.ErrTransient},
		{http.StatusTooManyRequests, genrouter.ErrRateLimited},
		{http.StatusPaymentRequired, genrouter.ErrQuotaExhausted},
		{http.StatusUnauthorized, genrouter.ErrPermanent},
		{http.StatusUnprocessableEntity, genrouter.ErrPermanent},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", tt.code)
			}))
			defer srv.Close()

			p := jobapi.New("kling", srv.URL)
			_, err := p.Submit(context.Background(), genrouter.SubmitRequest{Credential: cred, Model: "m"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var se *genrouter.StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, "boom", se.Body)
		})
	}
}

func TestSubmit_ReferenceUploaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/uploads":
			data, _ := io.ReadAll(r.Body)
			assert.Equal(t, "PNGDATA", string(data))
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.test/ref.png"})
		case "/generations":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "https://cdn.test/ref.png", body["reference_url"])
			json.NewEncoder(w).Encode(map[string]any{"id": "job-2", "status": "pending"})
		}
	}))
	defer srv.Close()

	p := jobapi.New("kling", srv.URL)
	res, err := p.Submit(context.Background(), genrouter.SubmitRequest{
		Credential: cred,
		Model:      "kling-2",
		Request: genrouter.GenerationRequest{
			Reference: &genrouter.Asset{Data: []byte("PNGDATA"), ContentType: "image/png"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-2", res.JobID)
}

func referenceFailServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/uploads":
			http.Error(w, "storage down", http.StatusServiceUnavailable)
		case "/generations":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			_, hasRef := body["reference_url"]
			assert.False(t, hasRef)
			json.NewEncoder(w).Encode(map[string]any{"id": "job-3", "status": "pending"})
		}
	}))
}

func TestSubmit_ReferenceFailureDegrades(t *testing.T) {
	srv := referenceFailServer(t)
	defer srv.Close()

	p := jobapi.New("kling", srv.URL)
	res, err := p.Submit(context.Background(), genrouter.SubmitRequest{
		Credential: cred,
		Model:      "kling-2",
		Request:    genrouter.GenerationRequest{Reference: &genrouter.Asset{Data: []byte("x")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-3", res.JobID)
	assert.Contains(t, res.Metadata["reference_dropped"], "503")
}

func TestSubmit_ReferenceRequired(t *testing.T) {
	srv := referenceFailServer(t)
	defer srv.Close()

	p := jobapi.New("kling", srv.URL, jobapi.WithRequireReference())
	_, err := p.Submit(context.Background(), genrouter.SubmitRequest{
		Credential: cred,
		Model:      "kling-2",
		Request:    genrouter.GenerationRequest{Reference: &genrouter.Asset{Data: []byte("x")}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference upload")
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account/balance", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]float64{"credits": 480.5})
	}))
	defer srv.Close()

	p := jobapi.New("kling", srv.URL)
	bal, err := p.Balance(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, 480.5, bal)
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"id": "late"})
	}))
	defer srv.Close()

	p := jobapi.New("kling", srv.URL, jobapi.WithTimeouts(time.Second, 20*time.Millisecond))
	_, err := p.Submit(context.Background(), genrouter.SubmitRequest{Credential: cred, Model: "m"})
	require.Error(t, err)
	assert.True(t, genrouter.DefaultRetryable(err), "client timeouts should be retryable: %v", err)
}
