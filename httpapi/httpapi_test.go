package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/httpapi"
	"github.com/ineyio/genrouter/provider/mock"
	"github.com/ineyio/genrouter/report"
)

func testConfig() genrouter.Config {
	return genrouter.Config{
		Providers: []genrouter.ProviderSpec{
			{Name: "kling", CostModel: genrouter.CostModel{CreditsPerUnit: 10}, FreeCapabilities: []string{"kling-lite"}},
		},
		Accounts: []genrouter.AccountConfig{
			{ID: "k1", Provider: "kling", Capabilities: []string{"kling-2", "kling-lite"}, InitialCredits: 100},
		},
		Routing: genrouter.RoutingConfig{
			Primary: genrouter.ModelRef{Provider: "kling", Model: "kling-2"},
		},
	}
}

func newServer(t *testing.T, adapter genrouter.ProviderAdapter) (*genrouter.Router, http.Handler) {
	t.Helper()
	r, err := genrouter.NewRouter(testConfig(), []genrouter.ProviderAdapter{adapter})
	require.NoError(t, err)
	return r, httpapi.New(r, httpapi.WithLogger(zap.NewNop())).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	_, h := newServer(t, mock.New(mock.WithName("kling")))

	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp httpapi.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "kling", resp.Providers[0].Provider)
	assert.True(t, resp.Providers[0].Healthy)
}

func TestGenerate(t *testing.T) {
	adapter := mock.New(mock.WithName("kling"), mock.WithArtifact("https://cdn.test/out.mp4"))
	_, h := newServer(t, adapter)

	w := do(t, h, http.MethodPost, "/generate", `{"prompt":"a fox","tier":"standard","duration_seconds":5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res genrouter.GenerationResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "kling", res.Provider)
	assert.Equal(t, "https://cdn.test/out.mp4", res.ArtifactURL)
	assert.Equal(t, 10.0, res.CreditsUsed)

	reqs := adapter.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 5*time.Second, reqs[0].Request.Duration)
}

func TestGenerate_Validation(t *testing.T) {
	_, h := newServer(t, mock.New(mock.WithName("kling")))

	tests := []struct {
		name string
		body string
	}{
		{"missing prompt", `{"tier":"standard"}`},
		{"unknown tier", `{"prompt":"x","tier":"ultra"}`},
		{"negative duration", `{"prompt":"x","duration_seconds":-1}`},
		{"bad reference", `{"prompt":"x","reference_url":"not a url"}`},
		{"malformed json", `{"prompt":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/generate", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp httpapi.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGenerate_ProviderRejects(t *testing.T) {
	_, h := newServer(t, mock.New(mock.WithName("kling"), mock.WithStatus(http.StatusUnprocessableEntity)))

	w := do(t, h, http.MethodPost, "/generate", `{"prompt":"a fox"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var res genrouter.GenerationResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "permanent", res.Error.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Error.Status)
}

func TestGenerate_UnknownStrategy(t *testing.T) {
	_, h := newServer(t, mock.New(mock.WithName("kling")))

	w := do(t, h, http.MethodPost, "/generate", `{"prompt":"a fox","strategy":"cheapest"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestEmergency(t *testing.T) {
	r, h := newServer(t, mock.New(mock.WithName("kling")))

	w := do(t, h, http.MethodPost, "/providers/kling/emergency", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, r.Pool().InEmergencyMode("kling"))

	acc, ok := r.Pool().Account("k1")
	require.True(t, ok)
	assert.Equal(t, []string{"kling-lite"}, acc.ActiveCapabilities)

	w = do(t, h, http.MethodPost, "/providers/kling/emergency", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, r.Pool().InEmergencyMode("kling"))

	acc, _ = r.Pool().Account("k1")
	assert.Equal(t, []string{"kling-2", "kling-lite"}, acc.ActiveCapabilities)
}

func TestEmergency_Errors(t *testing.T) {
	_, h := newServer(t, mock.New(mock.WithName("kling")))

	w := do(t, h, http.MethodPost, "/providers/runway/emergency", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodPost, "/providers/kling/emergency", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReports(t *testing.T) {
	_, h := newServer(t, mock.New(mock.WithName("kling")))

	w := do(t, h, http.MethodPost, "/generate", `{"prompt":"a fox"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "credential")
	var accounts []report.AccountRow
	require.NoError(t, json.NewDecoder(w.Body).Decode(&accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, 90.0, accounts[0].Credits)

	w = do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats report.StatsReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalSuccesses)
	assert.Equal(t, 10.0, stats.TotalCredits)

	w = do(t, h, http.MethodGet, "/capacity", "")
	require.Equal(t, http.StatusOK, w.Code)
	var capacity report.CapacityReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&capacity))
	require.Len(t, capacity.Providers, 1)
	assert.Equal(t, 9, capacity.Providers[0].GenerationsLeft)
}

func TestNotFound(t *testing.T) {
	_, h := newServer(t, mock.New(mock.WithName("kling")))
	w := do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
