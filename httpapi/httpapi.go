// Package httpapi exposes a Router over HTTP: generation, capacity and usage
// reports, account and provider health, and manual emergency-mode control.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/report"
)

const defaultRequestTimeout = 15 * time.Minute

// Server serves the HTTP API of one Router.
type Server struct {
	router   *genrouter.Router
	logger   *zap.Logger
	validate *validator.Validate
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRequestTimeout bounds a single HTTP request, generation included.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithClock overrides the clock used by reports.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a server for router.
func New(router *genrouter.Router, opts ...Option) *Server {
	s := &Server{
		router:   router,
		validate: validator.New(),
		timeout:  defaultRequestTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	r.Get("/capacity", s.handleCapacity)
	r.Get("/stats", s.handleStats)
	r.Get("/accounts", s.handleAccounts)
	r.Post("/generate", s.handleGenerate)
	r.Post("/providers/{name}/emergency", s.handleEmergency)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not_found", "endpoint not found")
	})
	return r
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Prompt          string            `json:"prompt" validate:"required"`
	Platform        string            `json:"platform,omitempty"`
	Tier            string            `json:"tier,omitempty" validate:"omitempty,oneof=premium standard volume"`
	DurationSeconds float64           `json:"duration_seconds,omitempty" validate:"gte=0"`
	AspectRatio     string            `json:"aspect_ratio,omitempty"`
	Priority        int               `json:"priority,omitempty"`
	Strategy        string            `json:"strategy,omitempty"`
	ReferenceURL    string            `json:"reference_url,omitempty" validate:"omitempty,url"`
	Params          map[string]string `json:"params,omitempty"`
}

func (g GenerateRequest) toGeneration() genrouter.GenerationRequest {
	req := genrouter.GenerationRequest{
		Prompt:      g.Prompt,
		Platform:    g.Platform,
		Tier:        genrouter.Tier(g.Tier),
		Duration:    time.Duration(g.DurationSeconds * float64(time.Second)),
		AspectRatio: g.AspectRatio,
		Priority:    g.Priority,
		Params:      g.Params,
	}
	if g.ReferenceURL != "" {
		req.Reference = &genrouter.Asset{URL: g.ReferenceURL}
	}
	return req
}

// EmergencyRequest is the body of POST /providers/{name}/emergency.
type EmergencyRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Providers []genrouter.ServiceHealth `json:"providers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.router.Health().Refresh(r.Context())
	providers := s.router.Health().Snapshot().List()

	status, code := "healthy", http.StatusOK
	healthy := 0
	for _, p := range providers {
		if p.Healthy {
			healthy++
		}
	}
	switch {
	case healthy == 0 && len(providers) > 0:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case healthy < len(providers):
		status = "degraded"
	}

	respondJSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Providers: providers,
	})
}

func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	rep := report.Capacity(s.router.Pool(), s.router.Ledger(), s.now()).WithFailovers(s.router.State())
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, report.Stats(s.router.Ledger()))
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, report.Accounts(s.router.Pool()))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	if !s.decode(w, r, &body) {
		return
	}

	res, err := s.router.Generate(r.Context(), body.toGeneration(), body.Strategy)
	if err != nil {
		s.logger.Warn("generation failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		respondJSON(w, statusFor(err), res)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body EmergencyRequest
	if !s.decode(w, r, &body) {
		return
	}

	pool := s.router.Pool()
	var err error
	if *body.Enabled {
		err = pool.EnterEmergencyMode(name)
	} else {
		err = pool.ExitEmergencyMode(name)
	}
	if errors.Is(err, genrouter.ErrUnknownProvider) {
		respondError(w, http.StatusNotFound, "unknown_provider", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	s.logger.Info("emergency mode changed", zap.String("provider", name), zap.Bool("enabled", *body.Enabled))
	respondJSON(w, http.StatusOK, map[string]any{"provider": name, "emergency": pool.InEmergencyMode(name)})
}

// decode reads and validates a JSON body, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondError(w, http.StatusBadRequest, "validation_failed", verrs[0].Field()+" failed "+verrs[0].Tag())
			return false
		}
		respondError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

// statusFor maps a generation failure kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, genrouter.ErrPoolExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, genrouter.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, genrouter.ErrQuotaExhausted):
		return http.StatusPaymentRequired
	case errors.Is(err, genrouter.ErrPermanent):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ErrorResponse is the body of every non-generation error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: code, Message: message})
}
