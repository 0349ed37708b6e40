// Package chi exposes the manager over HTTP: a GraphQL-style endpoint, REST
// convenience routes, health and metrics.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	healthuc "github.com/kailas-cloud/conceptgraph/internal/usecase/health"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/manager"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/telemetry"
)

// Error codes returned in REST error bodies.
const (
	CodeBadRequest         = "bad_request"
	CodeNotFound           = "not_found"
	CodeNoEngines          = "no_engines_available"
	CodeNotRunning         = "not_running"
	CodeUnknownSubsystem   = "unknown_subsystem"
	CodeImagesNotRefreshed = "images_not_refreshed"
	CodeInternalError      = "internal_error"
)

// Service is the manager surface the transport consumes.
type Service interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Node, error)
	SystemHealth() domain.SystemHealth
	HealthReport() manager.HealthReport
	Images(concept string) []domain.Image
	RefreshImages(ctx context.Context, concept string) error
	PerformanceReport() telemetry.Report
	RecentSearches(n int) []domain.SearchTelemetry
	EmergencyRestart(ctx context.Context, name string) error
	ClearCache() error
}

// Readiness runs component checks for GET /health.
type Readiness interface {
	Check() healthuc.Report
}

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status string            `json:"status"`
	Health string            `json:"health"`
	Checks map[string]string `json:"checks"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers.
type Server struct {
	svc           Service
	readiness     Readiness
	version       string
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(svc Service, readiness Readiness, version string, logger *zap.Logger) *Server {
	s := &Server{
		svc:       svc,
		readiness: readiness,
		version:   version,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrEmptyQuery, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrUnknownSubsystem, http.StatusBadRequest, CodeUnknownSubsystem),
		sentinelHandler(domain.ErrNoEnginesAvailable, http.StatusServiceUnavailable, CodeNoEngines),
		sentinelHandler(domain.ErrNotRunning, http.StatusServiceUnavailable, CodeNotRunning),
		sentinelHandler(domain.ErrImagesNotRefreshed, http.StatusBadGateway, CodeImagesNotRefreshed),
	}
	return s
}

// Routes mounts every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/graphql", s.GraphQL)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", s.SearchConcepts)
		r.Get("/images/{concept}", s.GetImages)
		r.Get("/telemetry", s.GetTelemetry)
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	report := s.readiness.Check()

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Health: s.svc.SystemHealth().String(),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrEmptyQuery,
		domain.ErrUnknownSubsystem,
		domain.ErrSubsystemUnavailable,
		domain.ErrNoEnginesAvailable,
		domain.ErrNotRunning,
		domain.ErrImagesNotRefreshed,
		domain.ErrEngineNotOperational,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
