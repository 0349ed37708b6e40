package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	logpkg "github.com/kailas-cloud/conceptgraph/internal/logger"
)

const maxGraphQLBody = 1 << 20

// GraphQLRequest is the POST /graphql body.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// GraphQLError is one entry of the errors envelope.
type GraphQLError struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// GraphQLResponse carries either data or errors.
type GraphQLResponse struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

type operation func(s *Server, ctx context.Context, vars variables) (any, error)

// Operations are matched against the query text in this order.
var (
	queryOps = []namedOp{
		{"search_concepts", (*Server).opSearchConcepts},
		{"system_health", (*Server).opSystemHealth},
		{"pinterest_images", (*Server).opPinterestImages},
		{"telemetry_report", (*Server).opTelemetryReport},
	}
	mutationOps = []namedOp{
		{"refresh_pinterest_data", (*Server).opRefreshImages},
		{"emergency_restart", (*Server).opEmergencyRestart},
		{"clear_cache", (*Server).opClearCache},
	}
)

type namedOp struct {
	name string
	run  operation
}

// GraphQL handles POST /graphql. Failures are reported in the errors envelope
// with status 200, except for undecodable bodies.
func (s *Server) GraphQL(w http.ResponseWriter, r *http.Request) {
	var req GraphQLRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGraphQLBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope("invalid request body: "+err.Error()))
		return
	}

	isMutation := strings.Contains(req.Query, "mutation")
	op, ok := resolveOp(req, isMutation)
	if !ok {
		kind := "operation"
		if isMutation {
			kind = "mutation"
		}
		writeJSON(w, http.StatusOK, errorEnvelope("Unknown GraphQL "+kind))
		return
	}

	ctx := logpkg.With(r.Context(), zap.String("graphql_op", op.name))
	data, err := op.run(s, ctx, variables(req.Variables))
	if err != nil {
		logpkg.FromContext(ctx).Warn("GraphQL operation failed", zap.Error(err))
		writeJSON(w, http.StatusOK, errorEnvelope(graphQLMessage(err)))
		return
	}

	writeJSON(w, http.StatusOK, GraphQLResponse{Data: map[string]any{op.name: data}})
}

func resolveOp(req GraphQLRequest, mutation bool) (namedOp, bool) {
	ops := queryOps
	if mutation {
		ops = mutationOps
	}
	if req.OperationName != "" {
		for _, op := range ops {
			if op.name == req.OperationName {
				return op, true
			}
		}
	}
	for _, op := range ops {
		if strings.Contains(req.Query, op.name) {
			return op, true
		}
	}
	return namedOp{}, false
}

// inputError is a client mistake whose message is safe to echo back.
type inputError string

func (e inputError) Error() string { return string(e) }

func graphQLMessage(err error) string {
	var ie inputError
	if errors.As(err, &ie) {
		return ie.Error()
	}
	return safeDomainMessage(err)
}

func errorEnvelope(message string) GraphQLResponse {
	return GraphQLResponse{Errors: []GraphQLError{{Message: message, Timestamp: time.Now().UnixMilli()}}}
}

func (s *Server) opSearchConcepts(ctx context.Context, vars variables) (any, error) {
	query := vars.str("query")
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	limit, err := vars.integer("limit", defaultSearchLimit)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	nodes, err := s.svc.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"mission_id":         uuid.NewString(),
		"query":              query,
		"nodes":              nodes,
		"processing_time_ms": time.Since(start).Milliseconds(),
		"system_status":      s.svc.SystemHealth().String(),
		"timestamp":          time.Now().UnixMilli(),
	}, nil
}

func (s *Server) opSystemHealth(context.Context, variables) (any, error) {
	h := s.svc.HealthReport()
	return map[string]any{
		"status":                     h.Status.String(),
		"cpu_usage":                  h.Metrics.CPUPercent,
		"memory_usage":               h.Metrics.MemoryMB,
		"memory_percent":             h.Metrics.MemoryPercent,
		"active_connections":         h.Metrics.ActiveConnections,
		"error_rate":                 h.Metrics.ErrorRate,
		"last_heartbeat":             h.Metrics.LastHeartbeat.UnixMilli(),
		"uptime_ms":                  h.UptimeMs,
		"version":                    s.version,
		"primary_engine_operational": h.PrimaryOperational,
		"backup_engine_operational":  h.BackupOperational,
		"telemetry_running":          h.TelemetryRunning,
		"timestamp":                  h.Timestamp.UnixMilli(),
	}, nil
}

func (s *Server) opPinterestImages(_ context.Context, vars variables) (any, error) {
	concept := vars.str("concept")
	if concept == "" {
		return nil, inputError("concept name cannot be empty")
	}
	images := s.svc.Images(concept)
	return map[string]any{
		"concept":   concept,
		"images":    images,
		"cached":    len(images) > 0,
		"count":     len(images),
		"timestamp": time.Now().UnixMilli(),
	}, nil
}

func (s *Server) opTelemetryReport(context.Context, variables) (any, error) {
	r := s.svc.PerformanceReport()
	return map[string]any{
		"total_queries":         r.TotalQueries,
		"failed_queries":        r.FailedQueries,
		"average_response_time": r.AverageResponseMs,
		"error_rate":            r.ErrorRate,
		"telemetry_records":     r.HistorySize,
		"timestamp":             r.Timestamp.UnixMilli(),
	}, nil
}

func (s *Server) opRefreshImages(ctx context.Context, vars variables) (any, error) {
	concept := vars.str("concept")
	err := s.svc.RefreshImages(ctx, concept)
	return outcome(map[string]any{"concept": concept}, err,
		"Image refresh successful", "Image refresh failed"), nil
}

func (s *Server) opEmergencyRestart(ctx context.Context, vars variables) (any, error) {
	name := vars.str("subsystem")
	err := s.svc.EmergencyRestart(ctx, name)
	if errors.Is(err, domain.ErrUnknownSubsystem) {
		return outcome(map[string]any{"subsystem": name}, err, "", "Unknown subsystem"), nil
	}
	return outcome(map[string]any{"subsystem": name}, err,
		"Emergency restart successful", "Emergency restart failed"), nil
}

func (s *Server) opClearCache(context.Context, variables) (any, error) {
	err := s.svc.ClearCache()
	return outcome(map[string]any{}, err, "Cache cleared successfully", "Failed to clear cache"), nil
}

// outcome fills the success/message/timestamp fields shared by mutations.
func outcome(fields map[string]any, err error, okMsg, failMsg string) map[string]any {
	fields["success"] = err == nil
	fields["message"] = okMsg
	if err != nil {
		fields["message"] = failMsg
	}
	fields["timestamp"] = time.Now().UnixMilli()
	return fields
}

// variables reads loosely typed GraphQL variables.
type variables map[string]any

func (v variables) str(key string) string {
	s, _ := v[key].(string)
	return s
}

func (v variables) integer(key string, def int) (int, error) {
	raw, ok := v[key]
	if !ok || raw == nil {
		return def, nil
	}
	// encoding/json decodes numbers into float64
	f, ok := raw.(float64)
	if !ok || f != float64(int(f)) {
		return 0, inputError(fmt.Sprintf("variable %s must be an integer", key))
	}
	return int(f), nil
}
