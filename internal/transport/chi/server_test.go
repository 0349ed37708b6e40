package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	healthuc "github.com/kailas-cloud/conceptgraph/internal/usecase/health"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/manager"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/telemetry"
)

// --- Mocks ---

type mockService struct {
	nodes       []domain.Node
	searchErr   error
	lastQuery   string
	lastLimit   int
	images      map[string][]domain.Image
	refreshErr  error
	restartErr  error
	clearErr    error
	restarted   string
	refreshed   *string
	report      telemetry.Report
	recent      []domain.SearchTelemetry
	recentAsked int
	health      domain.SystemHealth
	panicSearch bool
}

func (m *mockService) Search(_ context.Context, q string, limit int) ([]domain.Node, error) {
	if m.panicSearch {
		panic("boom")
	}
	m.lastQuery, m.lastLimit = q, limit
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if limit > 0 && len(m.nodes) > limit {
		return m.nodes[:limit], nil
	}
	return m.nodes, nil
}

func (m *mockService) SystemHealth() domain.SystemHealth { return m.health }

func (m *mockService) HealthReport() manager.HealthReport {
	return manager.HealthReport{
		Status:             m.health,
		Metrics:            healthuc.Snapshot{CPUPercent: 12, MemoryMB: 100, ActiveConnections: 1},
		PrimaryOperational: true,
		UptimeMs:           5000,
		Timestamp:          time.Now(),
	}
}

func (m *mockService) Images(concept string) []domain.Image {
	if imgs, ok := m.images[concept]; ok {
		return imgs
	}
	return []domain.Image{}
}

func (m *mockService) RefreshImages(_ context.Context, concept string) error {
	m.refreshed = &concept
	return m.refreshErr
}

func (m *mockService) PerformanceReport() telemetry.Report { return m.report }

func (m *mockService) RecentSearches(n int) []domain.SearchTelemetry {
	m.recentAsked = n
	return m.recent
}

func (m *mockService) EmergencyRestart(_ context.Context, name string) error {
	m.restarted = name
	return m.restartErr
}

func (m *mockService) ClearCache() error { return m.clearErr }

type mockReadiness struct {
	report healthuc.Report
}

func (m *mockReadiness) Check() healthuc.Report { return m.report }

type countingTracker struct {
	opened, closed atomic.Int32
}

func (c *countingTracker) ConnOpened() { c.opened.Add(1) }
func (c *countingTracker) ConnClosed() { c.closed.Add(1) }

func nodes(names ...string) []domain.Node {
	out := make([]domain.Node, 0, len(names))
	for _, n := range names {
		out = append(out, domain.NewNode(domain.Match{Name: n, Certainty: 0.9}, domain.LevelDirect, time.Now()))
	}
	return out
}

func newTestRouter(svc *mockService, ready *mockReadiness, tracker ConnTracker) http.Handler {
	if ready == nil {
		ready = &mockReadiness{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}}
	}
	return NewRouter(NewServer(svc, ready, "test", zap.NewNop()), tracker, zap.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doRaw(t *testing.T, method, path string, body *strings.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	newTestRouter(&mockService{}, nil, nil).ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		status     healthuc.Status
		wantStatus int
	}{
		{"healthy", healthuc.Healthy, http.StatusOK},
		{"degraded still serves", healthuc.Degraded, http.StatusOK},
		{"unhealthy", healthuc.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready := &mockReadiness{report: healthuc.Report{
				Status: tt.status,
				Checks: map[string]healthuc.CheckResult{"primary_engine": healthuc.CheckOK},
			}}
			rec := doJSON(t, newTestRouter(&mockService{}, ready, nil), http.MethodGet, "/health", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			resp := decode[HealthResponse](t, rec)
			if resp.Status != string(tt.status) {
				t.Errorf("expected status %q, got %q", tt.status, resp.Status)
			}
			if resp.Health != "NOMINAL" {
				t.Errorf("expected NOMINAL, got %q", resp.Health)
			}
			if resp.Checks["primary_engine"] != "ok" {
				t.Errorf("expected primary_engine ok, got %+v", resp.Checks)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := doJSON(t, newTestRouter(&mockService{}, nil, nil), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "conceptgraph_http_requests_in_flight") {
		t.Error("expected http metrics in exposition")
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := doJSON(t, newTestRouter(&mockService{}, nil, nil), http.MethodOptions, "/graphql", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS origin *, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("expected POST allowed, got %q", got)
	}
}

func TestCORSOnEveryResponse(t *testing.T) {
	rec := doJSON(t, newTestRouter(&mockService{}, nil, nil), http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header on 404")
	}
}

func TestTrackConnections(t *testing.T) {
	tracker := &countingTracker{}
	h := newTestRouter(&mockService{}, nil, tracker)
	for range 3 {
		doJSON(t, h, http.MethodGet, "/health", nil)
	}
	if tracker.opened.Load() != 3 || tracker.closed.Load() != 3 {
		t.Errorf("expected 3/3, got %d/%d", tracker.opened.Load(), tracker.closed.Load())
	}
}

func TestRecoverer(t *testing.T) {
	h := newTestRouter(&mockService{panicSearch: true}, nil, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/search?q=rocket", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != CodeInternalError {
		t.Errorf("expected %q, got %q", CodeInternalError, resp.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	rec := doJSON(t, newTestRouter(&mockService{}, nil, nil), http.MethodGet, "/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRESTSearch(t *testing.T) {
	svc := &mockService{nodes: nodes("a", "b", "c")}
	h := newTestRouter(svc, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/search?q=rocket&limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[SearchResponse](t, rec)
	if resp.Query != "rocket" || len(resp.Nodes) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if svc.lastLimit != 2 {
		t.Errorf("expected limit 2, got %d", svc.lastLimit)
	}

	doJSON(t, h, http.MethodGet, "/api/v1/search?q=rocket", nil)
	if svc.lastLimit != defaultSearchLimit {
		t.Errorf("expected default limit %d, got %d", defaultSearchLimit, svc.lastLimit)
	}
}

func TestRESTSearch_BadParams(t *testing.T) {
	h := newTestRouter(&mockService{}, nil, nil)
	for _, path := range []string{"/api/v1/search", "/api/v1/search?q=x&limit=abc"} {
		if rec := doJSON(t, h, http.MethodGet, path, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestRESTSearch_DomainErrors(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantBody string
	}{
		{domain.ErrEmptyQuery, http.StatusBadRequest, CodeBadRequest},
		{domain.ErrNoEnginesAvailable, http.StatusServiceUnavailable, CodeNoEngines},
		{domain.ErrNotRunning, http.StatusServiceUnavailable, CodeNotRunning},
		{errors.New("disk on fire"), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.wantBody, func(t *testing.T) {
			h := newTestRouter(&mockService{searchErr: tt.err}, nil, nil)
			rec := doJSON(t, h, http.MethodGet, "/api/v1/search?q=x", nil)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.wantBody {
				t.Errorf("expected code %q, got %q", tt.wantBody, resp.Code)
			}
		})
	}
}

func TestRESTImages(t *testing.T) {
	svc := &mockService{images: map[string][]domain.Image{"orbit": {{ID: "1", URL: "http://i/1"}}}}
	rec := doJSON(t, newTestRouter(svc, nil, nil), http.MethodGet, "/api/v1/images/orbit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[ImagesResponse](t, rec)
	if resp.Concept != "orbit" || resp.Count != 1 || resp.Images[0].ID != "1" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestRESTTelemetry(t *testing.T) {
	svc := &mockService{
		report: telemetry.Report{TotalQueries: 3, AverageResponseMs: 12.5},
		recent: []domain.SearchTelemetry{{Phrase: "rocket"}},
	}
	h := newTestRouter(svc, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/telemetry?recent=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[TelemetryResponse](t, rec)
	if resp.Report.TotalQueries != 3 || len(resp.Recent) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if svc.recentAsked != 5 {
		t.Errorf("expected recent=5, got %d", svc.recentAsked)
	}

	doJSON(t, h, http.MethodGet, "/api/v1/telemetry?recent=999999", nil)
	if svc.recentAsked != maxRecentRecords {
		t.Errorf("expected clamp to %d, got %d", maxRecentRecords, svc.recentAsked)
	}
}
