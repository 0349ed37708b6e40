package chi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/telemetry"
)

const (
	defaultSearchLimit   = 10
	defaultRecentRecords = 20
	maxRecentRecords     = 1000
)

// SearchResponse is the GET /api/v1/search body.
type SearchResponse struct {
	Query          string        `json:"query"`
	Nodes          []domain.Node `json:"nodes"`
	ProcessingTime int64         `json:"processingTimeMs"`
	SystemStatus   string        `json:"systemStatus"`
}

// ImagesResponse is the GET /api/v1/images/{concept} body.
type ImagesResponse struct {
	Concept string         `json:"concept"`
	Images  []domain.Image `json:"images"`
	Count   int            `json:"count"`
}

// TelemetryResponse is the GET /api/v1/telemetry body.
type TelemetryResponse struct {
	Report telemetry.Report         `json:"report"`
	Recent []domain.SearchTelemetry `json:"recent"`
}

// SearchConcepts handles GET /api/v1/search?q=&limit=.
func (s *Server) SearchConcepts(w http.ResponseWriter, r *http.Request) {
	var (
		q     string
		limit *int
	)
	if err := runtime.BindQueryParameter("form", true, true, "q", r.URL.Query(), &q); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid parameter q: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid parameter limit: "+err.Error())
		return
	}

	n := defaultSearchLimit
	if limit != nil {
		n = *limit
	}

	start := time.Now()
	nodes, err := s.svc.Search(r.Context(), q, n)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Query:          q,
		Nodes:          nodes,
		ProcessingTime: time.Since(start).Milliseconds(),
		SystemStatus:   s.svc.SystemHealth().String(),
	})
}

// GetImages handles GET /api/v1/images/{concept}.
func (s *Server) GetImages(w http.ResponseWriter, r *http.Request) {
	var concept string
	err := runtime.BindStyledParameterWithOptions("simple", "concept", chi.URLParam(r, "concept"), &concept,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || concept == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid parameter concept")
		return
	}

	images := s.svc.Images(concept)
	writeJSON(w, http.StatusOK, ImagesResponse{Concept: concept, Images: images, Count: len(images)})
}

// GetTelemetry handles GET /api/v1/telemetry?recent=.
func (s *Server) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	var recent *int
	if err := runtime.BindQueryParameter("form", true, false, "recent", r.URL.Query(), &recent); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid parameter recent: "+err.Error())
		return
	}

	n := defaultRecentRecords
	if recent != nil {
		n = min(max(*recent, 0), maxRecentRecords)
	}

	writeJSON(w, http.StatusOK, TelemetryResponse{
		Report: s.svc.PerformanceReport(),
		Recent: s.svc.RecentSearches(n),
	})
}
