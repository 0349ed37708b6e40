package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/metrics"
)

// NewRouter builds the full handler chain around s.
func NewRouter(s *Server, conns ConnTracker, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(logger))
	r.Use(CORS())
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEvent(logger))
	if conns != nil {
		r.Use(TrackConnections(conns))
	}
	r.Use(metrics.Middleware())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "not found")
	})
	s.Routes(r)
	return r
}
