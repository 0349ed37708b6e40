package manager

import (
	"context"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/health"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/telemetry"
)

// Engine is one redundant search pipeline.
type Engine interface {
	Initialize(ctx context.Context) error
	Search(ctx context.Context, query string) ([]domain.Node, error)
	Images(concept string) []domain.Image
	RefreshImages(ctx context.Context, concept string) error
	ClearCache()
	CacheSize() int
	ImageCacheSize() int
	Operational() bool
	Shutdown()
	Role() domain.Role
}

// Aggregator receives drained telemetry records.
type Aggregator interface {
	Start()
	Stop()
	Running() bool
	Process(rec domain.SearchTelemetry)
	Report() telemetry.Report
	Recent(n int) []domain.SearchTelemetry
}

// Prober samples process resource usage for the health worker.
type Prober = health.Prober
