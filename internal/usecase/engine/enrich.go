package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	"github.com/kailas-cloud/conceptgraph/internal/metrics"
)

// enrich fetches images for every node concurrently and caches each non-empty
// result. One node's failure never affects another's; the call returns when all
// tasks have finished.
func (e *Engine) enrich(ctx context.Context, st *runtimeState, nodes []domain.Node) {
	var wg sync.WaitGroup
	for _, n := range nodes {
		name := n.Name
		wg.Add(1)
		err := st.pool.Submit(func() {
			defer wg.Done()

			images, _ := e.fetchImages(ctx, st, name)
			if len(images) == 0 {
				return
			}
			e.mu.Lock()
			if e.state.Load() == st {
				e.images[name] = images
			}
			e.mu.Unlock()
		})
		if err != nil {
			wg.Done()
			metrics.EnrichmentTotal.WithLabelValues("error").Inc()
			e.logger.Warn("Enrichment task rejected", zap.String("concept", name), zap.Error(err))
		}
	}
	wg.Wait()
}

// fetchImages checks the quota first and treats "unavailable", errors and
// empty results alike: no images.
func (e *Engine) fetchImages(ctx context.Context, st *runtimeState, concept string) ([]domain.Image, error) {
	if !st.clients.Images.Available() {
		metrics.EnrichmentTotal.WithLabelValues("unavailable").Inc()
		return nil, domain.ErrImageQuotaExceeded
	}

	images, err := st.clients.Images.Search(ctx, concept)
	switch {
	case err != nil:
		outcome := "error"
		if errors.Is(err, domain.ErrImageQuotaExceeded) {
			outcome = "unavailable"
		}
		metrics.EnrichmentTotal.WithLabelValues(outcome).Inc()
		e.logger.Warn("Image search failed", zap.String("concept", concept), zap.Error(err))
		return nil, err
	case len(images) == 0:
		metrics.EnrichmentTotal.WithLabelValues("empty").Inc()
		return nil, nil
	default:
		metrics.EnrichmentTotal.WithLabelValues("images").Inc()
		return images, nil
	}
}
