// Package engine expands a query into a two-hop concept list, enriches it
// with images and caches the result.
package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	"github.com/kailas-cloud/conceptgraph/internal/metrics"
)

// Config tunes expansion, caching and enrichment.
type Config struct {
	ExpandTop         int
	CacheTTL          time.Duration
	CacheCapacity     int
	CacheEvictBatch   int
	QueryTimeout      time.Duration // 0 = rely on client timeouts
	EnrichConcurrency int
	Dedupe            bool
	Now               func() time.Time
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		ExpandTop:         3,
		CacheTTL:          10 * time.Minute,
		CacheCapacity:     1000,
		CacheEvictBatch:   100,
		EnrichConcurrency: 64,
		Dedupe:            true,
		Now:               time.Now,
	}
}

// runtimeState exists only between Initialize and Shutdown.
type runtimeState struct {
	clients Clients
	pool    *ants.Pool
}

// Engine is one redundancy role of the search pipeline.
type Engine struct {
	id      string
	role    domain.Role
	cfg     Config
	factory ClientFactory
	logger  *zap.Logger

	state atomic.Pointer[runtimeState]
	group singleflight.Group

	// mu guards both caches.
	mu      sync.Mutex
	results *resultCache
	images  map[string][]domain.Image
}

// New creates an engine that is not yet operational.
func New(role domain.Role, cfg Config, factory ClientFactory, logger *zap.Logger) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ExpandTop <= 0 {
		cfg.ExpandTop = 3
	}
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = 64
	}
	id := uuid.NewString()
	return &Engine{
		id:      id,
		role:    role,
		cfg:     cfg,
		factory: factory,
		logger:  logger.Named("engine").With(zap.Stringer("role", role), zap.String("engine_id", id)),
		results: newResultCache(cfg.CacheTTL, cfg.CacheCapacity, cfg.CacheEvictBatch),
		images:  make(map[string][]domain.Image),
	}
}

// Role returns the redundancy role.
func (e *Engine) Role() domain.Role { return e.role }

// Initialize builds the clients and the enrichment pool. Safe to call again after Shutdown.
func (e *Engine) Initialize(ctx context.Context) error {
	clients, err := e.factory(ctx)
	if err != nil {
		return fmt.Errorf("%s engine clients: %w", e.role, err)
	}
	if clients.Vectors == nil || clients.Images == nil {
		return fmt.Errorf("%s engine clients: incomplete client pair", e.role)
	}

	pool, err := ants.NewPool(e.cfg.EnrichConcurrency, ants.WithPanicHandler(func(p any) {
		e.logger.Error("Enrichment task panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return fmt.Errorf("%s engine enrichment pool: %w", e.role, err)
	}

	if old := e.state.Swap(&runtimeState{clients: clients, pool: pool}); old != nil {
		old.pool.Release()
	}
	e.logger.Info("Engine initialized")
	return nil
}

// Operational reports whether the engine has been initialized and not shut down.
func (e *Engine) Operational() bool {
	return e.state.Load() != nil
}

// Shutdown stops serving and clears both caches. In-flight searches finish
// with whatever their enrichment managed before the pool closed.
func (e *Engine) Shutdown() {
	old := e.state.Swap(nil)
	if old == nil {
		return
	}
	old.pool.Release()
	e.ClearCache()
	e.logger.Info("Engine shut down")
}

// Search returns the expanded, enriched node list for query.
func (e *Engine) Search(ctx context.Context, query string) ([]domain.Node, error) {
	st := e.state.Load()
	if st == nil {
		return nil, fmt.Errorf("%s engine: %w", e.role, domain.ErrEngineNotOperational)
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}

	start := time.Now()
	role := e.role.String()
	defer func() {
		metrics.SearchDuration.WithLabelValues(role).Observe(time.Since(start).Seconds())
	}()

	if nodes, ok := e.lookup(query); ok {
		metrics.SearchesTotal.WithLabelValues(role, "hit").Inc()
		return nodes, nil
	}

	var (
		nodes []domain.Node
		err   error
	)
	if e.cfg.Dedupe {
		// The expansion is shared with concurrent callers, so one caller
		// going away must not cut it short for the rest.
		var v any
		v, err, _ = e.group.Do(query, func() (any, error) {
			return e.expandWithDeadline(context.WithoutCancel(ctx), st, query)
		})
		if err == nil {
			nodes = slices.Clone(v.([]domain.Node))
		}
	} else {
		nodes, err = e.expandWithDeadline(ctx, st, query)
	}
	if err != nil {
		metrics.SearchesTotal.WithLabelValues(role, "error").Inc()
		return nil, err
	}

	metrics.SearchesTotal.WithLabelValues(role, "miss").Inc()
	e.logger.Debug("Search expanded", zap.String("query", query), zap.Int("nodes", len(nodes)))
	return nodes, nil
}

func (e *Engine) expandWithDeadline(ctx context.Context, st *runtimeState, query string) ([]domain.Node, error) {
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}
	return e.expand(ctx, st, query)
}

// expand runs the hop-1 query, the hop-2 queries for the top seeds and the
// enrichment fan-out. A result cut short by ctx is returned but not cached.
func (e *Engine) expand(ctx context.Context, st *runtimeState, query string) ([]domain.Node, error) {
	hop1 := e.query(ctx, st, query, domain.LevelDirect)
	if len(hop1) == 0 {
		return []domain.Node{}, nil
	}

	nodes := hop1
	for _, seed := range hop1[:min(e.cfg.ExpandTop, len(hop1))] {
		nodes = append(nodes, e.query(ctx, st, seed.Name, domain.LevelSecond)...)
	}

	e.enrich(ctx, st, nodes)

	if err := ctx.Err(); err != nil {
		e.logger.Warn("Search interrupted, returning partial result uncached",
			zap.String("query", query), zap.Int("nodes", len(nodes)), zap.Error(err))
		return nodes, nil
	}
	e.store(st, query, nodes)
	return nodes, nil
}

// query calls the vector backend once. Failures become an empty result.
func (e *Engine) query(ctx context.Context, st *runtimeState, text string, level int) []domain.Node {
	hop := strconv.Itoa(level)
	matches, err := st.clients.Vectors.Query(ctx, text)
	if err != nil {
		metrics.BackendCallsTotal.WithLabelValues(e.role.String(), hop, "error").Inc()
		e.logger.Warn("Vector query failed", zap.String("text", text), zap.Int("hop", level), zap.Error(err))
		return nil
	}
	metrics.BackendCallsTotal.WithLabelValues(e.role.String(), hop, "ok").Inc()
	return domain.NodesFromMatches(matches, level, e.cfg.Now())
}

func (e *Engine) lookup(query string) ([]domain.Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nodes, hit, expired := e.results.get(query, e.cfg.Now())
	if expired {
		metrics.CacheEvictionsTotal.WithLabelValues(e.role.String(), "ttl").Inc()
		metrics.CacheEntries.WithLabelValues(e.role.String()).Set(float64(e.results.len()))
	}
	return nodes, hit
}

// store caches nodes unless the engine was shut down or restarted since st was loaded.
func (e *Engine) store(st *runtimeState, query string, nodes []domain.Node) {
	e.mu.Lock()
	if e.state.Load() != st {
		e.mu.Unlock()
		return
	}
	evicted := e.results.put(query, nodes, e.cfg.Now())
	size := e.results.len()
	e.mu.Unlock()

	if evicted > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues(e.role.String(), "capacity").Add(float64(evicted))
		e.logger.Debug("Result cache trimmed", zap.Int("evicted", evicted), zap.Int("size", size))
	}
	metrics.CacheEntries.WithLabelValues(e.role.String()).Set(float64(size))
}

// Images returns the cached images for a concept, empty if none.
func (e *Engine) Images(concept string) []domain.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.images[concept])
}

// RefreshImages re-fetches images for one concept, or clears the image cache when concept is empty.
func (e *Engine) RefreshImages(ctx context.Context, concept string) error {
	st := e.state.Load()
	if st == nil {
		return fmt.Errorf("%s engine: %w", e.role, domain.ErrEngineNotOperational)
	}

	if concept == "" {
		e.mu.Lock()
		clear(e.images)
		e.mu.Unlock()
		return nil
	}

	e.mu.Lock()
	delete(e.images, concept)
	e.mu.Unlock()

	images, err := e.fetchImages(ctx, st, concept)
	if len(images) == 0 {
		if err != nil {
			return fmt.Errorf("refresh %q: %w: %w", concept, domain.ErrImagesNotRefreshed, err)
		}
		return fmt.Errorf("refresh %q: %w", concept, domain.ErrImagesNotRefreshed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Load() != st {
		return fmt.Errorf("%s engine: %w", e.role, domain.ErrEngineNotOperational)
	}
	e.images[concept] = images
	return nil
}

// ClearCache empties the result and image caches.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	e.results.clear()
	clear(e.images)
	e.mu.Unlock()
	metrics.CacheEntries.WithLabelValues(e.role.String()).Set(0)
}

// CacheSize returns the number of stored result entries, expired ones included until looked up.
func (e *Engine) CacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results.len()
}

// ImageCacheSize returns the number of concepts with cached images.
func (e *Engine) ImageCacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.images)
}

// CachedConcepts lists concepts that currently have images, sorted.
func (e *Engine) CachedConcepts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Sorted(maps.Keys(e.images))
}
