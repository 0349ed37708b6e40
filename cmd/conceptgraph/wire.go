package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/config"
	"github.com/kailas-cloud/conceptgraph/internal/db"
	dbValkey "github.com/kailas-cloud/conceptgraph/internal/db/valkey"
	"github.com/kailas-cloud/conceptgraph/internal/domain"
	"github.com/kailas-cloud/conceptgraph/internal/metrics"
	conceptrepo "github.com/kailas-cloud/conceptgraph/internal/repository/concept"
	"github.com/kailas-cloud/conceptgraph/internal/repository/embcache"
	quotarepo "github.com/kailas-cloud/conceptgraph/internal/repository/quota"
	openaiEmb "github.com/kailas-cloud/conceptgraph/internal/transport/openai"
	"github.com/kailas-cloud/conceptgraph/internal/transport/pinterest"
	"github.com/kailas-cloud/conceptgraph/internal/transport/weaviate"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/engine"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/quota"
)

// vectorClientTimeout bounds a single Weaviate round trip.
const vectorClientTimeout = 15 * time.Second

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (db.Store, error) {
	store, err := dbValkey.NewStore(dbValkey.Config{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		Driver:   cfg.Driver,
	})
	if err != nil {
		return nil, fmt.Errorf("create database store: %w", err)
	}

	if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database", zap.String("driver", cfg.Driver), zap.Strings("addrs", cfg.Addrs))
	return store, nil
}

// buildImageClient creates the single image client shared by both engines, so
// they draw from one daily quota.
func buildImageClient(ctx context.Context, cfg config.Config, store db.Store, logger *zap.Logger) *pinterest.Client {
	tracker := quota.NewTracker(cfg.Images.DailyQuota, logger.Named("quota"))
	if cfg.Images.PersistQuota && store != nil {
		tracker.WithStore(ctx, quotarepo.New(store, cfg.Database.KeyPrefix, "images", quota.Window))
	}

	return pinterest.NewClient(pinterest.Config{
		BaseURL:           cfg.Images.BaseURL,
		APIKey:            cfg.Images.APIKey,
		PageSize:          cfg.Images.PageSize,
		Timeout:           time.Duration(cfg.Images.TimeoutSec) * time.Second,
		RequestsPerSecond: cfg.Images.RequestsPerSecond,
		Burst:             cfg.Images.Burst,
	}, tracker, nil, logger)
}

func engineConfig(s config.SearchConfig) engine.Config {
	return engine.Config{
		ExpandTop:         s.ExpandTop,
		CacheTTL:          s.CacheTTL(),
		CacheCapacity:     s.CacheCapacity,
		CacheEvictBatch:   s.CacheEvictBatch,
		QueryTimeout:      s.QueryTimeout(),
		EnrichConcurrency: s.EnrichConcurrency,
		Dedupe:            s.Dedupe(),
		Now:               time.Now,
	}
}

// vectorFactory returns the role's client builder. It runs on every
// Initialize, so an emergency restart gets fresh vector clients.
func vectorFactory(
	ec config.EngineConfig,
	cfg config.Config,
	store db.Store,
	images engine.ImageSearcher,
	logger *zap.Logger,
) engine.ClientFactory {
	return func(_ context.Context) (engine.Clients, error) {
		vectors, err := buildVectorSearcher(ec, cfg, store, logger)
		if err != nil {
			return engine.Clients{}, err
		}
		return engine.Clients{Vectors: vectors, Images: images}, nil
	}
}

func buildVectorSearcher(
	ec config.EngineConfig,
	cfg config.Config,
	store db.Store,
	logger *zap.Logger,
) (engine.VectorSearcher, error) {
	switch ec.Backend {
	case config.BackendWeaviate, "":
		if ec.Endpoint == "" {
			return nil, fmt.Errorf("weaviate backend: endpoint is required")
		}
		return weaviate.NewClient(weaviate.Config{
			Endpoint:  ec.Endpoint,
			APIKey:    ec.APIKey,
			ClassName: ec.ClassName,
			Limit:     ec.Limit,
			Timeout:   vectorClientTimeout,
		}, nil, logger), nil

	case config.BackendValkey:
		if store == nil {
			return nil, fmt.Errorf("valkey backend: database store not configured")
		}
		return conceptrepo.New(store, buildQueryEmbedder(cfg, store, logger),
			cfg.Database.IndexName, ec.Limit, logger), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", ec.Backend)
	}
}

// buildQueryEmbedder assembles the decorator chain: OpenAI -> Cached -> Instruction.
func buildQueryEmbedder(cfg config.Config, store db.Store, logger *zap.Logger) domain.Embedder {
	base := openaiEmb.NewEmbedder(openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	}, logger)

	var embedder domain.Embedder = base
	if cfg.Embedding.Cache {
		embedder = embcache.New(base, store, cfg.Database.KeyPrefix, embcache.DefaultTTL, metrics.EmbeddingCacheTotal, logger)
	}

	// Instruction prefix is outermost so the cache key includes it.
	if cfg.Embedding.QueryInstruction != "" {
		return domain.NewInstructionEmbedder(embedder, cfg.Embedding.QueryInstruction)
	}
	return embedder
}
