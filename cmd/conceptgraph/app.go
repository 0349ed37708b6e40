package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/config"
	"github.com/kailas-cloud/conceptgraph/internal/db"
	"github.com/kailas-cloud/conceptgraph/internal/domain"
	"github.com/kailas-cloud/conceptgraph/internal/metrics"
	chiTransport "github.com/kailas-cloud/conceptgraph/internal/transport/chi"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/engine"
	healthuc "github.com/kailas-cloud/conceptgraph/internal/usecase/health"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/manager"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/telemetry"
	"github.com/kailas-cloud/conceptgraph/internal/version"
)

// App owns every long-lived component. It is created once per process and torn
// down through Shutdown or Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store   db.Store // nil unless a component needs Valkey
	manager *manager.Manager
	server  *http.Server
}

// NewApp wires and initializes the manager. The HTTP server is built but not started.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.RegisterSearchMetrics()
	metrics.RegisterEmbeddingMetrics()

	app := &App{cfg: cfg, logger: logger}

	if cfg.UsesValkey() {
		store, err := openStore(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		app.store = store
	}

	images := buildImageClient(ctx, cfg, app.store, logger)
	engineCfg := engineConfig(cfg.Search)

	primary := engine.New(domain.RolePrimary, engineCfg,
		vectorFactory(cfg.Engines.Primary, cfg, app.store, images, logger), logger)
	backup := engine.New(domain.RoleBackup, engineCfg,
		vectorFactory(cfg.Engines.Backup, cfg, app.store, images, logger), logger)

	var prober manager.Prober
	if p, err := healthuc.NewProcProbe(); err != nil {
		logger.Warn("Process probe unavailable", zap.Error(err))
	} else {
		prober = p
	}

	app.manager = manager.New(manager.Config{SampleInterval: cfg.Health.SampleInterval()}, manager.Deps{
		Primary:    primary,
		Backup:     backup,
		Aggregator: telemetry.NewAggregator(cfg.Telemetry.HistoryCapacity, logger),
		Prober:     prober,
	}, logger)

	if err := app.manager.Initialize(ctx); err != nil {
		app.closeStore()
		return nil, fmt.Errorf("initialize manager: %w", err)
	}

	readiness := healthuc.New(map[string]healthuc.Component{
		"primary_engine": primary,
		"backup_engine":  backup,
		"telemetry":      runningComponent{app.manager},
	}, "primary_engine", "backup_engine")

	server := chiTransport.NewServer(app.manager, readiness, version.Version, logger)
	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      chiTransport.NewRouter(server, app.manager.Metrics(), logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	return app, nil
}

// Manager returns the coordinator.
func (a *App) Manager() *manager.Manager { return a.manager }

// Handler returns the HTTP handler chain.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Serve blocks until the server stops. A graceful Shutdown returns nil.
func (a *App) Serve() error {
	a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown drains HTTP, then stops the manager and closes the store.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("Error during HTTP shutdown", zap.Error(err))
	}
	a.Close()
}

// Close stops the manager and closes the store without touching HTTP.
func (a *App) Close() {
	a.manager.Shutdown()
	a.closeStore()
}

func (a *App) closeStore() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

// runningComponent reports the telemetry aggregator state for readiness checks.
type runningComponent struct {
	m *manager.Manager
}

func (r runningComponent) Operational() bool {
	return r.m.TelemetryRunning()
}
