// Package manager owns the engines, the telemetry pipeline and the health
// sampler, and is the single failover point for searches.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	"github.com/kailas-cloud/conceptgraph/internal/metrics"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/health"
	"github.com/kailas-cloud/conceptgraph/internal/usecase/telemetry"
)

// DefaultSampleInterval is the health sampler period.
const DefaultSampleInterval = 5 * time.Second

// Config tunes the background workers.
type Config struct {
	SampleInterval time.Duration
}

// Deps are the collaborators a Manager coordinates.
type Deps struct {
	Primary    Engine
	Backup     Engine // optional
	Aggregator Aggregator
	Prober     Prober // optional; without it only the heartbeat is refreshed
	Metrics    *health.Metrics
}

// HealthReport is the combined health view.
type HealthReport struct {
	Status             domain.SystemHealth `json:"status"`
	Metrics            health.Snapshot     `json:"metrics"`
	PrimaryOperational bool                `json:"primaryEngineOperational"`
	BackupOperational  bool                `json:"backupEngineOperational"`
	TelemetryRunning   bool                `json:"telemetryRunning"`
	UptimeMs           int64               `json:"uptimeMs"`
	Timestamp          time.Time           `json:"timestamp"`
}

// Manager is the top-level coordinator.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	state     atomic.Int32
	startedAt atomic.Int64 // unix ms, 0 until running

	// telemetry queue
	queueMu sync.Mutex
	queue   []domain.SearchTelemetry
	signal  chan struct{}

	searches atomic.Int64
	failures atomic.Int64

	done         chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New creates an uninitialized manager.
func New(cfg Config, deps Deps, logger *zap.Logger) *Manager {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if deps.Metrics == nil {
		deps.Metrics = &health.Metrics{}
	}
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("manager"),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State { return State(m.state.Load()) }

// Metrics exposes the process health values, e.g. for connection tracking.
func (m *Manager) Metrics() *health.Metrics { return m.deps.Metrics }

// Initialize starts telemetry, brings up both engines and spawns the workers.
// Only a primary engine failure is fatal.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return fmt.Errorf("initialize: manager is %s", m.State())
	}

	m.deps.Aggregator.Start()

	if err := m.deps.Primary.Initialize(ctx); err != nil {
		m.deps.Aggregator.Stop()
		m.state.Store(int32(StateStopped))
		return fmt.Errorf("initialize primary engine: %w", err)
	}

	if m.deps.Backup != nil {
		if err := m.deps.Backup.Initialize(ctx); err != nil {
			m.logger.Warn("Backup engine failed to initialize, running primary only", zap.Error(err))
		}
	}

	now := time.Now()
	m.startedAt.Store(now.UnixMilli())
	m.deps.Metrics.Beat(now)

	m.wg.Add(2)
	go m.telemetryWorker()
	go m.healthWorker()

	m.state.Store(int32(StateRunning))
	m.logger.Info("Manager running",
		zap.Bool("primary", m.deps.Primary.Operational()),
		zap.Bool("backup", m.backupOperational()),
	)
	return nil
}

// Search runs query on the primary engine, falling back to the backup.
// limit > 0 truncates the result. Every attempt is recorded as telemetry.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]domain.Node, error) {
	if m.State() != StateRunning {
		return nil, domain.ErrNotRunning
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}

	start := time.Now()
	nodes, err := m.search(ctx, query)
	failed := err != nil

	total := m.searches.Add(1)
	fails := m.failures.Load()
	if failed {
		fails = m.failures.Add(1)
		metrics.SearchFailuresTotal.Inc()
	}
	m.deps.Metrics.SetErrorRate(float64(fails) / float64(total))

	m.RecordTelemetry(domain.NewSearchTelemetry(query, time.Since(start), len(nodes), failed))

	if err != nil {
		return nil, err
	}
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes, nil
}

func (m *Manager) search(ctx context.Context, query string) ([]domain.Node, error) {
	if m.deps.Primary.Operational() {
		nodes, err := m.deps.Primary.Search(ctx, query)
		if err == nil {
			return nodes, nil
		}
		m.logger.Warn("Primary engine search failed", zap.String("query", query), zap.Error(err))
	}

	if m.backupOperational() {
		metrics.FailoversTotal.Inc()
		nodes, err := m.deps.Backup.Search(ctx, query)
		if err == nil {
			return nodes, nil
		}
		m.logger.Warn("Backup engine search failed", zap.String("query", query), zap.Error(err))
	}

	return nil, domain.ErrNoEnginesAvailable
}

// RecordTelemetry enqueues a record and wakes the drain worker. Never blocks on a full queue.
func (m *Manager) RecordTelemetry(rec domain.SearchTelemetry) {
	m.queueMu.Lock()
	m.queue = append(m.queue, rec)
	depth := len(m.queue)
	m.queueMu.Unlock()

	metrics.TelemetryQueueDepth.Set(float64(depth))
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// SystemHealth classifies the current process metrics.
func (m *Manager) SystemHealth() domain.SystemHealth {
	return m.deps.Metrics.Status()
}

// HealthReport returns status, metrics and component flags.
func (m *Manager) HealthReport() HealthReport {
	var uptime int64
	if started := m.startedAt.Load(); started > 0 {
		uptime = time.Now().UnixMilli() - started
	}
	return HealthReport{
		Status:             m.SystemHealth(),
		Metrics:            m.deps.Metrics.Snapshot(),
		PrimaryOperational: m.deps.Primary.Operational(),
		BackupOperational:  m.backupOperational(),
		TelemetryRunning:   m.deps.Aggregator.Running(),
		UptimeMs:           uptime,
		Timestamp:          time.Now(),
	}
}

// Images returns cached images for concept from the first operational engine.
func (m *Manager) Images(concept string) []domain.Image {
	if e := m.activeEngine(); e != nil {
		return e.Images(concept)
	}
	return []domain.Image{}
}

// RefreshImages re-fetches images on the first operational engine; empty concept clears them all.
func (m *Manager) RefreshImages(ctx context.Context, concept string) error {
	e := m.activeEngine()
	if e == nil {
		return domain.ErrNoEnginesAvailable
	}
	return e.RefreshImages(ctx, concept)
}

// TelemetryRunning reports whether the aggregator accepts records.
func (m *Manager) TelemetryRunning() bool {
	return m.deps.Aggregator.Running()
}

// PerformanceReport returns the telemetry snapshot.
func (m *Manager) PerformanceReport() telemetry.Report {
	return m.deps.Aggregator.Report()
}

// RecentSearches returns up to n of the newest telemetry records.
func (m *Manager) RecentSearches(n int) []domain.SearchTelemetry {
	return m.deps.Aggregator.Recent(n)
}

// ClearCache empties the caches of every operational engine.
func (m *Manager) ClearCache() error {
	cleared := 0
	for _, e := range m.engines() {
		if e.Operational() {
			e.ClearCache()
			cleared++
		}
	}
	if cleared == 0 {
		return domain.ErrNoEnginesAvailable
	}
	m.logger.Info("Caches cleared", zap.Int("engines", cleared))
	return nil
}

// EmergencyRestart restarts one subsystem by name. Unknown names change nothing.
func (m *Manager) EmergencyRestart(ctx context.Context, name string) error {
	sub, err := domain.ParseSubsystem(name)
	if err != nil {
		return err
	}

	log := m.logger.With(zap.Stringer("subsystem", sub))
	log.Warn("Emergency restart requested")

	switch sub {
	case domain.SubsystemTelemetry:
		m.deps.Aggregator.Stop()
		m.deps.Aggregator.Start()
		return nil
	case domain.SubsystemPrimaryEngine:
		return m.restartEngine(ctx, m.deps.Primary, log)
	case domain.SubsystemBackupEngine:
		if m.deps.Backup == nil {
			return fmt.Errorf("restart %s: %w", sub, domain.ErrSubsystemUnavailable)
		}
		return m.restartEngine(ctx, m.deps.Backup, log)
	}
	return fmt.Errorf("restart %q: %w", name, domain.ErrUnknownSubsystem)
}

func (m *Manager) restartEngine(ctx context.Context, e Engine, log *zap.Logger) error {
	e.Shutdown()
	if err := e.Initialize(ctx); err != nil {
		log.Error("Emergency restart failed", zap.Error(err))
		return fmt.Errorf("restart %s engine: %w", e.Role(), err)
	}
	log.Info("Emergency restart completed")
	return nil
}

// Shutdown stops telemetry, shuts both engines and joins the workers. Safe to call repeatedly.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		prev := State(m.state.Swap(int32(StateShuttingDown)))
		m.logger.Info("Manager shutting down", zap.Stringer("from", prev))

		m.deps.Aggregator.Stop()
		for _, e := range m.engines() {
			e.Shutdown()
		}

		close(m.done)
		m.wg.Wait()

		m.state.Store(int32(StateStopped))
		m.logger.Info("Manager stopped")
	})
}

func (m *Manager) engines() []Engine {
	if m.deps.Backup == nil {
		return []Engine{m.deps.Primary}
	}
	return []Engine{m.deps.Primary, m.deps.Backup}
}

func (m *Manager) activeEngine() Engine {
	for _, e := range m.engines() {
		if e.Operational() {
			return e
		}
	}
	return nil
}

func (m *Manager) backupOperational() bool {
	return m.deps.Backup != nil && m.deps.Backup.Operational()
}
