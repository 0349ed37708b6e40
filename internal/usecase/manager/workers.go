package manager

import (
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	"github.com/kailas-cloud/conceptgraph/internal/metrics"
)

// telemetryWorker drains the queue into the aggregator each time it is
// signalled, and once more on shutdown before exiting.
func (m *Manager) telemetryWorker() {
	defer m.wg.Done()
	m.logger.Debug("Telemetry worker started")

	for {
		select {
		case <-m.signal:
			m.drain()
		case <-m.done:
			m.drain()
			m.logger.Debug("Telemetry worker stopped")
			return
		}
	}
}

// drain processes records one at a time without holding the queue lock
// across the aggregator call.
func (m *Manager) drain() {
	for {
		m.queueMu.Lock()
		if len(m.queue) == 0 {
			m.queueMu.Unlock()
			metrics.TelemetryQueueDepth.Set(0)
			return
		}
		rec := m.queue[0]
		m.queue[0] = domain.SearchTelemetry{}
		m.queue = m.queue[1:]
		m.queueMu.Unlock()

		m.deps.Aggregator.Process(rec)
	}
}

// healthWorker samples resource usage every interval until shutdown.
func (m *Manager) healthWorker() {
	defer m.wg.Done()
	m.logger.Debug("Health worker started", zap.Duration("interval", m.cfg.SampleInterval))

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	if m.deps.Prober == nil {
		m.logger.Warn("No resource prober configured, only the heartbeat is refreshed")
	}

	m.sample()
	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.done:
			m.logger.Debug("Health worker stopped")
			return
		}
	}
}

func (m *Manager) sample() {
	now := time.Now()
	if m.deps.Prober == nil {
		m.deps.Metrics.Beat(now)
		return
	}

	s, err := m.deps.Prober.Sample()
	if err != nil {
		m.logger.Warn("Health sample failed", zap.Error(err))
		m.deps.Metrics.Beat(now)
		return
	}
	m.deps.Metrics.Observe(s, now)

	if status := m.deps.Metrics.Status(); status != domain.Nominal {
		m.logger.Warn("System health not nominal",
			zap.Stringer("status", status),
			zap.Float64("cpu_percent", s.CPUPercent),
			zap.Float64("memory_percent", s.MemoryPercent),
		)
	}
}
