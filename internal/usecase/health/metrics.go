package health

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
	"github.com/kailas-cloud/conceptgraph/internal/metrics"
)

// Metrics holds process-wide health values. Each field is updated atomically on
// its own, so a Snapshot taken during a sample may mix old and new values.
type Metrics struct {
	cpuPercent    atomic.Uint64 // float64 bits
	memoryPercent atomic.Uint64
	memoryMB      atomic.Uint64
	errorRate     atomic.Uint64
	activeConns   atomic.Int64
	heartbeat     atomic.Int64 // unix ms
}

// Snapshot is a copy of the metric values.
type Snapshot struct {
	CPUPercent        float64   `json:"cpuUsage"`
	MemoryPercent     float64   `json:"memoryPercent"`
	MemoryMB          float64   `json:"memoryUsage"`
	ErrorRate         float64   `json:"errorRate"`
	ActiveConnections int64     `json:"activeConnections"`
	LastHeartbeat     time.Time `json:"lastHeartbeat"`
}

func storeFloat(v *atomic.Uint64, f float64) { v.Store(math.Float64bits(f)) }
func loadFloat(v *atomic.Uint64) float64 { return math.Float64frombits(v.Load()) }

// Observe records a probe sample and refreshes the heartbeat.
func (m *Metrics) Observe(s Sample, now time.Time) {
	storeFloat(&m.cpuPercent, s.CPUPercent)
	storeFloat(&m.memoryPercent, s.MemoryPercent)
	storeFloat(&m.memoryMB, s.MemoryMB)
	m.Beat(now)

	metrics.HealthCPUPercent.Set(s.CPUPercent)
	metrics.HealthMemoryMB.Set(s.MemoryMB)
}

// Beat refreshes the heartbeat timestamp.
func (m *Metrics) Beat(now time.Time) {
	m.heartbeat.Store(now.UnixMilli())
}

// SetErrorRate records the current failed-search ratio.
func (m *Metrics) SetErrorRate(rate float64) {
	storeFloat(&m.errorRate, rate)
	metrics.HealthErrorRate.Set(rate)
}

// ConnOpened and ConnClosed track in-flight HTTP connections.
func (m *Metrics) ConnOpened() { m.activeConns.Add(1) }

// ConnClosed decrements the in-flight connection count.
func (m *Metrics) ConnClosed() { m.activeConns.Add(-1) }

// Status classifies the current values.
func (m *Metrics) Status() domain.SystemHealth {
	status := domain.Classify(loadFloat(&m.cpuPercent), loadFloat(&m.memoryPercent), loadFloat(&m.errorRate))
	metrics.HealthStatus.Set(float64(status))
	return status
}

// Snapshot reads every field once.
func (m *Metrics) Snapshot() Snapshot {
	var hb time.Time
	if ms := m.heartbeat.Load(); ms > 0 {
		hb = time.UnixMilli(ms)
	}
	return Snapshot{
		CPUPercent:        loadFloat(&m.cpuPercent),
		MemoryPercent:     loadFloat(&m.memoryPercent),
		MemoryMB:          loadFloat(&m.memoryMB),
		ErrorRate:         loadFloat(&m.errorRate),
		ActiveConnections: m.activeConns.Load(),
		LastHeartbeat:     hb,
	}
}
