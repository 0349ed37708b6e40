// Package telemetry folds completed-search records into rolling statistics.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
)

// DefaultHistoryCapacity is the number of records retained for Recent.
const DefaultHistoryCapacity = 10000

// Report is a point-in-time snapshot of the aggregate statistics.
type Report struct {
	TotalQueries      int64     `json:"totalQueries"`
	FailedQueries     int64     `json:"failedQueries"`
	AverageResponseMs float64   `json:"averageResponseTime"`
	ErrorRate         float64   `json:"errorRate"`
	HistorySize       int       `json:"historySize"`
	Timestamp         time.Time `json:"timestamp"`
}

// Aggregator keeps O(1) counters and a FIFO history ring. All state sits behind one mutex.
type Aggregator struct {
	logger *zap.Logger

	mu          sync.Mutex
	running     bool
	total       int64
	failed      int64
	totalTimeMs int64

	history []domain.SearchTelemetry
	head    int // index of the oldest record once the ring is full
	size    int
}

// NewAggregator creates a stopped aggregator. capacity <= 0 uses the default.
func NewAggregator(capacity int, logger *zap.Logger) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &Aggregator{
		logger:  logger.Named("telemetry"),
		history: make([]domain.SearchTelemetry, capacity),
	}
}

// Start makes Process accept records.
func (a *Aggregator) Start() {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	a.logger.Info("Telemetry aggregator started")
}

// Stop makes Process drop records. Counters and history are kept.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.logger.Info("Telemetry aggregator stopped")
}

// Running reports whether records are being accepted.
func (a *Aggregator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Process folds one record in. A full history drops its oldest record first.
func (a *Aggregator) Process(rec domain.SearchTelemetry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}

	a.total++
	a.totalTimeMs += rec.ProcessingMs
	if rec.Failed {
		a.failed++
	}

	capacity := len(a.history)
	if a.size < capacity {
		a.history[(a.head+a.size)%capacity] = rec
		a.size++
		return
	}
	a.history[a.head] = rec
	a.head = (a.head + 1) % capacity
}

// AverageResponseTime returns the mean processing time in ms, 0 with no queries.
func (a *Aggregator) AverageResponseTime() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.average()
}

// ErrorRate returns failed / total, 0 with no queries.
func (a *Aggregator) ErrorRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errorRate()
}

// TotalQueries returns the number of processed records.
func (a *Aggregator) TotalQueries() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// HistorySize returns the number of retained records.
func (a *Aggregator) HistorySize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Report returns a consistent snapshot of all counters.
func (a *Aggregator) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Report{
		TotalQueries:      a.total,
		FailedQueries:     a.failed,
		AverageResponseMs: a.average(),
		ErrorRate:         a.errorRate(),
		HistorySize:       a.size,
		Timestamp:         time.Now(),
	}
}

// Recent returns up to n of the newest records, oldest first.
func (a *Aggregator) Recent(n int) []domain.SearchTelemetry {
	a.mu.Lock()
	defer a.mu.Unlock()

	n = min(max(n, 0), a.size)
	out := make([]domain.SearchTelemetry, 0, n)
	capacity := len(a.history)
	for i := a.size - n; i < a.size; i++ {
		out = append(out, a.history[(a.head+i)%capacity])
	}
	return out
}

func (a *Aggregator) average() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.totalTimeMs) / float64(a.total)
}

func (a *Aggregator) errorRate() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.failed) / float64(a.total)
}
