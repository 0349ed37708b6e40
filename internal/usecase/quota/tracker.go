// Package quota tracks the rolling daily request allowance of the image API.
package quota

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/metrics"
)

// Window is the length of one quota window, measured from its start.
const Window = 24 * time.Hour

// Store persists the request counter of the current window.
// Implementations expire the counter together with the window.
type Store interface {
	Add(ctx context.Context, n int64) error
	Load(ctx context.Context) (int64, error)
}

// Tracker is an in-memory request quota with optional write-behind persistence.
// The window restarts once a full Window has elapsed since windowStart; it is
// not aligned to calendar days.
type Tracker struct {
	mu          sync.Mutex
	used        int64
	limit       int64
	windowStart time.Time
	now         func() time.Time
	store       Store
	logger      *zap.Logger
}

// NewTracker creates a tracker allowing limit requests per window.
func NewTracker(limit int64, logger *zap.Logger) *Tracker {
	return &Tracker{
		limit:       limit,
		windowStart: time.Now(),
		now:         time.Now,
		logger:      logger,
	}
}

// WithClock replaces the time source and restarts the window at the new "now".
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
	t.windowStart = now()
	return t
}

// WithStore attaches persistence and loads the counter of the current window.
func (t *Tracker) WithStore(ctx context.Context, store Store) *Tracker {
	t.store = store

	used, err := store.Load(ctx)
	if err != nil {
		t.logger.Warn("Failed to load image quota from store", zap.Error(err))
		return t
	}

	t.mu.Lock()
	t.used = used
	t.mu.Unlock()

	t.logger.Info("Image quota loaded from store", zap.Int64("used", used), zap.Int64("limit", t.limit))
	metrics.ImageQuotaRemaining.Set(float64(t.Remaining()))
	return t
}

// Available reports whether a request may be made in the current window.
func (t *Tracker) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollIfNeeded()
	return t.used < t.limit
}

// Reserve claims one request from the window. Returns false when the quota is spent.
func (t *Tracker) Reserve() bool {
	t.mu.Lock()
	t.rollIfNeeded()
	if t.used >= t.limit {
		t.mu.Unlock()
		return false
	}
	t.used++
	remaining := t.limit - t.used
	store := t.store
	t.mu.Unlock()

	metrics.ImageQuotaRemaining.Set(float64(remaining))

	if store == nil {
		return true
	}

	// Write-behind: the caller never waits on the store longer than this.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Add(ctx, 1); err != nil {
		t.logger.Warn("Failed to persist image quota", zap.Error(err))
	}
	return true
}

// Remaining returns requests left in the current window.
func (t *Tracker) Remaining() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollIfNeeded()
	return max(0, t.limit-t.used)
}

// Used returns requests made in the current window.
func (t *Tracker) Used() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollIfNeeded()
	return t.used
}

// Limit returns the per-window cap.
func (t *Tracker) Limit() int64 { return t.limit }

// rollIfNeeded starts a new window once a full Window has passed. Caller holds mu.
func (t *Tracker) rollIfNeeded() {
	now := t.now()
	if now.Sub(t.windowStart) >= Window {
		t.used = 0
		t.windowStart = now
	}
}
