package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
)

// --- Mocks ---

type mockVectors struct {
	mu      sync.Mutex
	results map[string][]domain.Match
	errs    map[string]error
	calls   []string
	gate    chan struct{} // when set, every call blocks until closed
	entered chan struct{}

	stall map[string]bool   // calls for these texts wait for ctx to end
	after func(text string) // runs once a call has its answer
}

func (m *mockVectors) Query(ctx context.Context, text string) ([]domain.Match, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	gate, entered := m.gate, m.entered
	m.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	if m.stall[text] {
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.after != nil {
		defer m.after(text)
	}

	if err := m.errs[text]; err != nil {
		return nil, err
	}
	return m.results[text], nil
}

func (m *mockVectors) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockImages struct {
	unavailable bool
	results     map[string][]domain.Image
	errs        map[string]error
	searches    atomic.Int32
}

func (m *mockImages) Available() bool { return !m.unavailable }

func (m *mockImages) Search(_ context.Context, text string) ([]domain.Image, error) {
	m.searches.Add(1)
	if err := m.errs[text]; err != nil {
		return nil, err
	}
	return m.results[text], nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func matches(names ...string) []domain.Match {
	out := make([]domain.Match, 0, len(names))
	for i, n := range names {
		out = append(out, domain.Match{Name: n, Certainty: 1 - float64(i)*0.1})
	}
	return out
}

func newTestEngine(t *testing.T, cfg Config, v *mockVectors, img *mockImages) *Engine {
	t.Helper()
	if img == nil {
		img = &mockImages{}
	}
	e := New(domain.RolePrimary, cfg, func(context.Context) (Clients, error) {
		return Clients{Vectors: v, Images: img}, nil
	}, zap.NewNop())
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

func rocketVectors() *mockVectors {
	return &mockVectors{results: map[string][]domain.Match{
		"rocket":  matches("booster", "orbit", "fuel", "nozzle"),
		"booster": matches("stage", "thrust"),
		"orbit":   matches("satellite", "gravity"),
		"fuel":    matches("hydrogen", "oxygen"),
		"nozzle":  matches("exhaust", "throat"),
	}}
}

// --- Tests ---

func TestSearch_TwoHopExpansion(t *testing.T) {
	v := rocketVectors()
	e := newTestEngine(t, DefaultConfig(), v, nil)

	nodes, err := e.Search(context.Background(), "rocket")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(nodes) != 10 {
		t.Fatalf("expected 10 nodes, got %d", len(nodes))
	}

	want := []string{"booster", "orbit", "fuel", "nozzle", "stage", "thrust", "satellite", "gravity", "hydrogen", "oxygen"}
	for i, n := range nodes {
		if n.Name != want[i] {
			t.Errorf("node %d: expected %q, got %q", i, want[i], n.Name)
		}
		wantLevel := domain.LevelDirect
		if i >= 4 {
			wantLevel = domain.LevelSecond
		}
		if n.Level != wantLevel {
			t.Errorf("node %d (%s): expected level %d, got %d", i, n.Name, wantLevel, n.Level)
		}
		if n.ID == "" {
			t.Errorf("node %d has empty id", i)
		}
		if n.Health != domain.Nominal {
			t.Errorf("node %d: expected NOMINAL, got %v", i, n.Health)
		}
	}

	// one hop-1 call plus three hop-2 calls; "nozzle" is never expanded
	if got := v.callCount(); got != 4 {
		t.Errorf("expected 4 vector calls, got %d (%v)", got, v.calls)
	}
}

func TestSearch_FewerSeedsThanExpandTop(t *testing.T) {
	v := &mockVectors{results: map[string][]domain.Match{
		"q": matches("a"),
		"a": matches("b", "c"),
	}}
	e := newTestEngine(t, DefaultConfig(), v, nil)

	nodes, err := e.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(nodes))
	}
	if got := v.callCount(); got != 2 {
		t.Errorf("expected 2 vector calls, got %d", got)
	}
}

func TestSearch_CacheHitMakesNoCalls(t *testing.T) {
	v := rocketVectors()
	img := &mockImages{}
	e := newTestEngine(t, DefaultConfig(), v, img)

	first, err := e.Search(context.Background(), "rocket")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	vectorCalls, imageCalls := v.callCount(), img.searches.Load()

	second, err := e.Search(context.Background(), "rocket")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if v.callCount() != vectorCalls || img.searches.Load() != imageCalls {
		t.Errorf("cache hit reached a backend: vector %d->%d, images %d->%d",
			vectorCalls, v.callCount(), imageCalls, img.searches.Load())
	}
	if len(first) != len(second) {
		t.Fatalf("expected %d nodes, got %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("node %d: cached id changed %s -> %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestSearch_CachedSliceIsIsolated(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), rocketVectors(), nil)

	first, _ := e.Search(context.Background(), "rocket")
	first[0].Name = "mutated"

	second, _ := e.Search(context.Background(), "rocket")
	if second[0].Name != "booster" {
		t.Errorf("caller mutation leaked into cache: %q", second[0].Name)
	}
}

func TestSearch_TTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	v := rocketVectors()
	e := newTestEngine(t, cfg, v, nil)

	if _, err := e.Search(context.Background(), "rocket"); err != nil {
		t.Fatalf("Search: %v", err)
	}

	clock.Advance(9*time.Minute + 59*time.Second)
	if _, err := e.Search(context.Background(), "rocket"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := v.callCount(); got != 4 {
		t.Fatalf("expected cached result before TTL, got %d calls", got)
	}

	clock.Advance(time.Second)
	if _, err := e.Search(context.Background(), "rocket"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := v.callCount(); got != 8 {
		t.Errorf("expected re-query after TTL, got %d calls", got)
	}
}

func TestSearch_CallerCancelSharedExpansionCompletes(t *testing.T) {
	v := rocketVectors()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v.after = func(text string) {
		if text == "rocket" {
			cancel()
		}
	}
	e := newTestEngine(t, DefaultConfig(), v, nil)

	nodes, err := e.Search(ctx, "rocket")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(nodes) != 10 {
		t.Fatalf("expected full expansion of 10 nodes, got %d", len(nodes))
	}
	if e.CacheSize() != 1 {
		t.Errorf("expected complete result cached, got size %d", e.CacheSize())
	}
}

func TestSearch_CancelledResultNotCached(t *testing.T) {
	v := rocketVectors()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v.after = func(text string) {
		if text == "rocket" {
			cancel()
		}
	}
	cfg := DefaultConfig()
	cfg.Dedupe = false
	e := newTestEngine(t, cfg, v, nil)

	nodes, err := e.Search(ctx, "rocket")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("expected the 4 hop-1 nodes, got %d", len(nodes))
	}
	if e.CacheSize() != 0 {
		t.Fatalf("expected partial result not cached, got size %d", e.CacheSize())
	}

	v.after = nil
	nodes, err = e.Search(context.Background(), "rocket")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(nodes) != 10 {
		t.Errorf("expected 10 nodes on a fresh search, got %d", len(nodes))
	}
	if e.CacheSize() != 1 {
		t.Errorf("expected fresh result cached, got size %d", e.CacheSize())
	}
}

func TestSearch_QueryTimeoutReturnsHop1Uncached(t *testing.T) {
	v := rocketVectors()
	v.stall = map[string]bool{"orbit": true}
	cfg := DefaultConfig()
	cfg.QueryTimeout = 30 * time.Millisecond
	e := newTestEngine(t, cfg, v, nil)

	start := time.Now()
	nodes, err := e.Search(context.Background(), "rocket")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("search did not honour the deadline, took %v", elapsed)
	}

	// booster expands; orbit stalls past the deadline; fuel runs on an expired context.
	want := []string{"booster", "orbit", "fuel", "nozzle", "stage", "thrust"}
	if len(nodes) != len(want) {
		t.Fatalf("expected %d nodes, got %d", len(want), len(nodes))
	}
	for i, n := range nodes {
		if n.Name != want[i] {
			t.Errorf("node %d: expected %q, got %q", i, want[i], n.Name)
		}
	}
	if e.CacheSize() != 0 {
		t.Errorf("expected timed-out result not cached, got size %d", e.CacheSize())
	}
}

func TestSearch_InFlightResultDroppedAfterRestart(t *testing.T) {
	v := rocketVectors()
	v.gate = make(chan struct{})
	v.entered = make(chan struct{}, 1)
	img := &mockImages{results: map[string][]domain.Image{
		"booster": {{ID: "p1", URL: "http://img/booster"}},
	}}
	e := newTestEngine(t, DefaultConfig(), v, img)

	done := make(chan []domain.Node, 1)
	go func() {
		nodes, _ := e.Search(context.Background(), "rocket")
		done <- nodes
	}()
	<-v.entered

	e.Shutdown()
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	close(v.gate)

	if nodes := <-done; len(nodes) != 10 {
		t.Fatalf("expected in-flight search to finish with 10 nodes, got %d", len(nodes))
	}
	if e.CacheSize() != 0 || e.ImageCacheSize() != 0 {
		t.Errorf("expected restarted engine to start empty, got results=%d images=%d",
			e.CacheSize(), e.ImageCacheSize())
	}
}

func TestSearch_CapacityEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheCapacity = 5
	cfg.CacheEvictBatch = 2

	v := &mockVectors{results: map[string][]domain.Match{}}
	for i := range 6 {
		v.results[fmt.Sprintf("q%d", i)] = matches(fmt.Sprintf("n%d", i))
	}
	e := newTestEngine(t, cfg, v, nil)

	for i := range 6 {
		if _, err := e.Search(context.Background(), fmt.Sprintf("q%d", i)); err != nil {
			t.Fatalf("Search q%d: %v", i, err)
		}
		if e.CacheSize() > cfg.CacheCapacity {
			t.Fatalf("cache size %d exceeds capacity %d", e.CacheSize(), cfg.CacheCapacity)
		}
	}
	if got := e.CacheSize(); got != 4 {
		t.Fatalf("expected 4 entries after eviction, got %d", got)
	}

	// q0 and q1 were the oldest insertions
	before := v.callCount()
	_, _ = e.Search(context.Background(), "q5")
	if v.callCount() != before {
		t.Errorf("q5 should still be cached")
	}
	_, _ = e.Search(context.Background(), "q0")
	if v.callCount() == before {
		t.Errorf("q0 should have been evicted")
	}
}

func TestSearch_PartialEnrichmentFailure(t *testing.T) {
	v := &mockVectors{results: map[string][]domain.Match{
		"q": matches("A", "B", "C"),
	}}
	img := &mockImages{
		results: map[string][]domain.Image{
			"A": {{ID: "a1", URL: "http://img/a1"}},
			"C": {{ID: "c1", URL: "http://img/c1"}, {ID: "c2", URL: "http://img/c2"}},
		},
		errs: map[string]error{"B": errors.New("boom")},
	}
	e := newTestEngine(t, DefaultConfig(), v, img)

	nodes, err := e.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	if got := e.ImageCacheSize(); got != 2 {
		t.Errorf("expected 2 cached concepts, got %d", got)
	}
	if got := len(e.Images("A")); got != 1 {
		t.Errorf("expected 1 image for A, got %d", got)
	}
	if got := len(e.Images("B")); got != 0 {
		t.Errorf("expected no images for B, got %d", got)
	}
	if got := len(e.Images("C")); got != 2 {
		t.Errorf("expected 2 images for C, got %d", got)
	}
}

func TestSearch_QuotaUnavailableSkipsImageSearch(t *testing.T) {
	img := &mockImages{unavailable: true, results: map[string][]domain.Image{"booster": {{ID: "x"}}}}
	e := newTestEngine(t, DefaultConfig(), rocketVectors(), img)

	if _, err := e.Search(context.Background(), "rocket"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := img.searches.Load(); got != 0 {
		t.Errorf("expected no image searches, got %d", got)
	}
	if got := e.ImageCacheSize(); got != 0 {
		t.Errorf("expected empty image cache, got %d", got)
	}
}

func TestSearch_EmptyHop1NotCached(t *testing.T) {
	v := &mockVectors{errs: map[string]error{"q": domain.ErrBackendUnavailable}}
	e := newTestEngine(t, DefaultConfig(), v, nil)

	nodes, err := e.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("backend failure must not surface: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("expected no nodes, got %d", len(nodes))
	}
	if got := e.CacheSize(); got != 0 {
		t.Errorf("empty result should not be cached, size %d", got)
	}
}

func TestSearch_Hop2FailureKeepsHop1(t *testing.T) {
	v := rocketVectors()
	v.errs = map[string]error{"orbit": errors.New("timeout")}
	e := newTestEngine(t, DefaultConfig(), v, nil)

	nodes, err := e.Search(context.Background(), "rocket")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(nodes) != 8 {
		t.Errorf("expected 8 nodes, got %d", len(nodes))
	}
}

func TestSearch_NotOperational(t *testing.T) {
	e := New(domain.RoleBackup, DefaultConfig(), func(context.Context) (Clients, error) {
		return Clients{Vectors: rocketVectors(), Images: &mockImages{}}, nil
	}, zap.NewNop())

	if _, err := e.Search(context.Background(), "rocket"); !errors.Is(err, domain.ErrEngineNotOperational) {
		t.Errorf("expected ErrEngineNotOperational before init, got %v", err)
	}

	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := e.Search(context.Background(), "rocket"); err != nil {
		t.Fatalf("Search: %v", err)
	}

	e.Shutdown()
	if e.Operational() {
		t.Error("expected not operational after shutdown")
	}
	if e.CacheSize() != 0 || e.ImageCacheSize() != 0 {
		t.Error("expected caches cleared on shutdown")
	}
	if _, err := e.Search(context.Background(), "rocket"); !errors.Is(err, domain.ErrEngineNotOperational) {
		t.Errorf("expected ErrEngineNotOperational after shutdown, got %v", err)
	}

	// restart
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("re-Initialize: %v", err)
	}
	defer e.Shutdown()
	if _, err := e.Search(context.Background(), "rocket"); err != nil {
		t.Errorf("Search after restart: %v", err)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), rocketVectors(), nil)
	if _, err := e.Search(context.Background(), "  "); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSearch_ConcurrentMissesShareOneExpansion(t *testing.T) {
	v := rocketVectors()
	v.gate = make(chan struct{})
	v.entered = make(chan struct{}, 1)
	e := newTestEngine(t, DefaultConfig(), v, nil)

	var wg sync.WaitGroup
	results := make([][]domain.Node, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = e.Search(context.Background(), "rocket")
	}()
	<-v.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = e.Search(context.Background(), "rocket")
	}()
	time.Sleep(50 * time.Millisecond)
	close(v.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if len(results[i]) != 10 {
			t.Errorf("search %d: expected 10 nodes, got %d", i, len(results[i]))
		}
	}
	if got := v.callCount(); got != 4 {
		t.Errorf("expected a single expansion (4 calls), got %d", got)
	}
}

func TestInitialize_FactoryError(t *testing.T) {
	e := New(domain.RolePrimary, DefaultConfig(), func(context.Context) (Clients, error) {
		return Clients{}, errors.New("bad endpoint")
	}, zap.NewNop())

	if err := e.Initialize(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if e.Operational() {
		t.Error("engine must not be operational after failed init")
	}
}

func TestRefreshImages(t *testing.T) {
	v := &mockVectors{results: map[string][]domain.Match{"q": matches("A", "B")}}
	img := &mockImages{results: map[string][]domain.Image{
		"A": {{ID: "a1"}},
		"B": {{ID: "b1"}},
	}}
	e := newTestEngine(t, DefaultConfig(), v, img)

	if _, err := e.Search(context.Background(), "q"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if e.ImageCacheSize() != 2 {
		t.Fatalf("expected 2 cached concepts, got %d", e.ImageCacheSize())
	}

	img.results["A"] = []domain.Image{{ID: "a2"}, {ID: "a3"}}
	if err := e.RefreshImages(context.Background(), "A"); err != nil {
		t.Fatalf("RefreshImages(A): %v", err)
	}
	if got := e.Images("A"); len(got) != 2 || got[0].ID != "a2" {
		t.Errorf("expected refreshed images, got %+v", got)
	}

	if err := e.RefreshImages(context.Background(), "unknown"); !errors.Is(err, domain.ErrImagesNotRefreshed) {
		t.Errorf("expected ErrImagesNotRefreshed, got %v", err)
	}

	if err := e.RefreshImages(context.Background(), ""); err != nil {
		t.Fatalf("RefreshImages(all): %v", err)
	}
	if e.ImageCacheSize() != 0 {
		t.Errorf("expected image cache cleared, got %d", e.ImageCacheSize())
	}
}

func TestClearCache(t *testing.T) {
	img := &mockImages{results: map[string][]domain.Image{"booster": {{ID: "b"}}}}
	e := newTestEngine(t, DefaultConfig(), rocketVectors(), img)

	if _, err := e.Search(context.Background(), "rocket"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if e.CacheSize() == 0 || e.ImageCacheSize() == 0 {
		t.Fatal("expected populated caches")
	}

	e.ClearCache()
	if e.CacheSize() != 0 || e.ImageCacheSize() != 0 {
		t.Errorf("expected empty caches, got %d/%d", e.CacheSize(), e.ImageCacheSize())
	}
}
