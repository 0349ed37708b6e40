package engine

import (
	"container/list"
	"slices"
	"time"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
)

type cacheEntry struct {
	query    string
	nodes    []domain.Node
	storedAt time.Time
}

// resultCache maps a query to its node list. Entries expire lazily on lookup
// and are evicted oldest-inserted first, a batch at a time, once the count
// exceeds capacity. Not safe for concurrent use; the engine lock guards it.
type resultCache struct {
	ttl      time.Duration
	capacity int
	batch    int
	entries  map[string]*list.Element
	order    *list.List // front = oldest insertion
}

func newResultCache(ttl time.Duration, capacity, batch int) *resultCache {
	return &resultCache{
		ttl:      ttl,
		capacity: capacity,
		batch:    max(batch, 1),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// get returns a copy of the cached nodes. An entry as old as ttl is dropped and reported as a miss.
func (c *resultCache) get(query string, now time.Time) (nodes []domain.Node, hit, expired bool) {
	el, ok := c.entries[query]
	if !ok {
		return nil, false, false
	}
	entry := el.Value.(*cacheEntry)
	if now.Sub(entry.storedAt) >= c.ttl {
		c.order.Remove(el)
		delete(c.entries, query)
		return nil, false, true
	}
	return slices.Clone(entry.nodes), true, false
}

// put stores nodes under query. Overwriting counts as a fresh insertion.
// Returns how many entries were evicted for capacity.
func (c *resultCache) put(query string, nodes []domain.Node, now time.Time) int {
	if el, ok := c.entries[query]; ok {
		c.order.Remove(el)
	}
	c.entries[query] = c.order.PushBack(&cacheEntry{
		query:    query,
		nodes:    slices.Clone(nodes),
		storedAt: now,
	})

	if len(c.entries) <= c.capacity {
		return 0
	}

	evicted := 0
	for evicted < c.batch && c.order.Len() > 0 {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).query)
		evicted++
	}
	return evicted
}

func (c *resultCache) len() int { return len(c.entries) }

func (c *resultCache) clear() {
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}
