package vectorstore

import (
	"slices"
	"sync"
	"time"
)

// collectionCache holds the collection-name list and per-collection vector
// counts. Both expire after ttl. Mutations invalidate them explicitly.
type collectionCache struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	names   []string
	namesAt time.Time
	named   bool

	counts map[string]countEntry
}

type countEntry struct {
	count *int
	at    time.Time
}

func newCollectionCache(ttl time.Duration) *collectionCache {
	return &collectionCache{
		ttl:    ttl,
		now:    time.Now,
		counts: make(map[string]countEntry),
	}
}

func (c *collectionCache) fresh(at time.Time) bool {
	return c.now().Sub(at) < c.ttl
}

// cachedNames returns the name list if it is still fresh.
func (c *collectionCache) cachedNames() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.named || !c.fresh(c.namesAt) {
		return nil, false
	}
	return slices.Clone(c.names), true
}

func (c *collectionCache) has(name string) bool {
	names, ok := c.cachedNames()
	return ok && slices.Contains(names, name)
}

func (c *collectionCache) setNames(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = slices.Clone(names)
	c.namesAt = c.now()
	c.named = true
}

func (c *collectionCache) invalidateNames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.named = false
	c.names = nil
}

// cachedCount returns the count for name and when it was stored, if it is
// still fresh.
func (c *collectionCache) cachedCount(name string) (*int, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.counts[name]
	if !ok || !c.fresh(e.at) {
		return nil, time.Time{}, false
	}
	return e.count, e.at, true
}

// setCount stores n for name and returns the time it was stored.
func (c *collectionCache) setCount(name string, n *int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.now()
	c.counts[name] = countEntry{count: n, at: at}
	return at
}

func (c *collectionCache) dropCount(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, name)
}
