package adapters

import (
	"container/list"
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
)

// CacheStats counts cache outcomes since creation or the last Purge.
type CacheStats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// LRUCache is a bounded, least-recently-used cache of encoded records. Entries
// may carry a TTL; expired entries are dropped on access, and an expired entry
// near the tail is reclaimed before a live one when the cache is full.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	entries  map[string]*list.Element
	stats    CacheStats
	now      func() time.Time
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time // zero means no expiry
}

func (e *lruEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewLRUCache creates a cache holding at most capacity entries (at least one).
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: max(capacity, 1),
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns a copy of the cached value and marks it most recently used.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	e := el.Value.(*lruEntry)
	if e.expired(c.now()) {
		c.remove(el)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false
	}

	c.order.MoveToFront(el)
	c.stats.Hits++
	return append([]byte(nil), e.value...), true
}

// Set stores a copy of value. A ttl of zero or less keeps it until evicted.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	value = append([]byte(nil), value...)

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.order.MoveToFront(el)
		return nil
	}

	if len(c.entries) >= c.capacity {
		c.reclaim(now)
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, value: value, expires: expires})
	return nil
}

// reclaimScan bounds how far from the tail reclaim looks for an expired entry.
const reclaimScan = 8

// reclaim frees one slot. An expired entry near the tail goes first;
// otherwise the least recently used entry is evicted.
func (c *LRUCache) reclaim(now time.Time) {
	el := c.order.Back()
	for i := 0; el != nil && i < reclaimScan; i, el = i+1, el.Prev() {
		if el.Value.(*lruEntry).expired(now) {
			c.remove(el)
			c.stats.Expirations++
			return
		}
	}
	if el := c.order.Back(); el != nil {
		c.remove(el)
		c.stats.Evictions++
	}
}

func (c *LRUCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*lruEntry).key)
}

// Delete removes key. Missing keys are not an error.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
	return nil
}

// Purge drops every entry and resets the stats.
func (c *LRUCache) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	clear(c.entries)
	c.stats = CacheStats{}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

var _ ports.Cache = (*LRUCache)(nil)
