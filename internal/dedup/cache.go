package dedup

import (
	"sync"

	"github.com/c4a/ctiwatch/internal/cti"
)

// DefaultCapacity bounds the cache when no explicit capacity is configured.
const DefaultCapacity = 10000

// Cache is a bounded, insertion-ordered set of item hashes used to suppress
// repeat ingestion. It is process-local and not persisted: a restart loses
// all history, so re-ingestion across restarts is an accepted limitation.
// Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
}

// NewCache creates a cache holding at most capacity hashes. Capacity values
// <= 0 fall back to DefaultCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// IsDuplicate reports whether the item's hash has been seen before. Unseen
// hashes are recorded, evicting the oldest entry first when at capacity.
func (c *Cache) IsDuplicate(item *cti.Item) bool {
	return c.Seen(item.Hash())
}

// Seen is IsDuplicate for a precomputed hash.
func (c *Cache) Seen(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[hash]; ok {
		return true
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}

	c.seen[hash] = struct{}{}
	c.order = append(c.order, hash)
	return false
}

// Len returns the number of hashes currently tracked.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Reset drops all tracked hashes.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]struct{}, c.capacity)
	c.order = nil
}
