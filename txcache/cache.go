// Package txcache implements the bounded duplicate-suppression cache that
// lets a node recognize a transaction it has already processed, so a
// message relayed to it twice by different neighbors is only acted on
// once (spec.md §3, §4.2, §8 scenario 3).
//
// Unlike an access-order LRU, entries here are ordered by the time they
// were first seen: the oldest transaction is evicted when the cache
// grows past its limit, regardless of whether it was looked up again in
// the meantime.
package txcache

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultLimit is the cache size used when a node's configuration does
// not override it (spec.md §6, SPEC_FULL.md AMBIENT STACK: cache_limit).
const DefaultLimit = 100

type entry struct {
	id   uuid.UUID
	prev *entry
	next *entry
}

// Cache is a thread-safe, size-bounded set of transaction identifiers
// ordered by insertion time.
type Cache struct {
	mu    sync.Mutex
	limit int
	items map[uuid.UUID]*entry

	// oldest is the head of the insertion order, newest is the tail.
	oldest *entry
	newest *entry
}

// New creates a cache holding at most limit transaction identifiers. A
// non-positive limit falls back to DefaultLimit.
func New(limit int) *Cache {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Cache{
		limit: limit,
		items: make(map[uuid.UUID]*entry, limit),
	}
}

// Seen reports whether id has already been recorded.
func (c *Cache) Seen(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// Record adds id to the cache, evicting the oldest entry if the cache is
// already at its limit. Recording an id already present is a no-op: it
// does not move the entry, since suppression only cares about first
// sight, not recency.
func (c *Cache) Record(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[id]; ok {
		return
	}

	e := &entry{id: id}
	c.pushNewest(e)
	c.items[id] = e

	if len(c.items) > c.limit {
		c.evictOldest()
	}
}

// CheckAndRecord is the common duplicate-suppression call: it reports
// whether id had already been seen, and records it if not. Returns true
// when the caller should treat the transaction as a duplicate to drop.
func (c *Cache) CheckAndRecord(id uuid.UUID) (duplicate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[id]; ok {
		return true
	}

	e := &entry{id: id}
	c.pushNewest(e)
	c.items[id] = e

	if len(c.items) > c.limit {
		c.evictOldest()
	}
	return false
}

// Len returns the number of transaction ids currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) pushNewest(e *entry) {
	e.prev = c.newest
	e.next = nil
	if c.newest != nil {
		c.newest.next = e
	}
	c.newest = e
	if c.oldest == nil {
		c.oldest = e
	}
}

func (c *Cache) evictOldest() {
	victim := c.oldest
	if victim == nil {
		return
	}
	c.oldest = victim.next
	if c.oldest != nil {
		c.oldest.prev = nil
	} else {
		c.newest = nil
	}
	delete(c.items, victim.id)
}
