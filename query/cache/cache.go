// Package cache provides the LRU store used for prepared queries.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	Size      int
	MaxSize   int
	Evictions int64
	HitRate   float64
}

// LRU is a string-keyed least-recently-used cache. A MaxSize of zero means
// the cache never evicts on its own; entries leave only through
// Invalidate, InvalidateFunc or Clear.
type LRU[V any] struct {
	mu      sync.Mutex
	data    map[string]*node[V]
	maxSize int
	head    *node[V]
	tail    *node[V]
	stats   Stats
}

// node represents a node in the doubly-linked list for LRU
type node[V any] struct {
	key   string
	value V
	prev  *node[V]
	next  *node[V]
}

// New creates a cache holding at most maxSize entries, unbounded when
// maxSize <= 0.
func New[V any](maxSize int) *LRU[V] {
	if maxSize < 0 {
		maxSize = 0
	}
	return &LRU[V]{
		data:    make(map[string]*node[V]),
		maxSize: maxSize,
		stats:   Stats{MaxSize: maxSize},
	}
}

// Get retrieves a value from the cache
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.data[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}

	c.moveToFront(n)
	c.stats.Hits++
	return n.value, true
}

// Peek is Get without touching recency or statistics.
func (c *LRU[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.data[key]; ok {
		return n.value, true
	}
	var zero V
	return zero, false
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, exists := c.data[key]; exists {
		n.value = value
		c.moveToFront(n)
		return
	}

	if c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictLRU()
	}

	n := &node[V]{key: key, value: value}
	c.addToFront(n)
	c.data[key] = n
}

// SetIfAbsent stores value unless key is present and returns the value the
// cache holds afterwards.
func (c *LRU[V]) SetIfAbsent(key string, value V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, exists := c.data[key]; exists {
		c.moveToFront(n)
		return n.value
	}
	if c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictLRU()
	}
	n := &node[V]{key: key, value: value}
	c.addToFront(n)
	c.data[key] = n
	return value
}

// Invalidate removes a specific key from the cache
func (c *LRU[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.data[key]
	if ok {
		c.removeNode(n)
	}
	return ok
}

// InvalidateFunc removes every entry for which match returns true and
// reports how many were removed.
func (c *LRU[V]) InvalidateFunc(match func(key string, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*node[V]
	for key, n := range c.data {
		if match(key, n.value) {
			toRemove = append(toRemove, n)
		}
	}
	for _, n := range toRemove {
		c.removeNode(n)
	}
	return len(toRemove)
}

// Clear removes all entries from the cache
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]*node[V])
	c.head = nil
	c.tail = nil
	c.stats = Stats{MaxSize: c.maxSize}
}

// Len returns the number of entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Stats returns cache statistics
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = len(c.data)
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// addToFront adds a node to the front of the list
func (c *LRU[V]) addToFront(n *node[V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

// moveToFront moves a node to the front of the list
func (c *LRU[V]) moveToFront(n *node[V]) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.addToFront(n)
}

func (c *LRU[V]) unlink(n *node[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// removeNode removes a node from the list and the index
func (c *LRU[V]) removeNode(n *node[V]) {
	c.unlink(n)
	delete(c.data, n.key)
}

// evictLRU evicts the least recently used node
func (c *LRU[V]) evictLRU() {
	if c.tail == nil {
		return
	}
	c.removeNode(c.tail)
	c.stats.Evictions++
}

// Fingerprint derives a cache key from the query text and the names of any
// declared models. Identical inputs always produce the same key.
func Fingerprint(sql string, models ...string) string {
	hasher := sha256.New()
	hasher.Write([]byte(sql))
	for _, m := range models {
		hasher.Write([]byte{0})
		hasher.Write([]byte(m))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
