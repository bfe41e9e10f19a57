// Package cache provides the short-lived search cache used by the notes
// service. Entries expire after a fixed TTL and the whole cache is dropped on
// every successful write.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultTTL is how long a cached search stays valid.
	DefaultTTL = 30 * time.Second

	// DefaultSize is the maximum number of cached searches.
	DefaultSize = 256
)

// Cache is a bounded TTL cache keyed by string. It is safe for concurrent use.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]

	mu  sync.Mutex
	gen uint64
}

// New returns a Cache holding at most size entries for ttl each. Non-positive
// arguments select the defaults.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the cached value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Put stores v under key, replacing any previous value.
func (c *Cache[V]) Put(key string, v V) {
	c.lru.Add(key, v)
}

// Generation returns the current invalidation generation. Pass it to
// [Cache.PutIfGen] to store a value computed from data read after this call.
func (c *Cache[V]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// PutIfGen stores v under key only if no [Cache.Invalidate] happened since
// gen was read. It reports whether v was stored.
func (c *Cache[V]) PutIfGen(key string, v V, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.lru.Add(key, v)
	return true
}

// Invalidate removes every entry and starts a new generation.
func (c *Cache[V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
