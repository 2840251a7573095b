// Package cache provides the in-memory TTL store shared by the reddit fetchers.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero => never expires
}

// Cache is a key/value store with optional per-entry TTL.
//
// Expired entries are removed lazily, the first time a Get observes them.
// There is no size bound and no background sweep.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

// New returns an empty cache using the wall clock.
func New[V any]() *Cache[V] {
	return NewWithClock[V](time.Now)
}

// NewWithClock returns an empty cache that reads time from now.
func NewWithClock[V any](now func() time.Time) *Cache[V] {
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     now,
	}
}

// Get returns the value stored under key. A stale entry is deleted and
// reported as missing.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry. A ttl <= 0
// stores a value that never expires.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
}

// GetOrCompute returns the cached value for key, or calls producer and stores
// its result with ttl. Producer errors are returned as-is and nothing is stored.
//
// This is Get followed by Set, not an atomic operation: concurrent misses on
// the same key may each run producer, and the last Set wins. Callers only use
// it for idempotent upstream reads, where that race costs a duplicate request.
func (c *Cache[V]) GetOrCompute(key string, ttl time.Duration, producer func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := producer()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of stored entries, including stale ones not yet observed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
