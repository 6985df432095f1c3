// Package cache provides an in-process, time-expiring key/value cache.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	data     V
	storedAt time.Time
}

// TTL is a concurrency-safe map whose entries stop being served once they are older than the ttl.
// Expired entries are kept until SweepExpired is called.
type TTL[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	keys    []K // insertion order
	ttl     time.Duration
	now     func() time.Time
}

type Option[K comparable, V any] func(*TTL[K, V])

// WithClock replaces time.Now as the cache's clock.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *TTL[K, V]) {
		c.now = now
	}
}

func New[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *TTL[K, V] {
	c := &TTL[K, V]{
		entries: make(map[K]entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TTL[K, V]) valid(e entry[V], now time.Time) bool {
	return now.Sub(e.storedAt) < c.ttl
}

// Put stores value under key, stamped with the current time.
func (c *TTL[K, V]) Put(key K, value V) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.entries[key] = entry[V]{data: value, storedAt: now}
}

// PutAll replaces the whole content of the cache with values, all stamped with the same time.
// Readers observe either the old or the new content, never a mix.
func (c *TTL[K, V]) PutAll(values []V, keyFn func(V) K) {
	c.PutAllKeeping(values, keyFn, nil)
}

// PutAllKeeping is PutAll that also carries over the current unexpired entries at keep.
// Carried entries keep their original time, so they still expire one ttl after they were stored.
func (c *TTL[K, V]) PutAllKeeping(values []V, keyFn func(V) K, keep []K) {
	now := c.now()
	entries := make(map[K]entry[V], len(values)+len(keep))
	keys := make([]K, 0, len(values)+len(keep))
	for _, v := range values {
		k := keyFn(v)
		if _, ok := entries[k]; !ok {
			keys = append(keys, k)
		}
		entries[k] = entry[V]{data: v, storedAt: now}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keep {
		if _, ok := entries[k]; ok {
			continue
		}
		if e, ok := c.entries[k]; ok && c.valid(e, now) {
			keys = append(keys, k)
			entries[k] = e
		}
	}
	c.entries = entries
	c.keys = keys
}

// Get returns the value stored under key if it has not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.valid(e, now) {
		var zero V
		return zero, false
	}
	return e.data, true
}

// GetAllValid returns, in insertion order, the unexpired values matching pred (all of them if pred is nil).
func (c *TTL[K, V]) GetAllValid(pred func(V) bool) []V {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	values := make([]V, 0, len(c.keys))
	for _, k := range c.keys {
		e := c.entries[k]
		if !c.valid(e, now) {
			continue
		}
		if pred == nil || pred(e.data) {
			values = append(values, e.data)
		}
	}
	return values
}

// SweepExpired deletes the expired entries and returns how many were removed.
func (c *TTL[K, V]) SweepExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.keys[:0:0]
	var removed int
	for _, k := range c.keys {
		if c.valid(c.entries[k], now) {
			keys = append(keys, k)
			continue
		}
		delete(c.entries, k)
		removed++
	}
	c.keys = keys
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
