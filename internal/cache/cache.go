// Package cache is a TTL cache for whole aggregation results. Entries are
// replaced whole and expire together; there is no partial update.
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache stores entries in a go-cache instance whose janitor evicts them in
// wall-clock time. Expiry is still decided by the injected clock, and entries
// that clock considers stale are swept at most once per TTL on Set.
type Cache[V any] struct {
	ttl   time.Duration
	now   func() time.Time
	store *gocache.Cache

	sweepMu   sync.Mutex
	lastSweep time.Time
}

type Option[V any] func(*Cache[V])

// WithClock replaces time.Now, mostly for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		c.now = now
	}
}

func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		ttl:   ttl,
		now:   time.Now,
		store: gocache.New(ttl, 2*ttl),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastSweep = c.now()
	return c
}

// Get returns the value if present and not expired by the cache clock.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	raw, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	e, ok := raw.(entry[V])
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.store.Delete(key)
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	now := c.now()
	c.sweep(now)
	c.store.Set(key, entry[V]{value: value, expiresAt: now.Add(c.ttl)}, c.ttl)
}

func (c *Cache[V]) Clear() {
	c.store.Flush()
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	return c.store.ItemCount()
}

func (c *Cache[V]) sweep(now time.Time) {
	c.sweepMu.Lock()
	if now.Sub(c.lastSweep) < c.ttl {
		c.sweepMu.Unlock()
		return
	}
	c.lastSweep = now
	c.sweepMu.Unlock()

	for key, item := range c.store.Items() {
		if e, ok := item.Object.(entry[V]); !ok || !now.Before(e.expiresAt) {
			c.store.Delete(key)
		}
	}
}
