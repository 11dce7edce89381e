package provider

import (
	"sync"
	"time"
)

// gameCache holds per-game data that is the same for every user (schema,
// global percentages). Entries expire after ttl; a non-positive ttl disables
// caching.
type gameCache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[int64]gameCacheEntry[V]
}

type gameCacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func newGameCache[V any](ttl time.Duration) *gameCache[V] {
	return &gameCache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]gameCacheEntry[V]),
	}
}

func (c *gameCache[V]) get(appID int64) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[appID]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// set stores value and drops expired entries so a long-running server does
// not keep every game it ever saw.
func (c *gameCache[V]) set(appID int64, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
		}
	}
	c.entries[appID] = gameCacheEntry[V]{value: value, expiresAt: now.Add(c.ttl)}
}

func (c *gameCache[V]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]gameCacheEntry[V])
}

func (c *gameCache[V]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
