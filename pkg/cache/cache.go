package cache

import (
	"sync"
	"time"
)

// Entry represents a cached value with expiration. A zero ExpiresAt never expires.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

func (e *Entry[V]) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Cache is an in-memory map with TTLs. All methods hold one mutex, so
// Update and Rename are atomic with respect to every other call.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]*Entry[V]
	now   func() time.Time
}

// NewWithClock creates a cache that reads time from now; nil means the wall clock
func NewWithClock[V any](now func() time.Time) *Cache[V] {
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{items: map[string]*Entry[V]{}, now: now}
}

// Add stores a value only if key is absent or expired
func (c *Cache[V]) Add(key string, value V, expiresAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok && !e.expired(c.now()) {
		return false
	}
	c.items[key] = &Entry[V]{Value: value, ExpiresAt: expiresAt}
	return true
}

// Get retrieves a value if it hasn't expired. Expired entries are dropped.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	entry, exists := c.items[key]
	if !exists {
		return zero, false
	}
	if entry.expired(c.now()) {
		delete(c.items, key)
		return zero, false
	}
	return entry.Value, true
}

// Update runs fn on the current value under the cache lock. fn returns the
// next value and its expiry, or keep=false to delete the key.
func (c *Cache[V]) Update(key string, fn func(current V, exists bool) (next V, expiresAt time.Time, keep bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current V
	entry, exists := c.items[key]
	if exists && entry.expired(c.now()) {
		exists = false
	}
	if exists {
		current = entry.Value
	}

	next, expiresAt, keep := fn(current, exists)
	if !keep {
		delete(c.items, key)
		return
	}
	c.items[key] = &Entry[V]{Value: next, ExpiresAt: expiresAt}
}

// Rename moves oldKey to newKey with a new value in one step. It returns
// false, and changes nothing, if oldKey is missing or newKey is taken.
func (c *Cache[V]) Rename(oldKey, newKey string, value V, expiresAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	old, ok := c.items[oldKey]
	if !ok || old.expired(now) {
		return false
	}
	if e, taken := c.items[newKey]; taken && !e.expired(now) {
		return false
	}
	delete(c.items, oldKey)
	c.items[newKey] = &Entry[V]{Value: value, ExpiresAt: expiresAt}
	return true
}

// Delete removes a key from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Sweep drops every expired entry and returns how many were removed
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.items {
		if entry.expired(now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, expired or not
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
