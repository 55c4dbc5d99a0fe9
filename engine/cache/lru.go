// Package cache implements the tiered cache coordinator for the
// recommendation core: a process-local LRU tier backed by a shared,
// authoritative tier, with per-category TTL policy and pattern-based
// invalidation.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// LRU is a process-local cache tier with TTL support.
// Keys are namespaced strings so bulk invalidation can match on prefix.
type LRU struct {
	entries    map[string]*lruEntry
	order      *list.List
	capacity   int
	defaultTTL time.Duration
	mu         sync.Mutex
}

type lruEntry struct {
	expiresAt time.Time
	element   *list.Element
	key       string
	value     []byte
}

// NewLRU creates a local tier with the given capacity and default TTL.
func NewLRU(capacity int, defaultTTL time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRU{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*lruEntry),
		order:      list.New(),
	}
}

// Get returns the cached value and whether it was present and unexpired.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.remove(e)
		return nil, false
	}
	c.order.MoveToFront(e.element)
	return e.value, true
}

// Set stores value under key. A non-positive ttl falls back to the default.
func (c *LRU) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	e := &lruEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
}

// Invalidate removes entries whose key matches pattern and returns the count.
// A trailing * matches any suffix (e.g. "user:42:*"); anything else is an
// exact key.
func (c *LRU) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.HasSuffix(pattern, "*") {
		if e, ok := c.entries[pattern]; ok {
			c.remove(e)
			return 1
		}
		return 0
	}

	prefix := strings.TrimSuffix(pattern, "*")
	count := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.remove(e)
			count++
		}
	}
	return count
}

// Remove deletes a single key.
func (c *LRU) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.remove(e)
		return true
	}
	return false
}

// Len returns the number of live entries, expired ones included until swept.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*lruEntry)
	c.order.Init()
}

// SweepExpired removes expired entries and returns how many were dropped.
func (c *LRU) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []*lruEntry
	now := time.Now()
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		c.remove(e)
	}
	return len(stale)
}

// evictOldest must be called with the lock held.
func (c *LRU) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	if e, ok := oldest.Value.(*lruEntry); ok {
		c.remove(e)
	}
}

// remove must be called with the lock held.
func (c *LRU) remove(e *lruEntry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
