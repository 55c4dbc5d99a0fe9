package cache

import (
	"context"
	"time"
)

// MemoryTier is an in-process SharedTier for single-node deployments and
// tests. Fleet deployments use the driver-backed tier so every node shares
// one authoritative cache.
type MemoryTier struct {
	lru *LRU
}

// NewMemoryTier creates an in-process shared tier.
func NewMemoryTier(capacity int) *MemoryTier {
	return &MemoryTier{lru: NewLRU(capacity, 15*time.Minute)}
}

func (t *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := t.lru.Get(key)
	return value, ok, nil
}

func (t *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	t.lru.Set(key, value, ttl)
	return nil
}

func (t *MemoryTier) Invalidate(_ context.Context, pattern string) (int, error) {
	return t.lru.Invalidate(pattern), nil
}
