package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyTier wraps a MemoryTier and fails on demand.
type flakyTier struct {
	*MemoryTier
	mu   sync.Mutex
	sets int
}

func (f *flakyTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	f.sets++
	f.mu.Unlock()
	return f.MemoryTier.Set(ctx, key, value, ttl)
}

func (f *flakyTier) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

func TestCoordinator_GetPromotesSharedHit(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryTier(100)
	c := NewCoordinator(shared, nil, Config{})

	// Entry lives only in the shared tier.
	require.NoError(t, shared.Set(ctx, "user:1:profile", []byte("v"), time.Minute))

	value, ok := c.Get(ctx, "user:1:profile", CategoryProfile)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	// The hit must have been promoted into the local tier.
	local, ok := c.local.Get("user:1:profile")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), local)
}

func TestCoordinator_InvalidateThenMiss(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(NewMemoryTier(100), nil, Config{})

	c.Set(ctx, "user:1:rec:10", []byte("a"), CategoryRecommendation)
	c.Set(ctx, "user:1:profile", []byte("b"), CategoryProfile)
	c.Set(ctx, "user:2:profile", []byte("c"), CategoryProfile)

	count := c.Invalidate(ctx, "user:1:*")
	// Both tiers count their removals.
	assert.Equal(t, 4, count)

	// Any key matching the pattern must miss until the next Set.
	_, ok := c.Get(ctx, "user:1:rec:10", CategoryRecommendation)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "user:1:profile", CategoryProfile)
	assert.False(t, ok)

	_, ok = c.Get(ctx, "user:2:profile", CategoryProfile)
	assert.True(t, ok, "entries outside the pattern survive")

	c.Set(ctx, "user:1:profile", []byte("b2"), CategoryProfile)
	value, ok := c.Get(ctx, "user:1:profile", CategoryProfile)
	require.True(t, ok)
	assert.Equal(t, []byte("b2"), value)
}

func TestCoordinator_WriteBehindFlushes(t *testing.T) {
	ctx := context.Background()
	shared := &flakyTier{MemoryTier: NewMemoryTier(100)}
	c := NewCoordinator(shared, nil, Config{})
	c.Start()
	defer c.Stop()

	c.Set(ctx, "search:q1", []byte("results"), CategorySearch)

	// Local read works immediately.
	value, ok := c.Get(ctx, "search:q1", CategorySearch)
	require.True(t, ok)
	assert.Equal(t, []byte("results"), value)

	// The shared write happens asynchronously but promptly.
	require.Eventually(t, func() bool {
		_, ok, err := shared.MemoryTier.Get(ctx, "search:q1")
		return err == nil && ok
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_SynchronousWriteForMonotonicCategories(t *testing.T) {
	ctx := context.Background()
	shared := &flakyTier{MemoryTier: NewMemoryTier(100)}
	c := NewCoordinator(shared, nil, Config{})

	// Profile writes never ride the write-behind queue.
	c.Set(ctx, "user:1:profile", []byte("p"), CategoryProfile)
	assert.Equal(t, 1, shared.setCount())

	_, ok, err := shared.MemoryTier.Get(ctx, "user:1:profile")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCoordinator_NilSharedTier(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, nil, Config{})

	c.Set(ctx, "k", []byte("v"), CategoryProfile)
	value, ok := c.Get(ctx, "k", CategoryProfile)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	assert.Equal(t, 1, c.Invalidate(ctx, "k"))
}

func TestDefaultPolicyTable(t *testing.T) {
	policies := DefaultPolicyTable()

	for _, category := range []Category{CategoryRecommendation, CategoryProfile, CategoryEmbedding, CategorySearch} {
		p, ok := policies[category]
		require.True(t, ok, "category %s missing", category)
		assert.Positive(t, p.LocalTTL)
		assert.Positive(t, p.SharedTTL)
	}

	// Write-behind is reserved for search results; every category whose
	// readers rely on monotonic reads writes through synchronously.
	assert.True(t, policies[CategorySearch].WriteBehind)
	assert.False(t, policies[CategoryRecommendation].WriteBehind)
	assert.False(t, policies[CategoryProfile].WriteBehind)
	assert.False(t, policies[CategoryEmbedding].WriteBehind)
}
