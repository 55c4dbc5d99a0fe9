package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_SetGet(t *testing.T) {
	c := NewLRU(10, time.Minute)

	c.Set("user:1:profile", []byte("v1"), 0)
	value, ok := c.Get("user:1:profile")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), value)

	_, ok = c.Get("user:2:profile")
	assert.False(t, ok)
}

func TestLRU_Expiry(t *testing.T) {
	c := NewLRU(10, time.Minute)

	c.Set("k", []byte("v"), 10*time.Millisecond)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestLRU_EvictsOldest(t *testing.T) {
	c := NewLRU(3, time.Minute)

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"), 0)
	}
	// Touch k0 so k1 becomes the eviction candidate.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Set("k3", []byte("v"), 0)

	_, ok = c.Get("k1")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("k0")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestLRU_Invalidate(t *testing.T) {
	testCases := []struct {
		name        string
		pattern     string
		expectCount int
		expectGone  []string
		expectKept  []string
	}{
		{
			name:        "exact key",
			pattern:     "user:1:profile",
			expectCount: 1,
			expectGone:  []string{"user:1:profile"},
			expectKept:  []string{"user:1:rec:5", "user:12:profile"},
		},
		{
			name:        "suffix wildcard",
			pattern:     "user:1:*",
			expectCount: 2,
			expectGone:  []string{"user:1:profile", "user:1:rec:5"},
			expectKept:  []string{"user:12:profile"},
		},
		{
			name:        "no match",
			pattern:     "user:99:*",
			expectCount: 0,
			expectKept:  []string{"user:1:profile", "user:1:rec:5", "user:12:profile"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewLRU(10, time.Minute)
			c.Set("user:1:profile", []byte("a"), 0)
			c.Set("user:1:rec:5", []byte("b"), 0)
			c.Set("user:12:profile", []byte("c"), 0)

			assert.Equal(t, tc.expectCount, c.Invalidate(tc.pattern))
			for _, key := range tc.expectGone {
				_, ok := c.Get(key)
				assert.False(t, ok, "key %s should be gone", key)
			}
			for _, key := range tc.expectKept {
				_, ok := c.Get(key)
				assert.True(t, ok, "key %s should survive", key)
			}
		})
	}
}

func TestLRU_SweepExpired(t *testing.T) {
	c := NewLRU(10, time.Minute)
	c.Set("stale", []byte("v"), 5*time.Millisecond)
	c.Set("fresh", []byte("v"), time.Minute)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, c.SweepExpired())
	assert.Equal(t, 1, c.Len())
}
