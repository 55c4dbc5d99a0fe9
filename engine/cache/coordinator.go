package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Category names a cache key-space. The category alone decides TTL and
// write strategy; callers cannot override it per entry, which keeps
// invalidation reasoning in one place.
type Category string

const (
	// CategoryRecommendation holds ranked recommendation lists.
	CategoryRecommendation Category = "recommendation"
	// CategoryProfile holds taste profile snapshots.
	CategoryProfile Category = "profile"
	// CategoryEmbedding holds recipe embedding lookups.
	CategoryEmbedding Category = "embedding"
	// CategorySearch holds search result lists. The only category where a
	// few seconds of staleness is acceptable, so it may flush write-behind.
	CategorySearch Category = "search"
)

// Policy fixes the cache behavior of one category.
type Policy struct {
	LocalTTL    time.Duration
	SharedTTL   time.Duration
	WriteBehind bool
}

// PolicyTable maps categories to their policies. It is resolved once at
// startup and never mutated afterwards.
type PolicyTable map[Category]Policy

// DefaultPolicyTable returns the built-in category policies.
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		CategoryRecommendation: {LocalTTL: 1 * time.Minute, SharedTTL: 15 * time.Minute},
		CategoryProfile:        {LocalTTL: 30 * time.Second, SharedTTL: 10 * time.Minute},
		CategoryEmbedding:      {LocalTTL: 5 * time.Minute, SharedTTL: 2 * time.Hour},
		CategorySearch:         {LocalTTL: 30 * time.Second, SharedTTL: 5 * time.Minute, WriteBehind: true},
	}
}

// SharedTier is the slower, larger, authoritative cache tier. Implementations
// must apply Invalidate synchronously: once it returns, no Get may serve a
// matching entry written before the call.
type SharedTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) (int, error)
}

// Metrics receives cache events. A local interface so the metrics package
// stays decoupled from this one.
type Metrics interface {
	RecordCacheHit(tier string, category string)
	RecordCacheMiss(category string)
}

// Coordinator is the two-tier cache front. Reads check the local tier first,
// then the shared tier, promoting shared hits locally. Every source-of-truth
// mutation must call Invalidate before returning to its caller so no reader
// observes an entry older than the last committed write (monotonic read).
type Coordinator struct {
	local    *LRU
	shared   SharedTier
	policies PolicyTable
	metrics  Metrics

	opTimeout time.Duration

	flushQueue chan sharedWrite
	stopCh     chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

type sharedWrite struct {
	key   string
	value []byte
	ttl   time.Duration
}

// Config configures a Coordinator.
type Config struct {
	LocalCapacity   int
	Policies        PolicyTable
	OpTimeout       time.Duration
	FlushQueueDepth int
}

// NewCoordinator creates a Coordinator over the given shared tier.
// A nil metrics sink disables instrumentation.
func NewCoordinator(shared SharedTier, metrics Metrics, cfg Config) *Coordinator {
	if cfg.LocalCapacity <= 0 {
		cfg.LocalCapacity = 4096
	}
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicyTable()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	if cfg.FlushQueueDepth <= 0 {
		cfg.FlushQueueDepth = 256
	}
	return &Coordinator{
		local:      NewLRU(cfg.LocalCapacity, time.Minute),
		shared:     shared,
		policies:   cfg.Policies,
		metrics:    metrics,
		opTimeout:  cfg.OpTimeout,
		flushQueue: make(chan sharedWrite, cfg.FlushQueueDepth),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the write-behind flusher. Safe to call once.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.flushLoop()
	})
}

// Stop drains the flusher and waits for it to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// Get returns the cached value for key, or found=false on miss.
func (c *Coordinator) Get(ctx context.Context, key string, category Category) ([]byte, bool) {
	if value, ok := c.local.Get(key); ok {
		c.recordHit("local", category)
		return value, true
	}

	if c.shared != nil {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
		value, ok, err := c.shared.Get(opCtx, key)
		if err != nil {
			slog.Warn("shared cache get failed", "key", key, "error", err)
		} else if ok {
			c.recordHit("shared", category)
			c.local.Set(key, value, c.policy(category).LocalTTL)
			return value, true
		}
	}

	if c.metrics != nil {
		c.metrics.RecordCacheMiss(string(category))
	}
	return nil, false
}

// Set stores value under key with the category's configured TTLs.
// Entries are always replaced whole, never patched.
func (c *Coordinator) Set(ctx context.Context, key string, value []byte, category Category) {
	policy := c.policy(category)
	c.local.Set(key, value, policy.LocalTTL)

	if c.shared == nil {
		return
	}
	if policy.WriteBehind {
		select {
		case c.flushQueue <- sharedWrite{key: key, value: value, ttl: policy.SharedTTL}:
			return
		default:
			// Queue full: fall through to a synchronous write rather than
			// dropping the entry on the floor.
		}
	}
	c.writeShared(ctx, key, value, policy.SharedTTL)
}

// Invalidate removes every entry matching pattern from both tiers and
// returns how many entries were removed in total. It is synchronous: when it
// returns, both tiers have dropped the matching entries.
func (c *Coordinator) Invalidate(ctx context.Context, pattern string) int {
	count := c.local.Invalidate(pattern)

	if c.shared != nil {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
		n, err := c.shared.Invalidate(opCtx, pattern)
		if err != nil {
			slog.Warn("shared cache invalidate failed", "pattern", pattern, "error", err)
		} else {
			count += n
		}
	}
	return count
}

// SweepExpired drops expired local entries; called from the maintenance loop.
func (c *Coordinator) SweepExpired() int {
	return c.local.SweepExpired()
}

func (c *Coordinator) policy(category Category) Policy {
	if p, ok := c.policies[category]; ok {
		return p
	}
	return Policy{LocalTTL: 30 * time.Second, SharedTTL: 5 * time.Minute}
}

func (c *Coordinator) recordHit(tier string, category Category) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(tier, string(category))
	}
}

func (c *Coordinator) writeShared(ctx context.Context, key string, value []byte, ttl time.Duration) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.shared.Set(opCtx, key, value, ttl); err != nil {
		slog.Warn("shared cache set failed", "key", key, "error", err)
	}
}

func (c *Coordinator) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case w := <-c.flushQueue:
			c.writeShared(context.Background(), w.key, w.value, w.ttl)
		case <-c.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case w := <-c.flushQueue:
					c.writeShared(context.Background(), w.key, w.value, w.ttl)
				default:
					return
				}
			}
		}
	}
}
