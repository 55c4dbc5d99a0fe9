// Package engine wires the recommendation core together: storage-backed
// embedding store, taste profiles, two-tier cache, enrichment pipeline
// and the recommendation engine on top.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/savorhq/tastecore/engine/cache"
	"github.com/savorhq/tastecore/engine/embedding"
	"github.com/savorhq/tastecore/engine/embedstore"
	"github.com/savorhq/tastecore/engine/enrich"
	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/engine/metrics"
	"github.com/savorhq/tastecore/engine/recommend"
	"github.com/savorhq/tastecore/engine/taste"
	"github.com/savorhq/tastecore/engine/vecindex"
	"github.com/savorhq/tastecore/internal/profile"
	"github.com/savorhq/tastecore/store"
)

const (
	maintenanceInterval = time.Minute
	// Compaction rebuilds the index once this fraction of it is tombstones.
	compactionThreshold = 0.2
)

// Core composes the recommendation engine's components behind one facade.
type Core struct {
	profile    *profile.Profile
	store      *store.Store
	driver     store.Driver
	exporter   *metrics.PrometheusExporter
	cache      *cache.Coordinator
	provider   embedding.Provider
	embeddings *embedstore.Store
	taste      *taste.Engine
	enrich     *enrich.Pipeline
	recommend  *recommend.Engine

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started sync.Once
	stopped sync.Once
}

// New builds a Core from the runtime profile and an opened driver. Without
// a configured embedding provider the core still serves, in degraded mode
// only.
func New(p *profile.Profile, driver store.Driver) (*Core, error) {
	var provider embedding.Provider
	if p.IsEnrichmentEnabled() {
		var err error
		provider, err = embedding.NewProvider(p)
		if err != nil {
			return nil, err
		}
	}

	st := store.New(driver, p)
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	coordinator := cache.NewCoordinator(&driverTier{driver: driver}, exporter, cache.Config{})
	embeddings := embedstore.New(driver, p.EmbeddingDimensions, vecindex.Config{
		M:              p.ANNMaxLinks,
		EfConstruction: p.ANNEfConstruction,
		EfSearch:       p.ANNEfSearch,
	}, exporter)
	profiles := taste.NewEngine(driver, coordinator, taste.DefaultConfig())
	pipeline := enrich.NewPipeline(st, provider, embeddings, coordinator, exporter, enrich.Config{
		Workers:        p.EnrichWorkers,
		QueueSize:      p.EnrichQueueDepth,
		BatchSize:      p.EmbeddingBatchSize,
		MaxRetries:     p.EnrichMaxRetries,
		MinSpacing:     time.Duration(p.EmbeddingMinSpacing) * time.Millisecond,
		RequestTimeout: time.Duration(p.EmbeddingTimeout) * time.Second,
		BackoffBase:    time.Second,
		PollInterval:   time.Second,
	})
	recommender := recommend.NewEngine(st, profiles, embeddings, coordinator, exporter, recommend.DefaultConfig())

	return &Core{
		profile:    p,
		store:      st,
		driver:     driver,
		exporter:   exporter,
		cache:      coordinator,
		provider:   provider,
		embeddings: embeddings,
		taste:      profiles,
		enrich:     pipeline,
		recommend:  recommender,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start loads the vector index from storage and launches the background
// workers.
func (c *Core) Start(ctx context.Context) error {
	if err := c.embeddings.Load(ctx); err != nil {
		return err
	}
	c.started.Do(func() {
		c.cache.Start()
		if c.profile.IsEnrichmentEnabled() {
			c.enrich.Start()
		}
		c.wg.Add(1)
		go c.maintenanceLoop()
	})
	return nil
}

// Stop shuts the background workers down and waits for them.
func (c *Core) Stop() {
	c.stopped.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	c.enrich.Stop()
	c.cache.Stop()
}

// Recommend returns ranked suggestions for the user.
func (c *Core) Recommend(ctx context.Context, userID string, count int, excludeIDs []string) ([]recommend.Recommendation, error) {
	return c.recommend.Recommend(ctx, userID, count, excludeIDs)
}

// Profile returns the user's last-known taste profile without triggering
// recomputation.
func (c *Core) Profile(ctx context.Context, userID string) (*store.TasteProfile, error) {
	return c.taste.Get(ctx, userID)
}

// RecomputeProfile forces a full profile rebuild for the user.
func (c *Core) RecomputeProfile(ctx context.Context, userID string) (*store.TasteProfile, error) {
	return c.taste.Recompute(ctx, userID)
}

// NotifyRecipeChanged is the storage layer's change hook. It invalidates
// derived caches synchronously, nudges the owner's taste profile, and
// queues enrichment when the content hash moved past the stored embedding.
func (c *Core) NotifyRecipeChanged(ctx context.Context, recipeID, contentHash string) error {
	if recipeID == "" {
		return errs.Validation("recipe id is required")
	}

	recipe, err := c.store.GetRecipe(ctx, recipeID)
	if err != nil {
		return err
	}
	if recipe == nil {
		return errs.Validation("unknown recipe %q", recipeID)
	}
	if contentHash != "" && contentHash != recipe.ContentHash {
		return errs.Validation("content hash mismatch for recipe %q", recipeID)
	}

	c.cache.Invalidate(ctx, fmt.Sprintf("recipe:%s:*", recipeID))
	c.cache.Invalidate(ctx, fmt.Sprintf("user:%s:rec:*", recipe.OwnerID))
	c.cache.Invalidate(ctx, "search:*")

	current, err := c.store.GetRecipeEmbedding(ctx, recipeID)
	if err != nil {
		return err
	}

	// An existing embedding means the recipe was already counted into the
	// profile. A changed one moves the profile through a recompute instead
	// of a second sample.
	if current == nil {
		if _, err := c.taste.ApplyIncremental(ctx, recipe.OwnerID, recipe); err != nil {
			slog.Warn("incremental profile update failed", "user", recipe.OwnerID, "error", err)
		}
	} else {
		c.taste.MarkDirty(recipe.OwnerID)
	}

	if c.provider == nil {
		return nil
	}
	if current != nil && current.SourceHash == recipe.ContentHash {
		return nil
	}
	if _, err := c.enrich.Enqueue(ctx, recipeID); err != nil {
		return err
	}
	return nil
}

// NotifyRecipeDeleted cascades a recipe deletion into the embedding store
// and the caches.
func (c *Core) NotifyRecipeDeleted(ctx context.Context, recipeID, ownerID string) error {
	if recipeID == "" {
		return errs.Validation("recipe id is required")
	}
	if err := c.embeddings.Delete(ctx, recipeID); err != nil {
		return err
	}
	c.cache.Invalidate(ctx, fmt.Sprintf("recipe:%s:*", recipeID))
	if ownerID != "" {
		c.cache.Invalidate(ctx, fmt.Sprintf("user:%s:rec:*", ownerID))
	}
	c.cache.Invalidate(ctx, "search:*")
	return nil
}

// PurgeUser is the data-lifecycle hook: it deletes the user's taste
// profile, their embeddings, and every cache entry in their namespace.
func (c *Core) PurgeUser(ctx context.Context, userID string) error {
	if userID == "" {
		return errs.Validation("user id is required")
	}
	if err := c.embeddings.DeleteByOwner(ctx, userID); err != nil {
		return err
	}
	if err := c.taste.Purge(ctx, userID); err != nil {
		return err
	}
	c.cache.Invalidate(ctx, fmt.Sprintf("user:%s:*", userID))
	return nil
}

// Stats is a point-in-time operator snapshot.
type Stats struct {
	IndexSize      int     `json:"indexSize"`
	TombstoneRatio float64 `json:"tombstoneRatio"`
	QueueDepth     int     `json:"queueDepth"`
	FailedTasks    int     `json:"failedTasks"`
}

// Stats snapshots the core's operational state.
func (c *Core) Stats(ctx context.Context) (*Stats, error) {
	failed, err := c.enrich.FailedTasks(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		IndexSize:      c.embeddings.Len(),
		TombstoneRatio: c.embeddings.TombstoneRatio(),
		QueueDepth:     c.enrich.QueueDepth(),
		FailedTasks:    len(failed),
	}, nil
}

// MetricsExporter exposes the Prometheus exporter for the ops server.
func (c *Core) MetricsExporter() *metrics.PrometheusExporter {
	return c.exporter
}

// Healthy reports whether the storage backend answers.
func (c *Core) Healthy(ctx context.Context) error {
	return c.driver.GetDB().PingContext(ctx)
}

// maintenanceLoop runs the periodic chores: expired cache sweeps, index
// compaction and corrective profile recomputes.
func (c *Core) maintenanceLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.maintain()
		}
	}
}

func (c *Core) maintain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c.cache.SweepExpired()
	if n, err := c.driver.PurgeExpiredCacheEntries(ctx); err != nil {
		slog.Warn("cache purge failed", "error", err)
	} else if n > 0 {
		slog.Debug("purged expired shared cache entries", "count", n)
	}

	if c.embeddings.TombstoneRatio() > compactionThreshold {
		start := time.Now()
		c.embeddings.Compact()
		slog.Info("compacted vector index", "size", c.embeddings.Len(), "took", time.Since(start))
	}

	// Correct incremental drift for users that accumulated updates but
	// never crossed the forced-recompute threshold.
	for userID, drift := range c.taste.DriftCounts() {
		if drift == 0 {
			continue
		}
		if _, err := c.taste.Recompute(ctx, userID); err != nil {
			slog.Warn("corrective profile recompute failed", "user", userID, "error", err)
		}
	}
}

// driverTier adapts the storage driver's cache_entry table to the shared
// cache tier interface.
type driverTier struct {
	driver store.Driver
}

func (t *driverTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := t.driver.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (t *driverTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.driver.SetCacheEntry(ctx, &store.CacheEntry{
		Key:        key,
		Value:      value,
		Category:   keyNamespace(key),
		InsertedTs: time.Now().Unix(),
		TTLSeconds: int64(ttl.Seconds()),
	})
}

func (t *driverTier) Invalidate(ctx context.Context, pattern string) (int, error) {
	return t.driver.InvalidateCacheEntries(ctx, pattern)
}

// keyNamespace labels an entry with its first key segment for operator
// queries against the shared tier.
func keyNamespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
