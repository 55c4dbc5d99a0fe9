// Package taste maintains per-user preference profiles derived from the
// user's recipe collection. Profiles are recomputed from scratch or nudged
// incrementally; incremental drift is corrected by a periodic full
// recompute.
package taste

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/savorhq/tastecore/engine/cache"
	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/store"
)

// Config tunes profile computation.
type Config struct {
	// HalfLife is the age at which a recipe's signal counts half as much
	// as the newest one.
	HalfLife time.Duration
	// StrengthHalfPoint is the sample count at which confidence reaches
	// 0.5. Strength approaches 1 asymptotically beyond it.
	StrengthHalfPoint int
	// RecomputeEvery forces a full recompute after this many incremental
	// updates, bounding drift.
	RecomputeEvery int
	// MinWeight drops categories whose share falls below it.
	MinWeight float64
}

// DefaultConfig returns production tunables.
func DefaultConfig() Config {
	return Config{
		HalfLife:          30 * 24 * time.Hour,
		StrengthHalfPoint: 10,
		RecomputeEvery:    10,
		MinWeight:         0.01,
	}
}

// Engine computes and stores taste profiles.
type Engine struct {
	driver store.Driver
	cache  *cache.Coordinator
	cfg    Config

	mu    sync.Mutex
	drift map[string]int // incremental updates since last full recompute
}

// NewEngine creates a taste profile engine.
func NewEngine(driver store.Driver, coordinator *cache.Coordinator, cfg Config) *Engine {
	if cfg.StrengthHalfPoint <= 0 {
		cfg.StrengthHalfPoint = 10
	}
	if cfg.RecomputeEvery <= 0 {
		cfg.RecomputeEvery = 10
	}
	return &Engine{
		driver: driver,
		cache:  coordinator,
		cfg:    cfg,
		drift:  make(map[string]int),
	}
}

func profileCacheKey(userID string) string {
	return fmt.Sprintf("user:%s:profile", userID)
}

// Get returns the last-known profile for a user, or nil when the user has
// no profile yet. It never triggers a recompute.
func (e *Engine) Get(ctx context.Context, userID string) (*store.TasteProfile, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}

	key := profileCacheKey(userID)
	if raw, ok := e.cache.Get(ctx, key, cache.CategoryProfile); ok {
		var profile store.TasteProfile
		if err := json.Unmarshal(raw, &profile); err == nil {
			return &profile, nil
		}
		// Corrupt entries are dropped, not served.
		e.cache.Invalidate(ctx, key)
	}

	profile, err := e.driver.GetTasteProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}
	if raw, err := json.Marshal(profile); err == nil {
		e.cache.Set(ctx, key, raw, cache.CategoryProfile)
	}
	return profile, nil
}

// Recompute rebuilds the profile from the user's full recipe collection.
// Given the same recipe set, the result is identical regardless of any
// incremental updates applied before. Recipes are weighted by recency
// relative to the newest recipe in the set.
func (e *Engine) Recompute(ctx context.Context, userID string) (*store.TasteProfile, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}

	recipes, err := e.driver.ListRecipes(ctx, &store.FindRecipe{OwnerID: &userID})
	if err != nil {
		return nil, err
	}

	profile := e.computeFromRecipes(userID, recipes)
	if err := e.persist(ctx, profile); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.drift[userID] = 0
	e.mu.Unlock()

	return profile, nil
}

// ApplyIncremental nudges the profile toward one new recipe's signal
// without rescanning the collection. Every RecomputeEvery-th call falls
// back to a full recompute to correct accumulated drift.
func (e *Engine) ApplyIncremental(ctx context.Context, userID string, recipe *store.Recipe) (*store.TasteProfile, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	if recipe == nil {
		return nil, errs.Validation("recipe is required")
	}

	e.mu.Lock()
	due := e.drift[userID]+1 >= e.cfg.RecomputeEvery
	e.mu.Unlock()
	if due {
		return e.Recompute(ctx, userID)
	}

	current, err := e.driver.GetTasteProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		// First recipe for this user; the full path is just as cheap.
		return e.Recompute(ctx, userID)
	}

	n := float64(current.SampleCount)
	next := current.Clone()
	next.SampleCount = current.SampleCount + 1

	// Running-mean update: shrink every share toward the new sample.
	incoming := make(map[string]bool, len(recipe.Categories))
	for _, c := range recipe.Categories {
		incoming[normalizeCategory(c)] = true
	}
	if next.CategoryWeights == nil {
		next.CategoryWeights = make(map[string]float64)
	}
	for c := range incoming {
		if _, ok := next.CategoryWeights[c]; !ok {
			next.CategoryWeights[c] = 0
		}
	}
	share := 1.0 / float64(len(incoming))
	for c, w := range next.CategoryWeights {
		observed := 0.0
		if incoming[c] {
			observed = share
		}
		next.CategoryWeights[c] = clamp((w*n+observed)/(n+1), -1, 1)
	}
	dropWeakSignals(next.CategoryWeights, e.cfg.MinWeight)

	next.Strength = e.strength(next.SampleCount)
	next.LastComputedTs = time.Now().Unix()

	if err := e.persist(ctx, next); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.drift[userID]++
	e.mu.Unlock()

	return next, nil
}

// Purge deletes a user's profile and its cached copies.
func (e *Engine) Purge(ctx context.Context, userID string) error {
	if err := e.driver.DeleteTasteProfile(ctx, userID); err != nil {
		return err
	}
	e.cache.Invalidate(ctx, profileCacheKey(userID))
	e.mu.Lock()
	delete(e.drift, userID)
	e.mu.Unlock()
	return nil
}

// MarkDirty records that a user's recipes changed in a way the running
// means cannot absorb, such as an edit to an already-counted recipe. The
// next maintenance pass recomputes the profile from scratch.
func (e *Engine) MarkDirty(userID string) {
	e.mu.Lock()
	e.drift[userID]++
	e.mu.Unlock()
}

// DriftCounts snapshots per-user incremental update counts, for the
// maintenance loop to schedule corrective recomputes.
func (e *Engine) DriftCounts() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.drift))
	for userID, n := range e.drift {
		out[userID] = n
	}
	return out
}

func (e *Engine) computeFromRecipes(userID string, recipes []*store.Recipe) *store.TasteProfile {
	profile := &store.TasteProfile{
		UserID:          userID,
		CategoryWeights: make(map[string]float64),
		SampleCount:     len(recipes),
		LastComputedTs:  time.Now().Unix(),
	}
	if len(recipes) == 0 {
		return profile
	}

	// Ages are measured against the newest recipe, not the wall clock,
	// so the same recipe set always yields the same weights.
	var newest int64
	for _, r := range recipes {
		if r.UpdatedTs > newest {
			newest = r.UpdatedTs
		}
	}

	scores := make(map[string]float64)
	var total float64
	for _, r := range recipes {
		age := time.Duration(newest-r.UpdatedTs) * time.Second
		w := recencyWeight(age, e.cfg.HalfLife)
		total += w
		if len(r.Categories) == 0 {
			continue
		}
		share := w / float64(len(r.Categories))
		for _, c := range r.Categories {
			scores[normalizeCategory(c)] += share
		}
	}
	if total > 0 {
		for c, s := range scores {
			profile.CategoryWeights[c] = clamp(s/total, -1, 1)
		}
	}
	dropWeakSignals(profile.CategoryWeights, e.cfg.MinWeight)

	profile.Strength = e.strength(len(recipes))
	return profile
}

// persist writes the profile and synchronously invalidates cached copies
// so no reader observes a profile older than this write.
func (e *Engine) persist(ctx context.Context, profile *store.TasteProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if _, err := e.driver.UpsertTasteProfile(ctx, profile); err != nil {
		return err
	}
	e.cache.Invalidate(ctx, profileCacheKey(profile.UserID))
	e.cache.Invalidate(ctx, fmt.Sprintf("user:%s:rec:*", profile.UserID))
	if raw, err := json.Marshal(profile); err == nil {
		e.cache.Set(ctx, profileCacheKey(profile.UserID), raw, cache.CategoryProfile)
	} else {
		slog.Warn("failed to cache taste profile", "user", profile.UserID, "error", err)
	}
	return nil
}

// strength maps sample count onto [0,1); more recipes mean more
// confidence, with diminishing returns.
func (e *Engine) strength(sampleCount int) float64 {
	if sampleCount <= 0 {
		return 0
	}
	n := float64(sampleCount)
	return n / (n + float64(e.cfg.StrengthHalfPoint))
}

func recencyWeight(age, halfLife time.Duration) float64 {
	if halfLife <= 0 || age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Seconds()/halfLife.Seconds())
}

func normalizeCategory(c string) string {
	return store.NormalizeCategory(c)
}

func dropWeakSignals(weights map[string]float64, minWeight float64) {
	if minWeight <= 0 {
		return
	}
	for c, w := range weights {
		if math.Abs(w) < minWeight {
			delete(weights, c)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// TopCategories returns up to n categories by descending weight, ties
// broken alphabetically. Used to build recommendation explanations.
func TopCategories(profile *store.TasteProfile, n int) []string {
	if profile == nil || len(profile.CategoryWeights) == 0 || n <= 0 {
		return nil
	}
	type cw struct {
		category string
		weight   float64
	}
	ranked := make([]cw, 0, len(profile.CategoryWeights))
	for c, w := range profile.CategoryWeights {
		ranked = append(ranked, cw{c, w})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].category < ranked[j].category
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].category
	}
	return out
}
