// Package recommend composes the taste profile, the embedding store and
// the cache coordinator into ranked, explainable recipe suggestions.
package recommend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/savorhq/tastecore/engine/cache"
	"github.com/savorhq/tastecore/engine/embedstore"
	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/engine/taste"
	"github.com/savorhq/tastecore/store"
)

// Config tunes ranking.
type Config struct {
	// SimilarityWeight and TasteWeight form the fixed scoring formula:
	// score = SimilarityWeight*(1-distance) + TasteWeight*strength*match.
	SimilarityWeight float64
	TasteWeight      float64
	// QueryVectorSamples is how many of the user's newest embeddings are
	// averaged into the query vector.
	QueryVectorSamples int
	// CandidateFactor widens the ANN query beyond count so that recipes
	// filtered out later still leave enough results.
	CandidateFactor int
	// QueryTimeout bounds the whole composition; on expiry the request
	// degrades to the recency ranking instead of failing.
	QueryTimeout time.Duration
}

// DefaultConfig returns production tunables.
func DefaultConfig() Config {
	return Config{
		SimilarityWeight:   0.7,
		TasteWeight:        0.3,
		QueryVectorSamples: 5,
		CandidateFactor:    3,
		QueryTimeout:       2 * time.Second,
	}
}

// Recommendation is one ranked suggestion. Reasons is derived from the
// scoring inputs only; producing it costs no extra provider call.
type Recommendation struct {
	RecipeID string   `json:"recipeId"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons"`
}

// Metrics receives ranking observations. May be nil.
type Metrics interface {
	ObserveRecommendation(seconds float64, degraded bool)
}

// Engine produces recommendations.
type Engine struct {
	recipes    *store.Store
	profiles   *taste.Engine
	embeddings *embedstore.Store
	cache      *cache.Coordinator
	metrics    Metrics
	cfg        Config
	group      singleflight.Group
}

// NewEngine creates a recommendation engine.
func NewEngine(recipes *store.Store, profiles *taste.Engine, embeddings *embedstore.Store, coordinator *cache.Coordinator, metrics Metrics, cfg Config) *Engine {
	if cfg.SimilarityWeight <= 0 && cfg.TasteWeight <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.QueryVectorSamples <= 0 {
		cfg.QueryVectorSamples = 5
	}
	if cfg.CandidateFactor <= 1 {
		cfg.CandidateFactor = 3
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 2 * time.Second
	}
	return &Engine{
		recipes:    recipes,
		profiles:   profiles,
		embeddings: embeddings,
		cache:      coordinator,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// Recommend returns up to count suggestions for the user, best first.
// Provider or index unavailability degrades the ranking; it never fails
// the request. Only malformed input is a hard error.
func (e *Engine) Recommend(ctx context.Context, userID string, count int, excludeIDs []string) ([]Recommendation, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	if count <= 0 {
		return nil, errs.Validation("count must be positive, got %d", count)
	}

	key := cacheKey(userID, count, excludeIDs)
	if raw, ok := e.cache.Get(ctx, key, cache.CategoryRecommendation); ok {
		var cached []Recommendation
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		e.cache.Invalidate(ctx, key)
	}

	// Concurrent misses for the same key compute once.
	result, err, _ := e.group.Do(key, func() (any, error) {
		return e.compute(ctx, key, userID, count, excludeIDs)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Recommendation), nil
}

func (e *Engine) compute(ctx context.Context, key, userID string, count int, excludeIDs []string) ([]Recommendation, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	recs, degraded := e.rank(ctx, userID, count, excludeIDs)
	if e.metrics != nil {
		e.metrics.ObserveRecommendation(time.Since(start).Seconds(), degraded)
	}

	// Degraded results are served but not cached; the next request gets
	// another chance at the full ranking.
	if !degraded {
		if raw, err := json.Marshal(recs); err == nil {
			e.cache.Set(ctx, key, raw, cache.CategoryRecommendation)
		}
	}
	return recs, nil
}

func (e *Engine) rank(ctx context.Context, userID string, count int, excludeIDs []string) ([]Recommendation, bool) {
	profile, err := e.profiles.Get(ctx, userID)
	if err != nil {
		slog.Warn("profile unavailable, degrading", "user", userID, "error", err)
		return e.fallback(ctx, userID, count, excludeIDs), true
	}

	queryVector, err := e.queryVector(ctx, userID)
	if err != nil || queryVector == nil {
		if err != nil {
			slog.Warn("query vector unavailable, degrading", "user", userID, "error", err)
		}
		return e.fallback(ctx, userID, count, excludeIDs), true
	}

	matches, err := e.embeddings.Query(ctx, queryVector, count*e.cfg.CandidateFactor, embedstore.QueryOptions{
		ExcludeOwnerID: userID,
		ExcludeIDs:     excludeIDs,
	})
	if err != nil {
		slog.Warn("index query failed, degrading", "user", userID, "error", err)
		return e.fallback(ctx, userID, count, excludeIDs), true
	}

	recs := e.score(ctx, profile, matches)
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].RecipeID < recs[j].RecipeID
	})
	if len(recs) > count {
		recs = recs[:count]
	}
	if len(recs) == 0 {
		return e.fallback(ctx, userID, count, excludeIDs), true
	}
	return recs, false
}

// score combines ANN distance with the taste profile's category match
// into one number and records which inputs drove it.
func (e *Engine) score(ctx context.Context, profile *store.TasteProfile, matches []embedstore.Match) []Recommendation {
	recs := make([]Recommendation, 0, len(matches))
	for _, m := range matches {
		similarity := 1 - m.Distance
		score := e.cfg.SimilarityWeight * similarity
		reasons := []string{"similar to your recent recipes"}

		if profile != nil && len(profile.CategoryWeights) > 0 {
			recipe, err := e.recipes.GetRecipe(ctx, m.RecipeID)
			if err == nil && recipe != nil {
				match, matched := categoryMatch(profile, recipe.Categories)
				score += e.cfg.TasteWeight * profile.Strength * match
				if len(matched) > 0 {
					reasons = append(reasons, "matches your taste for "+strings.Join(matched, ", "))
				}
			}
		}
		recs = append(recs, Recommendation{RecipeID: m.RecipeID, Score: score, Reasons: reasons})
	}
	return recs
}

// queryVector averages the user's newest recipe embeddings. Nil means the
// user has no embedded recipes yet.
func (e *Engine) queryVector(ctx context.Context, userID string) ([]float32, error) {
	embeddings, err := e.recipes.ListRecipeEmbeddings(ctx, &store.FindRecipeEmbedding{
		OwnerID: &userID,
		Limit:   e.cfg.QueryVectorSamples,
	})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	dims := len(embeddings[0].Embedding)
	sum := make([]float64, dims)
	for _, emb := range embeddings {
		if len(emb.Embedding) != dims {
			continue
		}
		for i, v := range emb.Embedding {
			sum[i] += float64(v)
		}
	}
	vector := make([]float32, dims)
	for i, v := range sum {
		vector[i] = float32(v / float64(len(embeddings)))
	}
	return vector, nil
}

// fallback ranks by recency within the candidate pool. Used whenever the
// similarity path cannot answer in time.
func (e *Engine) fallback(ctx context.Context, userID string, count int, excludeIDs []string) []Recommendation {
	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	// A fresh context: the degraded path must still answer after the
	// primary one timed out.
	listCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.QueryTimeout)
	defer cancel()
	recipes, err := e.recipes.ListRecipes(listCtx, &store.FindRecipe{
		ExcludeOwnerID: &userID,
		OrderByRecency: true,
		Limit:          count + len(excludeIDs),
	})
	if err != nil {
		slog.Error("degraded ranking failed", "user", userID, "error", err)
		return []Recommendation{}
	}

	recs := make([]Recommendation, 0, count)
	for _, r := range recipes {
		if _, ok := excluded[r.ID]; ok {
			continue
		}
		recs = append(recs, Recommendation{
			RecipeID: r.ID,
			Score:    0,
			Reasons:  []string{"recently added"},
		})
		if len(recs) == count {
			break
		}
	}
	return recs
}

// categoryMatch sums the profile weights of the recipe's categories and
// returns the categories that contributed positively.
func categoryMatch(profile *store.TasteProfile, categories []string) (float64, []string) {
	var match float64
	var matched []string
	for _, c := range categories {
		c = store.NormalizeCategory(c)
		w, ok := profile.CategoryWeights[c]
		if !ok {
			continue
		}
		match += w
		if w > 0 {
			matched = append(matched, c)
		}
	}
	if match > 1 {
		match = 1
	} else if match < -1 {
		match = -1
	}
	sort.Strings(matched)
	return match, matched
}

// cacheKey derives the composite key (user, count, filter-hash).
func cacheKey(userID string, count int, excludeIDs []string) string {
	sorted := make([]string, len(excludeIDs))
	copy(sorted, excludeIDs)
	sort.Strings(sorted)
	digest := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return fmt.Sprintf("user:%s:rec:%d:%s", userID, count, hex.EncodeToString(digest[:6]))
}
