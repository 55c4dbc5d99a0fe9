// Package embedstore keeps recipe embeddings durable in the database and
// queryable through an in-memory vector index. The database is the source
// of truth; the index is rebuilt from it on startup.
package embedstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/engine/vecindex"
	"github.com/savorhq/tastecore/store"
)

// Exact ranking beats graph traversal when the candidate set is this small.
const subsetThreshold = 64

// Metrics receives query timings. May be nil.
type Metrics interface {
	ObserveIndexQuery(seconds float64)
}

type entryMeta struct {
	ownerID   string
	createdTs int64
}

// Store is the embedding store.
type Store struct {
	driver  store.Driver
	metrics Metrics

	// writeMu serializes index mutations against each other and against
	// Compact, which must not see an Add or Delete land between its
	// snapshot and its swap. Queries do not take it; they read through
	// the index's own snapshot semantics and stay live during a rebuild.
	writeMu sync.Mutex
	mu      sync.RWMutex
	index   *vecindex.Index
	meta    map[string]entryMeta
}

// Match is a scored query result.
type Match struct {
	RecipeID string
	Distance float64
}

// QueryOptions narrows the candidate set of a query.
type QueryOptions struct {
	// ExcludeOwnerID drops recipes owned by this user.
	ExcludeOwnerID string
	// ExcludeIDs drops specific recipes, such as ones already seen.
	ExcludeIDs []string
	// SubsetIDs, when non-empty, restricts candidates to exactly these
	// recipes. Small subsets are ranked exactly instead of traversed.
	SubsetIDs []string
}

// New creates an embedding store over the given driver. Call Load before
// serving queries.
func New(driver store.Driver, dimensions int, cfg vecindex.Config, metrics Metrics) *Store {
	return &Store{
		driver:  driver,
		metrics: metrics,
		index:   vecindex.New(dimensions, cfg),
		meta:    make(map[string]entryMeta),
	}
}

// Load rebuilds the in-memory index from persisted embeddings.
func (s *Store) Load(ctx context.Context) error {
	embeddings, err := s.driver.ListRecipeEmbeddings(ctx, &store.FindRecipeEmbedding{})
	if err != nil {
		return errors.Wrap(err, "failed to load embeddings")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, emb := range embeddings {
		if err := s.index.Add(emb.RecipeID, emb.Embedding); err != nil {
			// A stale row with the wrong dimensionality must not block
			// startup; it will be rewritten on the next enrichment.
			slog.Warn("skipping unloadable embedding", "recipe", emb.RecipeID, "error", err)
			continue
		}
		s.meta[emb.RecipeID] = entryMeta{ownerID: emb.OwnerID, createdTs: emb.CreatedTs}
	}
	slog.Info("embedding index loaded", "count", s.index.Len())
	return nil
}

// Upsert persists an embedding and makes it queryable. Replacing an
// existing recipe's vector is atomic with respect to queries.
func (s *Store) Upsert(ctx context.Context, emb *store.RecipeEmbedding) error {
	if err := emb.Validate(); err != nil {
		return err
	}
	if len(emb.Embedding) != s.index.Dimensions() {
		return errs.Validation("embedding has %d dimensions, index expects %d", len(emb.Embedding), s.index.Dimensions())
	}
	if emb.CreatedTs == 0 {
		emb.CreatedTs = time.Now().Unix()
	}

	if _, err := s.driver.UpsertRecipeEmbedding(ctx, emb); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Add(emb.RecipeID, emb.Embedding); err != nil {
		return err
	}
	s.meta[emb.RecipeID] = entryMeta{ownerID: emb.OwnerID, createdTs: emb.CreatedTs}
	return nil
}

// Delete removes a recipe's embedding from the database and the index.
// Idempotent.
func (s *Store) Delete(ctx context.Context, recipeID string) error {
	if err := s.driver.DeleteRecipeEmbedding(ctx, recipeID); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Delete(recipeID)
	delete(s.meta, recipeID)
	return nil
}

// DeleteByOwner removes every embedding owned by a user.
func (s *Store) DeleteByOwner(ctx context.Context, ownerID string) error {
	owned, err := s.driver.ListRecipeEmbeddings(ctx, &store.FindRecipeEmbedding{OwnerID: &ownerID})
	if err != nil {
		return err
	}
	if _, err := s.driver.DeleteRecipeEmbeddingsByOwner(ctx, ownerID); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, emb := range owned {
		s.index.Delete(emb.RecipeID)
		delete(s.meta, emb.RecipeID)
	}
	return nil
}

// Query returns up to k nearest recipes to the query vector. Matches at
// equal distance are ordered newest first so fresh content surfaces.
func (s *Store) Query(ctx context.Context, vector []float32, k int, opts QueryOptions) ([]Match, error) {
	if k <= 0 {
		return nil, errs.Validation("k must be positive, got %d", k)
	}
	if len(vector) != s.index.Dimensions() {
		return nil, errs.Validation("query vector has %d dimensions, index expects %d", len(vector), s.index.Dimensions())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	s.mu.RLock()

	var raw []vecindex.Match
	var err error
	if n := len(opts.SubsetIDs); n > 0 && n <= subsetThreshold {
		raw, err = s.index.SearchSubset(vector, k, s.filterIDs(opts))
	} else {
		raw, err = s.index.Search(vector, k, s.allowFunc(opts))
	}
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}

	matches := make([]Match, 0, len(raw))
	created := make(map[string]int64, len(raw))
	for _, m := range raw {
		matches = append(matches, Match{RecipeID: m.ID, Distance: float64(m.Distance)})
		created[m.ID] = s.meta[m.ID].createdTs
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return created[matches[i].RecipeID] > created[matches[j].RecipeID]
	})

	if s.metrics != nil {
		s.metrics.ObserveIndexQuery(time.Since(start).Seconds())
	}
	return matches, nil
}

// Len returns the number of live vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// TombstoneRatio reports the deleted fraction of the index, for the
// maintenance loop to decide when to compact.
func (s *Store) TombstoneRatio() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.TombstoneRatio()
}

// Compact rebuilds the index without tombstones. Only writers wait for
// the rebuild; queries keep answering against the old graph and stall
// only for the final swap.
func (s *Store) Compact() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.index.Compact()
}

// filterIDs applies the exclusion options to an explicit candidate list.
func (s *Store) filterIDs(opts QueryOptions) []string {
	allow := s.allowFunc(opts)
	ids := make([]string, 0, len(opts.SubsetIDs))
	for _, id := range opts.SubsetIDs {
		if allow == nil || allow(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// allowFunc builds the candidate predicate, or nil when unrestricted.
// Callers hold at least a read lock.
func (s *Store) allowFunc(opts QueryOptions) func(string) bool {
	if opts.ExcludeOwnerID == "" && len(opts.ExcludeIDs) == 0 && len(opts.SubsetIDs) == 0 {
		return nil
	}
	excluded := make(map[string]struct{}, len(opts.ExcludeIDs))
	for _, id := range opts.ExcludeIDs {
		excluded[id] = struct{}{}
	}
	var subset map[string]struct{}
	if len(opts.SubsetIDs) > subsetThreshold {
		subset = make(map[string]struct{}, len(opts.SubsetIDs))
		for _, id := range opts.SubsetIDs {
			subset[id] = struct{}{}
		}
	}
	return func(id string) bool {
		if _, ok := excluded[id]; ok {
			return false
		}
		if subset != nil {
			if _, ok := subset[id]; !ok {
				return false
			}
		}
		if opts.ExcludeOwnerID != "" && s.meta[id].ownerID == opts.ExcludeOwnerID {
			return false
		}
		return true
	}
}
