// Package teststore provides an in-memory store.Driver for tests.
package teststore

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/savorhq/tastecore/store"
)

// Driver is an in-memory store.Driver. Safe for concurrent use.
type Driver struct {
	mu         sync.Mutex
	recipes    map[string]*store.Recipe
	embeddings map[string]*store.RecipeEmbedding
	profiles   map[string]*store.TasteProfile
	tasks      map[string]*store.EnrichmentTask
	cache      map[string]*store.CacheEntry
}

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		recipes:    make(map[string]*store.Recipe),
		embeddings: make(map[string]*store.RecipeEmbedding),
		profiles:   make(map[string]*store.TasteProfile),
		tasks:      make(map[string]*store.EnrichmentTask),
		cache:      make(map[string]*store.CacheEntry),
	}
}

func (d *Driver) GetDB() *sql.DB                { return nil }
func (d *Driver) Migrate(context.Context) error { return nil }
func (d *Driver) Close() error                  { return nil }

func (d *Driver) ListRecipes(_ context.Context, find *store.FindRecipe) ([]*store.Recipe, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.Recipe{}
	for _, r := range d.recipes {
		if find.ID != nil && r.ID != *find.ID {
			continue
		}
		if find.OwnerID != nil && r.OwnerID != *find.OwnerID {
			continue
		}
		if find.ExcludeOwnerID != nil && r.OwnerID == *find.ExcludeOwnerID {
			continue
		}
		list = append(list, cloneRecipe(r))
	}
	if find.OrderByRecency {
		sort.Slice(list, func(i, j int) bool {
			if list[i].UpdatedTs != list[j].UpdatedTs {
				return list[i].UpdatedTs > list[j].UpdatedTs
			}
			return list[i].ID < list[j].ID
		})
	} else {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *Driver) UpsertRecipe(_ context.Context, recipe *store.Recipe) (*store.Recipe, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if recipe.CreatedTs == 0 {
		recipe.CreatedTs = time.Now().Unix()
	}
	if recipe.UpdatedTs == 0 {
		recipe.UpdatedTs = recipe.CreatedTs
	}
	d.recipes[recipe.ID] = cloneRecipe(recipe)
	return recipe, nil
}

func (d *Driver) DeleteRecipe(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.recipes, id)
	return nil
}

func (d *Driver) UpsertRecipeEmbedding(_ context.Context, emb *store.RecipeEmbedding) (*store.RecipeEmbedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if emb.CreatedTs == 0 {
		emb.CreatedTs = time.Now().Unix()
	}
	d.embeddings[emb.RecipeID] = cloneEmbedding(emb)
	return emb, nil
}

func (d *Driver) ListRecipeEmbeddings(_ context.Context, find *store.FindRecipeEmbedding) ([]*store.RecipeEmbedding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.RecipeEmbedding{}
	for _, e := range d.embeddings {
		if find.RecipeID != nil && e.RecipeID != *find.RecipeID {
			continue
		}
		if find.OwnerID != nil && e.OwnerID != *find.OwnerID {
			continue
		}
		if find.ModelID != nil && e.ModelID != *find.ModelID {
			continue
		}
		list = append(list, cloneEmbedding(e))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs > list[j].CreatedTs
		}
		return list[i].RecipeID < list[j].RecipeID
	})
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *Driver) DeleteRecipeEmbedding(_ context.Context, recipeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.embeddings, recipeID)
	return nil
}

func (d *Driver) DeleteRecipeEmbeddingsByOwner(_ context.Context, ownerID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for id, e := range d.embeddings {
		if e.OwnerID == ownerID {
			delete(d.embeddings, id)
			count++
		}
	}
	return count, nil
}

func (d *Driver) UpsertTasteProfile(_ context.Context, profile *store.TasteProfile) (*store.TasteProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[profile.UserID] = profile.Clone()
	return profile, nil
}

func (d *Driver) GetTasteProfile(_ context.Context, userID string) (*store.TasteProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[userID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (d *Driver) DeleteTasteProfile(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, userID)
	return nil
}

func (d *Driver) UpsertEnrichmentTask(_ context.Context, task *store.EnrichmentTask) (*store.EnrichmentTask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := *task
	d.tasks[task.ID] = &copied
	return task, nil
}

func (d *Driver) ListEnrichmentTasks(_ context.Context, find *store.FindEnrichmentTask) ([]*store.EnrichmentTask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := []*store.EnrichmentTask{}
	for _, t := range d.tasks {
		if find.ID != nil && t.ID != *find.ID {
			continue
		}
		if find.RecipeID != nil && t.RecipeID != *find.RecipeID {
			continue
		}
		if find.Status != nil && t.Status != *find.Status {
			continue
		}
		copied := *t
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].RequestedTs != list[j].RequestedTs {
			return list[i].RequestedTs > list[j].RequestedTs
		}
		return list[i].ID < list[j].ID
	})
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func (d *Driver) GetCacheEntry(_ context.Context, key string) (*store.CacheEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.cache[key]
	if !ok {
		return nil, nil
	}
	if entry.InsertedTs+entry.TTLSeconds <= time.Now().Unix() {
		delete(d.cache, key)
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (d *Driver) SetCacheEntry(_ context.Context, entry *store.CacheEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := *entry
	d.cache[entry.Key] = &copied
	return nil
}

func (d *Driver) InvalidateCacheEntries(_ context.Context, pattern string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		for key := range d.cache {
			if strings.HasPrefix(key, prefix) {
				delete(d.cache, key)
				count++
			}
		}
		return count, nil
	}
	if _, ok := d.cache[pattern]; ok {
		delete(d.cache, pattern)
		count++
	}
	return count, nil
}

func (d *Driver) PurgeExpiredCacheEntries(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().Unix()
	count := 0
	for key, entry := range d.cache {
		if entry.InsertedTs+entry.TTLSeconds <= now {
			delete(d.cache, key)
			count++
		}
	}
	return count, nil
}

func cloneRecipe(r *store.Recipe) *store.Recipe {
	copied := *r
	copied.Categories = append([]string(nil), r.Categories...)
	return &copied
}

func cloneEmbedding(e *store.RecipeEmbedding) *store.RecipeEmbedding {
	copied := *e
	copied.Embedding = append([]float32(nil), e.Embedding...)
	return &copied
}
