package store

import (
	"context"
	"database/sql"
)

// Driver is the storage backend interface. Two implementations exist:
// postgres (pgvector, production) and sqlite (dev/test, best effort).
type Driver interface {
	GetDB() *sql.DB
	Migrate(ctx context.Context) error
	Close() error

	// Recipes (read-side contract plus the writes tests and purge need).
	ListRecipes(ctx context.Context, find *FindRecipe) ([]*Recipe, error)
	UpsertRecipe(ctx context.Context, recipe *Recipe) (*Recipe, error)
	DeleteRecipe(ctx context.Context, id string) error

	// Recipe embeddings.
	UpsertRecipeEmbedding(ctx context.Context, embedding *RecipeEmbedding) (*RecipeEmbedding, error)
	ListRecipeEmbeddings(ctx context.Context, find *FindRecipeEmbedding) ([]*RecipeEmbedding, error)
	DeleteRecipeEmbedding(ctx context.Context, recipeID string) error
	DeleteRecipeEmbeddingsByOwner(ctx context.Context, ownerID string) (int, error)

	// Taste profiles.
	UpsertTasteProfile(ctx context.Context, profile *TasteProfile) (*TasteProfile, error)
	GetTasteProfile(ctx context.Context, userID string) (*TasteProfile, error)
	DeleteTasteProfile(ctx context.Context, userID string) error

	// Enrichment task trail.
	UpsertEnrichmentTask(ctx context.Context, task *EnrichmentTask) (*EnrichmentTask, error)
	ListEnrichmentTasks(ctx context.Context, find *FindEnrichmentTask) ([]*EnrichmentTask, error)

	// Shared cache tier.
	GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error)
	SetCacheEntry(ctx context.Context, entry *CacheEntry) error
	InvalidateCacheEntries(ctx context.Context, pattern string) (int, error)
	PurgeExpiredCacheEntries(ctx context.Context) (int, error)
}
