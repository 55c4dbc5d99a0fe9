package store

import (
	"context"

	"github.com/pkg/errors"
)

// RecipeEmbedding is the current vector embedding of one recipe.
// At most one current embedding exists per recipe: a changed source hash
// replaces the row rather than appending a new one.
type RecipeEmbedding struct {
	RecipeID     string
	OwnerID      string
	Embedding    []float32
	ModelID      string
	ModelVersion string
	SourceHash   string
	CreatedTs    int64
}

// FindRecipeEmbedding is the find condition for recipe embeddings.
type FindRecipeEmbedding struct {
	RecipeID *string
	OwnerID  *string
	ModelID  *string
	Limit    int
}

// Validate checks the embedding record before it reaches a driver.
func (e *RecipeEmbedding) Validate() error {
	if e.RecipeID == "" {
		return errors.New("recipe id is required")
	}
	if len(e.Embedding) == 0 {
		return errors.New("embedding vector is empty")
	}
	if e.ModelID == "" {
		return errors.New("model id is required")
	}
	return nil
}

// UpsertRecipeEmbedding inserts or replaces the embedding for a recipe.
func (s *Store) UpsertRecipeEmbedding(ctx context.Context, embedding *RecipeEmbedding) (*RecipeEmbedding, error) {
	if err := embedding.Validate(); err != nil {
		return nil, err
	}
	return s.driver.UpsertRecipeEmbedding(ctx, embedding)
}

// GetRecipeEmbedding returns the current embedding for a recipe, or nil.
func (s *Store) GetRecipeEmbedding(ctx context.Context, recipeID string) (*RecipeEmbedding, error) {
	list, err := s.driver.ListRecipeEmbeddings(ctx, &FindRecipeEmbedding{RecipeID: &recipeID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListRecipeEmbeddings lists embeddings matching the find condition.
func (s *Store) ListRecipeEmbeddings(ctx context.Context, find *FindRecipeEmbedding) ([]*RecipeEmbedding, error) {
	return s.driver.ListRecipeEmbeddings(ctx, find)
}

// DeleteRecipeEmbedding deletes the embedding for a recipe. Idempotent.
func (s *Store) DeleteRecipeEmbedding(ctx context.Context, recipeID string) error {
	return s.driver.DeleteRecipeEmbedding(ctx, recipeID)
}

// DeleteRecipeEmbeddingsByOwner deletes every embedding owned by a user and
// returns the number of rows removed. Used by the GDPR purge hook.
func (s *Store) DeleteRecipeEmbeddingsByOwner(ctx context.Context, ownerID string) (int, error) {
	return s.driver.DeleteRecipeEmbeddingsByOwner(ctx, ownerID)
}
