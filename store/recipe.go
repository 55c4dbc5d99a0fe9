package store

import (
	"context"
	"strings"
)

// Recipe is the read-side contract the recommendation core consumes from the
// storage layer. Row CRUD mechanics and ingredient parsing live outside the
// core; Categories is the parsed output this core relies on.
type Recipe struct {
	ID          string
	OwnerID     string
	Title       string
	Content     string
	ContentHash string
	Categories  []string
	CreatedTs   int64
	UpdatedTs   int64
}

// NormalizeCategory canonicalizes a parsed category label so "Italian" and
// "italian " aggregate under one signal.
func NormalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// FindRecipe is the find condition for recipes.
type FindRecipe struct {
	ID             *string
	OwnerID        *string
	ExcludeOwnerID *string
	Limit          int
	OrderByRecency bool
}

// GetRecipe returns the recipe with the given id, or nil if absent.
func (s *Store) GetRecipe(ctx context.Context, id string) (*Recipe, error) {
	list, err := s.driver.ListRecipes(ctx, &FindRecipe{ID: &id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListRecipesByUser enumerates the user's recipe collection, newest first.
func (s *Store) ListRecipesByUser(ctx context.Context, ownerID string) ([]*Recipe, error) {
	return s.driver.ListRecipes(ctx, &FindRecipe{OwnerID: &ownerID, OrderByRecency: true})
}

// ListRecipes lists recipes matching the find condition.
func (s *Store) ListRecipes(ctx context.Context, find *FindRecipe) ([]*Recipe, error) {
	return s.driver.ListRecipes(ctx, find)
}

// UpsertRecipe inserts or replaces a recipe row.
func (s *Store) UpsertRecipe(ctx context.Context, recipe *Recipe) (*Recipe, error) {
	return s.driver.UpsertRecipe(ctx, recipe)
}

// DeleteRecipe deletes a recipe row. Embedding cleanup cascades through the
// core's delete path, not through the database.
func (s *Store) DeleteRecipe(ctx context.Context, id string) error {
	return s.driver.DeleteRecipe(ctx, id)
}
