package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/store"
)

// ListRecipeEmbeddings lists embeddings matching the find condition.
// Vectors are stored as JSON text since sqlite has no vector type.
func (d *DB) ListRecipeEmbeddings(ctx context.Context, find *store.FindRecipeEmbedding) ([]*store.RecipeEmbedding, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.RecipeID != nil {
		where, args = append(where, "recipe_id = ?"), append(args, *find.RecipeID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = ?"), append(args, *find.OwnerID)
	}
	if find.ModelID != nil {
		where, args = append(where, "model_id = ?"), append(args, *find.ModelID)
	}

	query := `
		SELECT recipe_id, owner_id, embedding, model_id, model_version, source_hash, created_ts
		FROM recipe_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, recipe_id`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recipe embeddings")
	}
	defer rows.Close()

	list := []*store.RecipeEmbedding{}
	for rows.Next() {
		var emb store.RecipeEmbedding
		var vector string
		if err := rows.Scan(
			&emb.RecipeID,
			&emb.OwnerID,
			&vector,
			&emb.ModelID,
			&emb.ModelVersion,
			&emb.SourceHash,
			&emb.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan recipe embedding")
		}
		if err := json.Unmarshal([]byte(vector), &emb.Embedding); err != nil {
			return nil, errors.Wrap(err, "failed to decode embedding vector")
		}
		list = append(list, &emb)
	}
	return list, rows.Err()
}

// UpsertRecipeEmbedding inserts or replaces the embedding for a recipe.
func (d *DB) UpsertRecipeEmbedding(ctx context.Context, emb *store.RecipeEmbedding) (*store.RecipeEmbedding, error) {
	vector, err := json.Marshal(emb.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode embedding vector")
	}
	if emb.CreatedTs == 0 {
		emb.CreatedTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO recipe_embedding (recipe_id, owner_id, embedding, model_id, model_version, source_hash, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (recipe_id)
		DO UPDATE SET
			owner_id = excluded.owner_id,
			embedding = excluded.embedding,
			model_id = excluded.model_id,
			model_version = excluded.model_version,
			source_hash = excluded.source_hash,
			created_ts = excluded.created_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		emb.RecipeID,
		emb.OwnerID,
		string(vector),
		emb.ModelID,
		emb.ModelVersion,
		emb.SourceHash,
		emb.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert recipe embedding")
	}
	return emb, nil
}

// DeleteRecipeEmbedding removes the embedding for a recipe. Idempotent.
func (d *DB) DeleteRecipeEmbedding(ctx context.Context, recipeID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM recipe_embedding WHERE recipe_id = ?`, recipeID); err != nil {
		return errors.Wrap(err, "failed to delete recipe embedding")
	}
	return nil
}

// DeleteRecipeEmbeddingsByOwner removes all embeddings owned by a user
// and returns the number removed.
func (d *DB) DeleteRecipeEmbeddingsByOwner(ctx context.Context, ownerID string) (int, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM recipe_embedding WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete recipe embeddings by owner")
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
