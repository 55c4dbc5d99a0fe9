package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/store"
)

// UpsertRecipeEmbedding inserts or replaces the current embedding of a
// recipe. Replacement keeps the 1:1 recipe/embedding invariant.
func (d *DB) UpsertRecipeEmbedding(ctx context.Context, embedding *store.RecipeEmbedding) (*store.RecipeEmbedding, error) {
	if embedding.CreatedTs == 0 {
		embedding.CreatedTs = time.Now().Unix()
	}
	stmt := `
		INSERT INTO recipe_embedding (recipe_id, owner_id, embedding, model_id, model_version, source_hash, created_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (recipe_id)
		DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			embedding = EXCLUDED.embedding,
			model_id = EXCLUDED.model_id,
			model_version = EXCLUDED.model_version,
			source_hash = EXCLUDED.source_hash,
			created_ts = EXCLUDED.created_ts
	`
	vector := pgvector.NewVector(embedding.Embedding)
	if _, err := d.db.ExecContext(ctx, stmt,
		embedding.RecipeID,
		embedding.OwnerID,
		vector,
		embedding.ModelID,
		embedding.ModelVersion,
		embedding.SourceHash,
		embedding.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert recipe embedding")
	}
	return embedding, nil
}

// ListRecipeEmbeddings lists embeddings matching the find condition.
func (d *DB) ListRecipeEmbeddings(ctx context.Context, find *store.FindRecipeEmbedding) ([]*store.RecipeEmbedding, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.RecipeID != nil {
		where, args = append(where, "recipe_id = "+placeholder(len(args)+1)), append(args, *find.RecipeID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *find.OwnerID)
	}
	if find.ModelID != nil {
		where, args = append(where, "model_id = "+placeholder(len(args)+1)), append(args, *find.ModelID)
	}

	query := `
		SELECT recipe_id, owner_id, embedding, model_id, model_version, source_hash, created_ts
		FROM recipe_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recipe embeddings")
	}
	defer rows.Close()

	list := []*store.RecipeEmbedding{}
	for rows.Next() {
		var embedding store.RecipeEmbedding
		var vector pgvector.Vector
		if err := rows.Scan(
			&embedding.RecipeID,
			&embedding.OwnerID,
			&vector,
			&embedding.ModelID,
			&embedding.ModelVersion,
			&embedding.SourceHash,
			&embedding.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan recipe embedding")
		}
		embedding.Embedding = vector.Slice()
		list = append(list, &embedding)
	}
	return list, rows.Err()
}

// DeleteRecipeEmbedding deletes the embedding for a recipe. Idempotent.
func (d *DB) DeleteRecipeEmbedding(ctx context.Context, recipeID string) error {
	stmt := `DELETE FROM recipe_embedding WHERE recipe_id = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, recipeID); err != nil {
		return errors.Wrap(err, "failed to delete recipe embedding")
	}
	return nil
}

// DeleteRecipeEmbeddingsByOwner deletes every embedding owned by a user.
func (d *DB) DeleteRecipeEmbeddingsByOwner(ctx context.Context, ownerID string) (int, error) {
	stmt := `DELETE FROM recipe_embedding WHERE owner_id = ` + placeholder(1)
	result, err := d.db.ExecContext(ctx, stmt, ownerID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete recipe embeddings by owner")
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
