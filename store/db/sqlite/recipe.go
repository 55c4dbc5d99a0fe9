package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/store"
)

// ListRecipes lists recipes matching the find condition.
func (d *DB) ListRecipes(ctx context.Context, find *store.FindRecipe) ([]*store.Recipe, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.OwnerID != nil {
		where, args = append(where, "owner_id = ?"), append(args, *find.OwnerID)
	}
	if find.ExcludeOwnerID != nil {
		where, args = append(where, "owner_id != ?"), append(args, *find.ExcludeOwnerID)
	}

	query := `
		SELECT id, owner_id, title, content, content_hash, categories, created_ts, updated_ts
		FROM recipe
		WHERE ` + strings.Join(where, " AND ")
	if find.OrderByRecency {
		query += " ORDER BY updated_ts DESC"
	} else {
		query += " ORDER BY id"
	}
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recipes")
	}
	defer rows.Close()

	list := []*store.Recipe{}
	for rows.Next() {
		var recipe store.Recipe
		var categories string
		if err := rows.Scan(
			&recipe.ID,
			&recipe.OwnerID,
			&recipe.Title,
			&recipe.Content,
			&recipe.ContentHash,
			&categories,
			&recipe.CreatedTs,
			&recipe.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan recipe")
		}
		if err := json.Unmarshal([]byte(categories), &recipe.Categories); err != nil {
			return nil, errors.Wrap(err, "failed to decode recipe categories")
		}
		list = append(list, &recipe)
	}
	return list, rows.Err()
}

// UpsertRecipe inserts or replaces a recipe row.
func (d *DB) UpsertRecipe(ctx context.Context, recipe *store.Recipe) (*store.Recipe, error) {
	categories, err := json.Marshal(recipe.Categories)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode recipe categories")
	}
	if recipe.CreatedTs == 0 {
		recipe.CreatedTs = time.Now().Unix()
	}
	recipe.UpdatedTs = time.Now().Unix()

	stmt := `
		INSERT INTO recipe (id, owner_id, title, content, content_hash, categories, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			content_hash = excluded.content_hash,
			categories = excluded.categories,
			updated_ts = excluded.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		recipe.ID,
		recipe.OwnerID,
		recipe.Title,
		recipe.Content,
		recipe.ContentHash,
		string(categories),
		recipe.CreatedTs,
		recipe.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert recipe")
	}
	return recipe, nil
}

// DeleteRecipe deletes a recipe row. Idempotent.
func (d *DB) DeleteRecipe(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM recipe WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete recipe")
	}
	return nil
}
