package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/store"
)

// UpsertEnrichmentTask inserts or updates a task record.
func (d *DB) UpsertEnrichmentTask(ctx context.Context, task *store.EnrichmentTask) (*store.EnrichmentTask, error) {
	if task.RequestedTs == 0 {
		task.RequestedTs = time.Now().Unix()
	}
	task.UpdatedTs = time.Now().Unix()

	stmt := `
		INSERT INTO enrichment_task (id, recipe_id, status, retry_count, error, requested_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (id)
		DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			error = EXCLUDED.error,
			updated_ts = EXCLUDED.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		task.ID,
		task.RecipeID,
		task.Status,
		task.RetryCount,
		task.Error,
		task.RequestedTs,
		task.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert enrichment task")
	}
	return task, nil
}

// ListEnrichmentTasks lists task records matching the find condition.
func (d *DB) ListEnrichmentTasks(ctx context.Context, find *store.FindEnrichmentTask) ([]*store.EnrichmentTask, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.RecipeID != nil {
		where, args = append(where, "recipe_id = "+placeholder(len(args)+1)), append(args, *find.RecipeID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, string(*find.Status))
	}

	query := `
		SELECT id, recipe_id, status, retry_count, error, requested_ts, updated_ts
		FROM enrichment_task
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY requested_ts ASC
	`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list enrichment tasks")
	}
	defer rows.Close()

	list := []*store.EnrichmentTask{}
	for rows.Next() {
		var task store.EnrichmentTask
		if err := rows.Scan(
			&task.ID,
			&task.RecipeID,
			&task.Status,
			&task.RetryCount,
			&task.Error,
			&task.RequestedTs,
			&task.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan enrichment task")
		}
		list = append(list, &task)
	}
	return list, rows.Err()
}
