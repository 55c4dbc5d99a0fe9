package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/savorhq/tastecore/store"
)

// UpsertEnrichmentTask inserts or replaces an enrichment task row.
func (d *DB) UpsertEnrichmentTask(ctx context.Context, task *store.EnrichmentTask) (*store.EnrichmentTask, error) {
	if task.RequestedTs == 0 {
		task.RequestedTs = time.Now().Unix()
	}
	task.UpdatedTs = time.Now().Unix()

	stmt := `
		INSERT INTO enrichment_task (id, recipe_id, status, retry_count, error, requested_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			error = excluded.error,
			updated_ts = excluded.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		task.ID,
		task.RecipeID,
		string(task.Status),
		task.RetryCount,
		task.Error,
		task.RequestedTs,
		task.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert enrichment task")
	}
	return task, nil
}

// ListEnrichmentTasks lists tasks matching the find condition.
func (d *DB) ListEnrichmentTasks(ctx context.Context, find *store.FindEnrichmentTask) ([]*store.EnrichmentTask, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.RecipeID != nil {
		where, args = append(where, "recipe_id = ?"), append(args, *find.RecipeID)
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, string(*find.Status))
	}

	query := `
		SELECT id, recipe_id, status, retry_count, error, requested_ts, updated_ts
		FROM enrichment_task
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY requested_ts DESC, id`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list enrichment tasks")
	}
	defer rows.Close()

	list := []*store.EnrichmentTask{}
	for rows.Next() {
		var task store.EnrichmentTask
		var status string
		if err := rows.Scan(
			&task.ID,
			&task.RecipeID,
			&status,
			&task.RetryCount,
			&task.Error,
			&task.RequestedTs,
			&task.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan enrichment task")
		}
		task.Status = store.EnrichmentTaskStatus(status)
		list = append(list, &task)
	}
	return list, rows.Err()
}
