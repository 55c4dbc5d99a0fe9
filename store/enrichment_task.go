package store

import "context"

// EnrichmentTaskStatus represents the lifecycle state of an enrichment task.
// Transitions only move forward, except FAILED -> PENDING on a retry, and
// retries are bounded by the pipeline's max retry count.
type EnrichmentTaskStatus string

const (
	// EnrichmentTaskStatusPending means the task is queued.
	EnrichmentTaskStatusPending EnrichmentTaskStatus = "PENDING"
	// EnrichmentTaskStatusInProgress means a worker picked the task up.
	EnrichmentTaskStatusInProgress EnrichmentTaskStatus = "IN_PROGRESS"
	// EnrichmentTaskStatusDone means the embedding was stored.
	EnrichmentTaskStatusDone EnrichmentTaskStatus = "DONE"
	// EnrichmentTaskStatusFailed means retries were exhausted or the provider
	// rejected the content permanently.
	EnrichmentTaskStatusFailed EnrichmentTaskStatus = "FAILED"
)

// EnrichmentTask records one enrichment request for operator visibility.
// The in-memory queue is authoritative for scheduling; this row is the
// observable trail of what happened.
type EnrichmentTask struct {
	ID          string
	RecipeID    string
	Status      EnrichmentTaskStatus
	RetryCount  int
	Error       string
	RequestedTs int64
	UpdatedTs   int64
}

// FindEnrichmentTask is the find condition for enrichment tasks.
type FindEnrichmentTask struct {
	ID       *string
	RecipeID *string
	Status   *EnrichmentTaskStatus
	Limit    int
}

// UpsertEnrichmentTask inserts or updates a task record.
func (s *Store) UpsertEnrichmentTask(ctx context.Context, task *EnrichmentTask) (*EnrichmentTask, error) {
	return s.driver.UpsertEnrichmentTask(ctx, task)
}

// ListEnrichmentTasks lists task records matching the find condition.
func (s *Store) ListEnrichmentTasks(ctx context.Context, find *FindEnrichmentTask) ([]*EnrichmentTask, error) {
	return s.driver.ListEnrichmentTasks(ctx, find)
}
