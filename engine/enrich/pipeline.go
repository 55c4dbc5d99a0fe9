// Package enrich runs the asynchronous embedding pipeline: recipe changes
// are enqueued as observable tasks, drained in provider-sized batches by a
// small worker pool, and written back into the embedding store with the
// matching cache invalidations.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/savorhq/tastecore/engine/cache"
	"github.com/savorhq/tastecore/engine/embedding"
	"github.com/savorhq/tastecore/engine/embedstore"
	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/store"
)

// Config tunes the pipeline.
type Config struct {
	Workers        int
	QueueSize      int
	BatchSize      int
	MaxRetries     int
	MinSpacing     time.Duration // minimum gap between provider calls
	RequestTimeout time.Duration
	BackoffBase    time.Duration
	PollInterval   time.Duration
}

// DefaultConfig returns production tunables.
func DefaultConfig() Config {
	return Config{
		Workers:        3,
		QueueSize:      256,
		BatchSize:      16,
		MaxRetries:     3,
		MinSpacing:     200 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
		BackoffBase:    time.Second,
		PollInterval:   time.Second,
	}
}

// Metrics receives pipeline observations. May be nil.
type Metrics interface {
	RecordProviderRequest(failed bool)
	RecordTaskOutcome(status store.EnrichmentTaskStatus)
	SetQueueDepth(depth int)
}

// Outcome reports what happened to one task during a batch.
type Outcome struct {
	TaskID   string
	RecipeID string
	Status   store.EnrichmentTaskStatus
	Err      error
}

type pendingTask struct {
	task       *store.EnrichmentTask
	notBefore  time.Time
	enqueueSeq uint64
	inProgress bool
}

// Pipeline is the enrichment orchestrator.
type Pipeline struct {
	recipes    *store.Store
	provider   embedding.Provider
	embeddings *embedstore.Store
	cache      *cache.Coordinator
	metrics    Metrics
	cfg        Config
	limiter    *rate.Limiter

	mu     sync.Mutex
	active map[string]*pendingTask // recipeID -> undone task
	seq    uint64

	notify  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started sync.Once
	stopped sync.Once
}

// NewPipeline creates an enrichment pipeline.
func NewPipeline(recipes *store.Store, provider embedding.Provider, embeddings *embedstore.Store, coordinator *cache.Coordinator, metrics Metrics, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	limit := rate.Inf
	if cfg.MinSpacing > 0 {
		limit = rate.Every(cfg.MinSpacing)
	}
	return &Pipeline{
		recipes:    recipes,
		provider:   provider,
		embeddings: embeddings,
		cache:      coordinator,
		metrics:    metrics,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		active:     make(map[string]*pendingTask),
		notify:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	p.started.Do(func() {
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		slog.Info("enrichment pipeline started", "workers", p.cfg.Workers)
	})
}

// Stop terminates the workers and waits for in-flight batches.
func (p *Pipeline) Stop() {
	p.stopped.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		slog.Info("enrichment pipeline stopped")
	})
}

// Enqueue registers a recipe for enrichment and returns the task id.
// A recipe with an undone task is not enqueued twice; its existing task id
// is returned. A full backlog rejects with ResourceExhausted so the caller
// backs off instead of queuing unboundedly.
func (p *Pipeline) Enqueue(ctx context.Context, recipeID string) (string, error) {
	if recipeID == "" {
		return "", errs.Validation("recipe id is required")
	}

	p.mu.Lock()
	if existing, ok := p.active[recipeID]; ok {
		id := existing.task.ID
		p.mu.Unlock()
		return id, nil
	}
	if len(p.active) >= p.cfg.QueueSize {
		p.mu.Unlock()
		return "", errs.ResourceExhausted("enrichment backlog full (%d tasks)", p.cfg.QueueSize)
	}
	task := &store.EnrichmentTask{
		ID:          uuid.NewString(),
		RecipeID:    recipeID,
		Status:      store.EnrichmentTaskStatusPending,
		RequestedTs: time.Now().Unix(),
	}
	p.seq++
	p.active[recipeID] = &pendingTask{task: task, enqueueSeq: p.seq}
	depth := len(p.active)
	p.mu.Unlock()

	if _, err := p.recipes.UpsertEnrichmentTask(ctx, task); err != nil {
		// The in-memory queue stays authoritative; the trail row will be
		// rewritten when the task completes.
		slog.Warn("failed to persist enrichment task", "task", task.ID, "error", err)
	}
	if p.metrics != nil {
		p.metrics.SetQueueDepth(depth)
	}

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return task.ID, nil
}

// QueueDepth returns the number of undone tasks.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// ProcessBatch drains up to maxBatchSize due tasks through the provider.
// Tasks that fail transiently go back to pending with backoff; permanent
// failures and exhausted retries are marked failed for operator review.
func (p *Pipeline) ProcessBatch(ctx context.Context, maxBatchSize int) ([]Outcome, error) {
	if p.provider == nil {
		return nil, nil
	}
	if maxBatchSize <= 0 {
		maxBatchSize = p.cfg.BatchSize
	}
	batch := p.claim(maxBatchSize)
	if len(batch) == 0 {
		return nil, nil
	}

	outcomes := make([]Outcome, 0, len(batch))
	texts := make([]string, 0, len(batch))
	items := make([]*store.Recipe, 0, len(batch))
	live := make([]*store.EnrichmentTask, 0, len(batch))

	for _, task := range batch {
		recipe, err := p.recipes.GetRecipe(ctx, task.RecipeID)
		if err != nil {
			outcomes = append(outcomes, p.settle(ctx, task, err))
			continue
		}
		if recipe == nil {
			// Recipe deleted while queued; nothing left to enrich.
			outcomes = append(outcomes, p.complete(ctx, task))
			continue
		}
		live = append(live, task)
		items = append(items, recipe)
		texts = append(texts, embeddingText(recipe))
	}
	if len(live) == 0 {
		return outcomes, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		for _, task := range live {
			outcomes = append(outcomes, p.settle(ctx, task, errs.Transient(err)))
		}
		return outcomes, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	vectors, err := p.provider.EmbedBatch(callCtx, texts)
	cancel()
	if p.metrics != nil {
		p.metrics.RecordProviderRequest(err != nil)
	}

	if err == nil {
		for i, task := range live {
			outcomes = append(outcomes, p.store(ctx, task, items[i], vectors[i]))
		}
		return outcomes, nil
	}

	// The batched call is all-or-nothing; one rejected item poisons the
	// whole response. Fall back to per-item calls so only the bad item
	// fails and the rest of the batch lands.
	slog.Warn("batched embedding failed, retrying per item", "size", len(live), "error", err)
	for i, task := range live {
		itemCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
		vector, itemErr := p.provider.Embed(itemCtx, texts[i])
		cancel()
		if p.metrics != nil {
			p.metrics.RecordProviderRequest(itemErr != nil)
		}
		if itemErr != nil {
			outcomes = append(outcomes, p.settle(ctx, task, itemErr))
			continue
		}
		outcomes = append(outcomes, p.store(ctx, task, items[i], vector))
	}
	return outcomes, nil
}

// FailedTasks lists tasks that exhausted their retries, for operator
// visibility.
func (p *Pipeline) FailedTasks(ctx context.Context) ([]*store.EnrichmentTask, error) {
	failed := store.EnrichmentTaskStatusFailed
	return p.recipes.ListEnrichmentTasks(ctx, &store.FindEnrichmentTask{Status: &failed})
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.notify:
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*p.cfg.RequestTimeout)
		outcomes, err := p.ProcessBatch(ctx, p.cfg.BatchSize)
		cancel()
		if err != nil {
			slog.Error("enrichment batch failed", "worker", id, "error", err)
			continue
		}
		for _, o := range outcomes {
			if o.Err != nil {
				slog.Warn("enrichment task not done", "task", o.TaskID, "recipe", o.RecipeID, "status", o.Status, "error", o.Err)
			}
		}
	}
}

// claim moves up to max due pending tasks to in-progress. Deduplication
// plus this claim keeps enrichment for one recipe serialized.
func (p *Pipeline) claim(max int) []*store.EnrichmentTask {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	due := make([]*pendingTask, 0, max)
	for _, pt := range p.active {
		if pt.inProgress || now.Before(pt.notBefore) {
			continue
		}
		due = append(due, pt)
	}
	// Oldest enqueue first.
	for i := 1; i < len(due); i++ {
		for j := i; j > 0 && due[j].enqueueSeq < due[j-1].enqueueSeq; j-- {
			due[j], due[j-1] = due[j-1], due[j]
		}
	}
	if len(due) > max {
		due = due[:max]
	}

	batch := make([]*store.EnrichmentTask, 0, len(due))
	for _, pt := range due {
		pt.inProgress = true
		pt.task.Status = store.EnrichmentTaskStatusInProgress
		batch = append(batch, pt.task)
	}
	return batch
}

// store persists the fresh embedding and invalidates everything derived
// from the old one before the outcome is reported.
func (p *Pipeline) store(ctx context.Context, task *store.EnrichmentTask, recipe *store.Recipe, vector []float32) Outcome {
	emb := &store.RecipeEmbedding{
		RecipeID:     recipe.ID,
		OwnerID:      recipe.OwnerID,
		Embedding:    vector,
		ModelID:      p.provider.ModelID(),
		ModelVersion: p.provider.ModelID(),
		SourceHash:   recipe.ContentHash,
		CreatedTs:    time.Now().Unix(),
	}
	if err := p.embeddings.Upsert(ctx, emb); err != nil {
		return p.settle(ctx, task, err)
	}

	p.cache.Invalidate(ctx, fmt.Sprintf("recipe:%s:*", recipe.ID))
	p.cache.Invalidate(ctx, fmt.Sprintf("user:%s:rec:*", recipe.OwnerID))
	p.cache.Invalidate(ctx, "search:*")

	return p.complete(ctx, task)
}

func (p *Pipeline) complete(ctx context.Context, task *store.EnrichmentTask) Outcome {
	task.Status = store.EnrichmentTaskStatusDone
	task.Error = ""
	p.finish(ctx, task)
	return Outcome{TaskID: task.ID, RecipeID: task.RecipeID, Status: task.Status}
}

// settle decides a failed attempt's fate from the error kind.
func (p *Pipeline) settle(ctx context.Context, task *store.EnrichmentTask, err error) Outcome {
	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindPermanentProvider:
		task.Status = store.EnrichmentTaskStatusFailed
		task.Error = err.Error()
		p.finish(ctx, task)
	default:
		task.RetryCount++
		if task.RetryCount > p.cfg.MaxRetries {
			task.Status = store.EnrichmentTaskStatusFailed
			task.Error = fmt.Sprintf("retries exhausted: %v", err)
			p.finish(ctx, task)
		} else {
			task.Status = store.EnrichmentTaskStatusPending
			task.Error = err.Error()
			p.requeue(ctx, task)
		}
	}
	return Outcome{TaskID: task.ID, RecipeID: task.RecipeID, Status: task.Status, Err: err}
}

// finish removes the task from the active set and persists its terminal
// state.
func (p *Pipeline) finish(ctx context.Context, task *store.EnrichmentTask) {
	p.mu.Lock()
	delete(p.active, task.RecipeID)
	depth := len(p.active)
	p.mu.Unlock()

	if _, err := p.recipes.UpsertEnrichmentTask(ctx, task); err != nil {
		slog.Warn("failed to persist enrichment task", "task", task.ID, "error", err)
	}
	if p.metrics != nil {
		p.metrics.SetQueueDepth(depth)
		p.metrics.RecordTaskOutcome(task.Status)
	}
}

// requeue returns the task to pending with exponential backoff.
func (p *Pipeline) requeue(ctx context.Context, task *store.EnrichmentTask) {
	backoff := p.cfg.BackoffBase << (task.RetryCount - 1)
	p.mu.Lock()
	if pt, ok := p.active[task.RecipeID]; ok {
		pt.inProgress = false
		pt.notBefore = time.Now().Add(backoff)
	}
	p.mu.Unlock()

	if _, err := p.recipes.UpsertEnrichmentTask(ctx, task); err != nil {
		slog.Warn("failed to persist enrichment task", "task", task.ID, "error", err)
	}
}

// embeddingText is the canonical provider input for a recipe.
func embeddingText(recipe *store.Recipe) string {
	if recipe.Title == "" {
		return recipe.Content
	}
	return recipe.Title + "\n\n" + recipe.Content
}
