package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorhq/tastecore/engine/cache"
	"github.com/savorhq/tastecore/engine/embedstore"
	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/engine/vecindex"
	"github.com/savorhq/tastecore/store"
	"github.com/savorhq/tastecore/store/teststore"
)

const testDimensions = 4

// fakeProvider rejects any text containing "poison". The batched call is
// all-or-nothing, so one poisoned item fails the whole batch; per-item
// calls isolate it.
type fakeProvider struct {
	mu         sync.Mutex
	err        error
	batchCalls int
	itemCalls  int
}

func (f *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.itemCalls++
	f.mu.Unlock()
	if strings.Contains(text, "poison") {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errs.Transient(fmt.Errorf("provider overloaded"))
	}
	return []float32{1, 0, 0, float32(len(text))}, nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

func (f *fakeProvider) Dimensions() int { return testDimensions }
func (f *fakeProvider) ModelID() string { return "fake-embedder" }

func newTestPipeline(t *testing.T, provider *fakeProvider, cfg Config) (*Pipeline, *teststore.Driver, *embedstore.Store) {
	t.Helper()
	driver := teststore.New()
	recipes := store.New(driver, nil)
	embeddings := embedstore.New(driver, testDimensions, vecindex.Config{}, nil)
	coordinator := cache.NewCoordinator(cache.NewMemoryTier(100), nil, cache.Config{})
	return NewPipeline(recipes, provider, embeddings, coordinator, nil, cfg), driver, embeddings
}

func seedRecipe(t *testing.T, driver *teststore.Driver, id, content string) {
	t.Helper()
	_, err := driver.UpsertRecipe(context.Background(), &store.Recipe{
		ID:          id,
		OwnerID:     "u1",
		Title:       "recipe " + id,
		Content:     content,
		ContentHash: "hash-" + id,
		CreatedTs:   time.Now().Unix(),
		UpdatedTs:   time.Now().Unix(),
	})
	require.NoError(t, err)
}

func TestPipeline_PoisonedBatchFallsBackPerItem(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	pipeline, driver, embeddings := newTestPipeline(t, provider, Config{MaxRetries: 3, BackoffBase: time.Hour})

	for i := 1; i <= 5; i++ {
		content := fmt.Sprintf("ingredients %d", i)
		if i == 3 {
			content = "poison"
		}
		seedRecipe(t, driver, fmt.Sprintf("r%d", i), content)
		_, err := pipeline.Enqueue(ctx, fmt.Sprintf("r%d", i))
		require.NoError(t, err)
	}

	outcomes, err := pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 5)

	byRecipe := make(map[string]Outcome)
	for _, o := range outcomes {
		byRecipe[o.RecipeID] = o
	}
	for _, id := range []string{"r1", "r2", "r4", "r5"} {
		assert.Equal(t, store.EnrichmentTaskStatusDone, byRecipe[id].Status, id)
		assert.NoError(t, byRecipe[id].Err, id)
	}
	assert.Equal(t, store.EnrichmentTaskStatusPending, byRecipe["r3"].Status)
	assert.Error(t, byRecipe["r3"].Err)

	// Only the poisoned recipe is still queued, with one retry recorded.
	assert.Equal(t, 1, pipeline.QueueDepth())
	tasks, err := driver.ListEnrichmentTasks(ctx, &store.FindEnrichmentTask{RecipeID: strptr("r3")})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].RetryCount)

	// The healthy recipes got their embeddings.
	assert.Equal(t, 4, embeddings.Len())

	// One batched call plus per-item fallbacks.
	assert.Equal(t, 1, provider.batchCalls)
}

func TestPipeline_EnqueueDeduplicates(t *testing.T) {
	ctx := context.Background()
	pipeline, driver, _ := newTestPipeline(t, &fakeProvider{}, Config{})
	seedRecipe(t, driver, "r1", "ingredients")

	first, err := pipeline.Enqueue(ctx, "r1")
	require.NoError(t, err)
	second, err := pipeline.Enqueue(ctx, "r1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, pipeline.QueueDepth())
}

func TestPipeline_BacklogFull(t *testing.T) {
	ctx := context.Background()
	pipeline, driver, _ := newTestPipeline(t, &fakeProvider{}, Config{QueueSize: 2})
	for i := 1; i <= 3; i++ {
		seedRecipe(t, driver, fmt.Sprintf("r%d", i), "ingredients")
	}

	_, err := pipeline.Enqueue(ctx, "r1")
	require.NoError(t, err)
	_, err = pipeline.Enqueue(ctx, "r2")
	require.NoError(t, err)

	_, err = pipeline.Enqueue(ctx, "r3")
	require.Error(t, err)
	assert.True(t, errs.IsResourceExhausted(err))

	// A duplicate of an already queued recipe is still accepted.
	_, err = pipeline.Enqueue(ctx, "r1")
	require.NoError(t, err)
}

func TestPipeline_PermanentErrorFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{err: errs.PermanentProvider(fmt.Errorf("model not found"))}
	pipeline, driver, _ := newTestPipeline(t, provider, Config{MaxRetries: 3})

	seedRecipe(t, driver, "r1", "poison")
	_, err := pipeline.Enqueue(ctx, "r1")
	require.NoError(t, err)

	outcomes, err := pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, store.EnrichmentTaskStatusFailed, outcomes[0].Status)
	assert.Equal(t, 0, pipeline.QueueDepth())

	failed, err := pipeline.FailedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "r1", failed[0].RecipeID)
	assert.Equal(t, 0, failed[0].RetryCount)
}

func TestPipeline_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	pipeline, driver, _ := newTestPipeline(t, &fakeProvider{}, Config{MaxRetries: 1, BackoffBase: time.Nanosecond})

	seedRecipe(t, driver, "r1", "poison")
	_, err := pipeline.Enqueue(ctx, "r1")
	require.NoError(t, err)

	outcomes, err := pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, store.EnrichmentTaskStatusPending, outcomes[0].Status)

	// Let the nanosecond backoff elapse, then fail the last attempt.
	time.Sleep(time.Millisecond)
	outcomes, err = pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, store.EnrichmentTaskStatusFailed, outcomes[0].Status)
	assert.Equal(t, 0, pipeline.QueueDepth())

	failed, err := pipeline.FailedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "retries exhausted")
}

func TestPipeline_BackoffDefersRetry(t *testing.T) {
	ctx := context.Background()
	pipeline, driver, _ := newTestPipeline(t, &fakeProvider{}, Config{MaxRetries: 3, BackoffBase: time.Hour})

	seedRecipe(t, driver, "r1", "poison")
	_, err := pipeline.Enqueue(ctx, "r1")
	require.NoError(t, err)

	outcomes, err := pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	// The task is backed off for an hour; an immediate drain claims
	// nothing.
	outcomes, err = pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Equal(t, 1, pipeline.QueueDepth())
}

func TestPipeline_DeletedRecipeCompletes(t *testing.T) {
	ctx := context.Background()
	pipeline, _, embeddings := newTestPipeline(t, &fakeProvider{}, Config{})

	// Enqueued, then the recipe vanished before the batch ran.
	_, err := pipeline.Enqueue(ctx, "ghost")
	require.NoError(t, err)

	outcomes, err := pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, store.EnrichmentTaskStatusDone, outcomes[0].Status)
	assert.Equal(t, 0, pipeline.QueueDepth())
	assert.Equal(t, 0, embeddings.Len())
}

func TestPipeline_ClaimOrderIsFIFO(t *testing.T) {
	ctx := context.Background()
	pipeline, driver, _ := newTestPipeline(t, &fakeProvider{}, Config{})
	for i := 1; i <= 3; i++ {
		seedRecipe(t, driver, fmt.Sprintf("r%d", i), "ingredients")
		_, err := pipeline.Enqueue(ctx, fmt.Sprintf("r%d", i))
		require.NoError(t, err)
	}

	batch := pipeline.claim(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "r1", batch[0].RecipeID)
	assert.Equal(t, "r2", batch[1].RecipeID)
}

func TestPipeline_TaskTrailLookupByID(t *testing.T) {
	ctx := context.Background()
	pipeline, driver, _ := newTestPipeline(t, &fakeProvider{}, Config{})
	seedRecipe(t, driver, "r1", "ingredients")

	taskID, err := pipeline.Enqueue(ctx, "r1")
	require.NoError(t, err)

	outcomes, err := pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	tasks, err := driver.ListEnrichmentTasks(ctx, &store.FindEnrichmentTask{ID: &taskID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "r1", tasks[0].RecipeID)
	assert.Equal(t, store.EnrichmentTaskStatusDone, tasks[0].Status)
}

func TestEmbeddingText(t *testing.T) {
	assert.Equal(t, "Carbonara\n\npasta and eggs", embeddingText(&store.Recipe{Title: "Carbonara", Content: "pasta and eggs"}))
	assert.Equal(t, "pasta and eggs", embeddingText(&store.Recipe{Content: "pasta and eggs"}))
}

func strptr(s string) *string { return &s }
