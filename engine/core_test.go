package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/internal/profile"
	"github.com/savorhq/tastecore/store"
	"github.com/savorhq/tastecore/store/teststore"
)

func newTestCore(t *testing.T) (*Core, *teststore.Driver) {
	t.Helper()
	driver := teststore.New()
	p := &profile.Profile{
		Mode:                "dev",
		Driver:              "sqlite",
		EmbeddingDimensions: 4,
	}
	core, err := New(p, driver)
	require.NoError(t, err)
	require.NoError(t, core.Start(context.Background()))
	t.Cleanup(core.Stop)
	return core, driver
}

func seedRecipe(t *testing.T, driver *teststore.Driver, id, owner, hash string, categories []string) {
	t.Helper()
	now := time.Now().Unix()
	_, err := driver.UpsertRecipe(context.Background(), &store.Recipe{
		ID:          id,
		OwnerID:     owner,
		Title:       "recipe " + id,
		Content:     "content " + id,
		ContentHash: hash,
		Categories:  categories,
		CreatedTs:   now,
		UpdatedTs:   now,
	})
	require.NoError(t, err)
}

func TestCore_DegradedModeWithoutProvider(t *testing.T) {
	core, driver := newTestCore(t)
	ctx := context.Background()

	seedRecipe(t, driver, "r1", "u2", "h1", nil)

	recs, err := core.Recommend(ctx, "u1", 5, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"recently added"}, recs[0].Reasons)
}

func TestCore_NotifyRecipeChanged(t *testing.T) {
	core, driver := newTestCore(t)
	ctx := context.Background()

	seedRecipe(t, driver, "r1", "u1", "h1", []string{"italian"})

	require.NoError(t, core.NotifyRecipeChanged(ctx, "r1", "h1"))

	// The owner's profile picked up the change.
	p, err := core.Profile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Greater(t, p.CategoryWeights["italian"], 0.0)

	// Without a provider there is nothing to enqueue.
	stats, err := core.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.QueueDepth)
}

func TestCore_RecipeEditDoesNotInflateProfile(t *testing.T) {
	core, driver := newTestCore(t)
	ctx := context.Background()

	seedRecipe(t, driver, "r1", "u1", "h1", []string{"italian"})
	_, err := driver.UpsertRecipeEmbedding(ctx, &store.RecipeEmbedding{
		RecipeID:   "r1",
		OwnerID:    "u1",
		Embedding:  []float32{1, 0, 0, 0},
		ModelID:    "fake-embedder",
		SourceHash: "h1",
		CreatedTs:  time.Now().Unix(),
	})
	require.NoError(t, err)

	p, err := core.RecomputeProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.SampleCount)

	// An edit to an already-indexed recipe is not a new taste sample.
	require.NoError(t, core.NotifyRecipeChanged(ctx, "r1", "h1"))

	p, err = core.Profile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.SampleCount)
	assert.Greater(t, core.taste.DriftCounts()["u1"], 0)
}

func TestCore_NotifyRecipeChangedValidation(t *testing.T) {
	core, driver := newTestCore(t)
	ctx := context.Background()

	err := core.NotifyRecipeChanged(ctx, "", "")
	assert.True(t, errs.IsValidation(err))

	err = core.NotifyRecipeChanged(ctx, "ghost", "")
	assert.True(t, errs.IsValidation(err))

	seedRecipe(t, driver, "r1", "u1", "h1", nil)
	err = core.NotifyRecipeChanged(ctx, "r1", "stale-hash")
	assert.True(t, errs.IsValidation(err))
}

func TestCore_NotifyRecipeDeleted(t *testing.T) {
	driver := teststore.New()
	ctx := context.Background()

	_, err := driver.UpsertRecipeEmbedding(ctx, &store.RecipeEmbedding{
		RecipeID:  "r1",
		OwnerID:   "u1",
		Embedding: []float32{1, 0, 0, 0},
		ModelID:   "fake-embedder",
		CreatedTs: time.Now().Unix(),
	})
	require.NoError(t, err)

	p := &profile.Profile{Mode: "dev", Driver: "sqlite", EmbeddingDimensions: 4}
	core, err := New(p, driver)
	require.NoError(t, err)
	require.NoError(t, core.Start(ctx))
	t.Cleanup(core.Stop)

	stats, err := core.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.IndexSize)

	require.NoError(t, core.NotifyRecipeDeleted(ctx, "r1", "u1"))
	stats, err = core.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.IndexSize)
}

func TestCore_PurgeUser(t *testing.T) {
	core, driver := newTestCore(t)
	ctx := context.Background()

	seedRecipe(t, driver, "r1", "u1", "h1", []string{"italian"})
	_, err := core.RecomputeProfile(ctx, "u1")
	require.NoError(t, err)

	_, err = driver.UpsertRecipeEmbedding(ctx, &store.RecipeEmbedding{
		RecipeID:  "r1",
		OwnerID:   "u1",
		Embedding: []float32{1, 0, 0, 0},
		ModelID:   "fake-embedder",
		CreatedTs: time.Now().Unix(),
	})
	require.NoError(t, err)

	require.NoError(t, core.PurgeUser(ctx, "u1"))

	p, err := core.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)

	rows, err := driver.ListRecipeEmbeddings(ctx, &store.FindRecipeEmbedding{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.True(t, errs.IsValidation(core.PurgeUser(ctx, "")))
}

func TestCore_StatsCountsFailedTasks(t *testing.T) {
	core, driver := newTestCore(t)
	ctx := context.Background()

	_, err := driver.UpsertEnrichmentTask(ctx, &store.EnrichmentTask{
		ID:       "t1",
		RecipeID: "r1",
		Status:   store.EnrichmentTaskStatusFailed,
		Error:    "retries exhausted",
	})
	require.NoError(t, err)

	stats, err := core.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailedTasks)
}

func TestKeyNamespace(t *testing.T) {
	assert.Equal(t, "user", keyNamespace("user:1:profile"))
	assert.Equal(t, "search", keyNamespace("search:italian"))
	assert.Equal(t, "plain", keyNamespace("plain"))
}
