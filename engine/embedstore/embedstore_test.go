package embedstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorhq/tastecore/engine/errs"
	"github.com/savorhq/tastecore/engine/vecindex"
	"github.com/savorhq/tastecore/store"
	"github.com/savorhq/tastecore/store/teststore"
)

const testDims = 4

func newTestStore(t *testing.T) (*Store, *teststore.Driver) {
	t.Helper()
	driver := teststore.New()
	return New(driver, testDims, vecindex.Config{}, nil), driver
}

func embedding(recipeID, ownerID string, createdTs int64, vector ...float32) *store.RecipeEmbedding {
	return &store.RecipeEmbedding{
		RecipeID:  recipeID,
		OwnerID:   ownerID,
		Embedding: vector,
		ModelID:   "fake-embedder",
		CreatedTs: createdTs,
	}
}

func TestStore_UpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, embedding("r1", "u1", 100, 1, 0, 0, 0)))
	require.NoError(t, s.Upsert(ctx, embedding("r2", "u1", 100, 0, 1, 0, 0)))

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 2, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "r1", matches[0].RecipeID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-5)
	assert.Equal(t, "r2", matches[1].RecipeID)
}

func TestStore_UpsertRejectsWrongDimensions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	err := s.Upsert(ctx, embedding("r1", "u1", 100, 1, 0))
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, 0, s.Len())
}

func TestStore_QueryValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Query(ctx, []float32{1, 0, 0, 0}, 0, QueryOptions{})
	assert.True(t, errs.IsValidation(err))

	_, err = s.Query(ctx, []float32{1, 0}, 5, QueryOptions{})
	assert.True(t, errs.IsValidation(err))
}

func TestStore_UpsertReplacesVector(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, embedding("r1", "u1", 100, 1, 0, 0, 0)))
	require.NoError(t, s.Upsert(ctx, embedding("r1", "u1", 200, 0, 1, 0, 0)))
	assert.Equal(t, 1, s.Len())

	matches, err := s.Query(ctx, []float32{0, 1, 0, 0}, 1, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "r1", matches[0].RecipeID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-5)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, embedding("r1", "u1", 100, 1, 0, 0, 0)))
	require.NoError(t, s.Delete(ctx, "r1"))
	require.NoError(t, s.Delete(ctx, "r1"))
	require.NoError(t, s.Delete(ctx, "never-existed"))
	assert.Equal(t, 0, s.Len())

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 5, QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_DeleteByOwner(t *testing.T) {
	ctx := context.Background()
	s, driver := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, embedding("r1", "u1", 100, 1, 0, 0, 0)))
	require.NoError(t, s.Upsert(ctx, embedding("r2", "u1", 100, 0, 1, 0, 0)))
	require.NoError(t, s.Upsert(ctx, embedding("r3", "u2", 100, 0, 0, 1, 0)))

	require.NoError(t, s.DeleteByOwner(ctx, "u1"))
	assert.Equal(t, 1, s.Len())

	rows, err := driver.ListRecipeEmbeddings(ctx, &store.FindRecipeEmbedding{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "r3", rows[0].RecipeID)

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 5, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "r3", matches[0].RecipeID)
}

func TestStore_LoadRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	driver := teststore.New()

	_, err := driver.UpsertRecipeEmbedding(ctx, embedding("r1", "u1", 100, 1, 0, 0, 0))
	require.NoError(t, err)
	_, err = driver.UpsertRecipeEmbedding(ctx, embedding("r2", "u2", 200, 0, 1, 0, 0))
	require.NoError(t, err)
	// A stale row with the wrong dimensionality is skipped, not fatal.
	_, err = driver.UpsertRecipeEmbedding(ctx, embedding("stale", "u1", 50, 1, 0))
	require.NoError(t, err)

	s := New(driver, testDims, vecindex.Config{}, nil)
	require.NoError(t, s.Load(ctx))
	assert.Equal(t, 2, s.Len())

	matches, err := s.Query(ctx, []float32{0, 1, 0, 0}, 1, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "r2", matches[0].RecipeID)
}

func TestStore_QueryExcludesOwnerAndIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, embedding("mine", "u1", 100, 1, 0, 0, 0)))
	require.NoError(t, s.Upsert(ctx, embedding("seen", "u2", 100, 1, 0, 0, 0)))
	require.NoError(t, s.Upsert(ctx, embedding("fresh", "u2", 100, 1, 0, 0, 0)))

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 5, QueryOptions{
		ExcludeOwnerID: "u1",
		ExcludeIDs:     []string{"seen"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "fresh", matches[0].RecipeID)
}

func TestStore_QuerySubset(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, embedding("r1", "u1", 100, 1, 0, 0, 0)))
	require.NoError(t, s.Upsert(ctx, embedding("r2", "u1", 100, 0.9, 0.1, 0, 0)))
	require.NoError(t, s.Upsert(ctx, embedding("r3", "u1", 100, 0, 1, 0, 0)))

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 5, QueryOptions{
		SubsetIDs: []string{"r2", "r3"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "r2", matches[0].RecipeID)
	assert.Equal(t, "r3", matches[1].RecipeID)
}

func TestStore_EqualDistanceNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, embedding("old", "u1", 100, 1, 0, 0, 0)))
	require.NoError(t, s.Upsert(ctx, embedding("new", "u1", 200, 1, 0, 0, 0)))

	matches, err := s.Query(ctx, []float32{1, 0, 0, 0}, 2, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "new", matches[0].RecipeID)
	assert.Equal(t, "old", matches[1].RecipeID)
}

func TestStore_CompactAfterChurn(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Upsert(ctx, embedding(fmt.Sprintf("r%d", i), "u1", 100, float32(i), 1, 0, 0)))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Delete(ctx, fmt.Sprintf("r%d", i)))
	}
	assert.Greater(t, s.TombstoneRatio(), 0.0)

	s.Compact()
	assert.Equal(t, 0.0, s.TombstoneRatio())
	assert.Equal(t, 5, s.Len())

	matches, err := s.Query(ctx, []float32{9, 1, 0, 0}, 10, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 5)
	assert.Equal(t, "r9", matches[0].RecipeID)
}

func TestStore_QueriesStayLiveDuringCompaction(t *testing.T) {
	ctx := context.Background()
	driver := teststore.New()
	s := New(driver, 16, vecindex.Config{}, nil)

	vec := func(i int) []float32 {
		v := make([]float32, 16)
		v[i%16] = 1
		v[(i+3)%16] = float32(i%7) * 0.1
		return v
	}
	for i := 0; i < 4000; i++ {
		require.NoError(t, s.Upsert(ctx, embedding(fmt.Sprintf("r%d", i), "u1", 100, vec(i)...)))
	}
	for i := 0; i < 1200; i++ {
		require.NoError(t, s.Delete(ctx, fmt.Sprintf("r%d", i)))
	}

	compacted := make(chan struct{})
	go func() {
		s.Compact()
		close(compacted)
	}()

	// The rebuild takes far longer than a single query; a query issued
	// while it runs must come back before it finishes.
	matches, err := s.Query(ctx, vec(2000), 5, QueryOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
	select {
	case <-compacted:
		t.Fatal("query did not complete until compaction finished")
	default:
	}

	<-compacted
	assert.Equal(t, 0.0, s.TombstoneRatio())
	assert.Equal(t, 2800, s.Len())
}

func TestStore_UpsertDuringCompactionIsRetained(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Upsert(ctx, embedding(fmt.Sprintf("r%d", i), "u1", 100, float32(i), 1, 0, 0)))
	}
	for i := 0; i < 25; i++ {
		require.NoError(t, s.Delete(ctx, fmt.Sprintf("r%d", i)))
	}

	done := make(chan struct{})
	go func() {
		s.Compact()
		close(done)
	}()
	// Writers are serialized against the rebuild, so this vector cannot
	// fall between the compaction snapshot and its swap.
	require.NoError(t, s.Upsert(ctx, embedding("late", "u1", 200, 0, 0, 0, 1)))
	<-done

	matches, err := s.Query(ctx, []float32{0, 0, 0, 1}, 1, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "late", matches[0].RecipeID)
}

func TestStore_ContextCancelled(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Query(ctx, []float32{1, 0, 0, 0}, 1, QueryOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
