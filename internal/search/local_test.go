package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/novaport/internal/testutil"
)

func openTestLocalIndex(t *testing.T, dir string, dims int) *LocalIndex {
	t.Helper()
	idx, err := OpenLocalIndex(context.Background(), dir, "", dims, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestLocalIndexUpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	idx := openTestLocalIndex(t, filepath.Join(t.TempDir(), "vectordb"), 3)
	assert.FileExists(t, idx.Path())

	require.NoError(t, idx.Upsert(ctx, []Item{
		{ID: "decision_1", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"item_type": "decision", "tags": []string{"db"}}},
		{ID: "decision_2", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"item_type": "decision", "tags": []string{"ui"}}},
		{ID: "progress_1", Vector: []float32{0, 1, 0}, Metadata: map[string]any{"item_type": "progress"}},
	}))
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 2, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "decision_1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "decision_2", hits[1].ID)

	hits, err = idx.Query(ctx, []float32{1, 0, 0}, 5, Where(ContainsAny("tags", "ui")))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "decision_2", hits[0].ID)
	assert.Equal(t, []any{"ui"}, hits[0].Metadata["tags"])

	// Replacing an item updates it in place.
	require.NoError(t, idx.Upsert(ctx, []Item{
		{ID: "progress_1", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"item_type": "progress", "status": "DONE"}},
	}))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, idx.Delete(ctx, []string{"decision_1", "missing"}))
	hits, err = idx.Query(ctx, []float32{1, 0, 0}, 5, Where(Eq("item_type", "progress")))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "DONE", hits[0].Metadata["status"])
}

func TestLocalIndexTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := openTestLocalIndex(t, t.TempDir(), 2)

	require.NoError(t, idx.Upsert(ctx, []Item{
		{ID: "b", Vector: []float32{1, 1}},
		{ID: "a", Vector: []float32{2, 2}},
		{ID: "c", Vector: []float32{3, 3}},
	}))
	hits, err := idx.Query(ctx, []float32{1, 1}, 3, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
}

func TestLocalIndexRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	idx := openTestLocalIndex(t, t.TempDir(), 3)

	err := idx.Upsert(ctx, []Item{{ID: "x", Vector: []float32{1, 2}}})
	assert.ErrorIs(t, err, ErrVectorStore)
	err = idx.Upsert(ctx, []Item{{Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, ErrVectorStore)
	_, err = idx.Query(ctx, []float32{1}, 3, Filter{})
	assert.ErrorIs(t, err, ErrVectorStore)
}

func TestLocalIndexPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := OpenLocalIndex(ctx, dir, "", 2, testutil.TestLogger())
	require.NoError(t, err)
	require.NoError(t, first.Upsert(ctx, []Item{{ID: "custom_data_1", Vector: []float32{0, 1}}}))
	require.NoError(t, first.Close())

	_, err = first.Count(ctx)
	assert.ErrorIs(t, err, ErrVectorStore, "closed index refuses work")

	second := openTestLocalIndex(t, dir, 2)
	n, err := second.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Collections are isolated within one file.
	other, err := OpenLocalIndex(ctx, dir, "other", 2, testutil.TestLogger())
	require.NoError(t, err)
	defer func() { _ = other.Close() }()
	n, err = other.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCosine(t *testing.T) {
	s, ok := cosine([]float32{1, 0}, []float32{0, 1})
	assert.True(t, ok)
	assert.InDelta(t, 0, s, 1e-6)

	_, ok = cosine([]float32{0, 0}, []float32{1, 0})
	assert.False(t, ok)
	_, ok = cosine([]float32{1}, []float32{1, 0})
	assert.False(t, ok)
}
