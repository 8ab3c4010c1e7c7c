package contexts_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/novaport/internal/docpatch"
	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/search"
	"github.com/ashita-ai/novaport/internal/service/contexts"
	"github.com/ashita-ai/novaport/internal/storage"
	"github.com/ashita-ai/novaport/internal/testutil"
	"github.com/ashita-ai/novaport/internal/workspace"
)

func newService(t *testing.T) *contexts.Service {
	t.Helper()
	reg := workspace.New(workspace.Config{
		EmbeddingDims: 8,
		Release:       search.ReleaseOptions{Attempts: 1, Delay: time.Millisecond, GCDelay: time.Millisecond},
	}, testutil.TestLogger())
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return contexts.New(reg, testutil.TestLogger())
}

func TestEndToEndPatch(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	ws := t.TempDir()

	_, err := svc.Update(ctx, ws, model.ActiveContext, docpatch.Full(map[string]any{"x": 1}), "test")
	require.NoError(t, err)

	res, err := svc.Update(ctx, ws, model.ActiveContext, docpatch.PatchOf(map[string]any{"y": 2}), "test")
	require.NoError(t, err)
	require.True(t, res.Changed())

	doc, err := svc.Get(ctx, ws, model.ActiveContext)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, doc.Content)

	history, err := svc.History(ctx, ws, model.ActiveContext, model.HistoryFilter{})
	require.NoError(t, err)
	var patchRecords []model.HistoryRecord
	for _, h := range history {
		if _, ok := h.Diff["y"]; ok {
			patchRecords = append(patchRecords, h)
		}
	}
	require.Len(t, patchRecords, 1)
	raw, err := json.Marshal(patchRecords[0].Diff)
	require.NoError(t, err)
	assert.JSONEq(t, `{"y":{"added":2}}`, string(raw))
	assert.Equal(t, map[string]any{"x": float64(1)}, patchRecords[0].Content, "record keeps the prior document")

	// Product context is untouched.
	product, err := svc.Get(ctx, ws, model.ProductContext)
	require.NoError(t, err)
	assert.Empty(t, product.Content)
}

func TestPatchDeleteAndIdempotence(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	ws := t.TempDir()

	_, err := svc.Update(ctx, ws, model.ProductContext, docpatch.Full(map[string]any{"a": 1, "b": 2}), "seed")
	require.NoError(t, err)

	patch := docpatch.PatchOf(map[string]any{"b": docpatch.DeleteSentinel, "c": 3})
	first, err := svc.Update(ctx, ws, model.ProductContext, patch, "patch")
	require.NoError(t, err)
	assert.True(t, first.Changed())
	assert.Empty(t, first.IgnoredDeletes)

	second, err := svc.Update(ctx, ws, model.ProductContext, patch, "patch")
	require.NoError(t, err)
	assert.False(t, second.Changed(), "reapplying a patch writes nothing")
	assert.Equal(t, []string{"b"}, second.IgnoredDeletes)
	assert.Equal(t, first.Document.Content, second.Document.Content)

	doc, err := svc.Get(ctx, ws, model.ProductContext)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "c": float64(3)}, doc.Content)

	history, err := svc.History(ctx, ws, model.ProductContext, model.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
}

func TestUpdateRejectsAmbiguousInput(t *testing.T) {
	svc := newService(t)
	_, err := svc.Update(context.Background(), t.TempDir(), model.ActiveContext, docpatch.Update{}, "")
	assert.ErrorIs(t, err, docpatch.ErrInvalidUpdate)

	both := docpatch.Update{Content: map[string]any{}, Patch: map[string]any{"a": 1}}
	_, err = svc.Update(context.Background(), t.TempDir(), model.ActiveContext, both, "")
	assert.ErrorIs(t, err, docpatch.ErrInvalidUpdate)
}

func TestConcurrentPatchesAreNotLost(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	ws := t.TempDir()

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Update(ctx, ws, model.ActiveContext, docpatch.PatchOf(map[string]any{k: true}), "race")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := svc.Get(ctx, ws, model.ActiveContext)
	require.NoError(t, err)
	assert.Len(t, doc.Content, len(keys))

	history, err := svc.History(ctx, ws, model.ActiveContext, model.HistoryFilter{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, history, len(keys))
}

func TestDiffVersions(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	ws := t.TempDir()

	for _, u := range []docpatch.Update{
		docpatch.Full(map[string]any{"goal": "ship"}),
		docpatch.PatchOf(map[string]any{"owner": "infra"}),
		docpatch.PatchOf(map[string]any{"goal": "ship v2", "owner": docpatch.DeleteSentinel}),
	} {
		_, err := svc.Update(ctx, ws, model.ProductContext, u, "test")
		require.NoError(t, err)
	}

	// Version n stores the document as it was before change n.
	d, err := svc.DiffVersions(ctx, ws, model.ProductContext, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, docpatch.Diff{"owner": {Kind: docpatch.Added, New: "infra"}}, d)

	d, err = svc.DiffVersions(ctx, ws, model.ProductContext, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, docpatch.Removed, d["goal"].Kind)
	assert.Equal(t, docpatch.Removed, d["owner"].Kind)

	_, err = svc.DiffVersions(ctx, ws, model.ProductContext, 1, 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = svc.DiffVersions(ctx, ws, model.ProductContext, 0, 1)
	assert.ErrorIs(t, err, contexts.ErrInvalidVersion)
}

func TestHistoryVersionFilter(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	ws := t.TempDir()

	for i := range 4 {
		_, err := svc.Update(ctx, ws, model.ActiveContext, docpatch.PatchOf(map[string]any{"n": i}), "test")
		require.NoError(t, err)
	}
	v := 3
	history, err := svc.History(ctx, ws, model.ActiveContext, model.HistoryFilter{Version: &v})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].Version)

	history, err = svc.History(ctx, ws, model.ActiveContext, model.HistoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 4, history[0].Version)
}
