package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/novaport/internal/testutil"
)

// newTestQdrantBackend creates a backend pointed at a local address with no
// server. gRPC connects lazily, so construction succeeds and RPCs fail. This
// is enough for early-return paths, error wrapping and health caching.
func newTestQdrantBackend(t *testing.T) *QdrantBackend {
	t.Helper()
	b, err := NewQdrantBackend(QdrantConfig{
		URL:              "http://localhost:16334", // Non-standard port, no server running.
		CollectionPrefix: "test",
		Dims:             64,
	}, testutil.TestLogger())
	require.NoError(t, err, "NewQdrantBackend should succeed (gRPC is lazy-connect)")
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// detachedIndex builds an index without EnsureCollection.
func detachedIndex(b *QdrantBackend, path string) *QdrantIndex {
	return &QdrantIndex{backend: b, collection: b.CollectionName(path)}
}

func TestNewQdrantBackend_Valid(t *testing.T) {
	b, err := NewQdrantBackend(QdrantConfig{URL: "http://localhost:6333", Dims: 384}, testutil.TestLogger())
	require.NoError(t, err)
	assert.Equal(t, "novaport", b.prefix, "empty prefix defaults")
	assert.Equal(t, uint64(384), b.dims)
	assert.NotNil(t, b.client)
	_ = b.Close()
}

func TestNewQdrantBackend_InvalidURL(t *testing.T) {
	_, err := NewQdrantBackend(QdrantConfig{URL: "", Dims: 384}, testutil.TestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid qdrant URL")
}

func TestQdrantCollectionName(t *testing.T) {
	b := newTestQdrantBackend(t)

	a := b.CollectionName("/work/a/.novaport_data/vectordb")
	again := b.CollectionName("/work/a/.novaport_data/vectordb")
	other := b.CollectionName("/work/b/.novaport_data/vectordb")

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, other)
	assert.Regexp(t, `^test_[0-9a-f]{16}$`, a)
}

func TestQdrantPointIDStable(t *testing.T) {
	b := newTestQdrantBackend(t)
	idx := detachedIndex(b, "/work/a")
	other := detachedIndex(b, "/work/b")

	assert.Equal(t, idx.pointID("decision_1").GetUuid(), idx.pointID("decision_1").GetUuid())
	assert.NotEqual(t, idx.pointID("decision_1").GetUuid(), idx.pointID("decision_2").GetUuid())
	assert.NotEqual(t, idx.pointID("decision_1").GetUuid(), other.pointID("decision_1").GetUuid())
}

func TestQdrantHealthErr_StoreAndLoad(t *testing.T) {
	b := newTestQdrantBackend(t)

	assert.Nil(t, b.loadHealthErr())

	b.storeHealthErr(fmt.Errorf("connection refused"))
	loaded := b.loadHealthErr()
	require.Error(t, loaded)
	assert.Equal(t, "connection refused", loaded.Error())

	b.storeHealthErr(nil)
	assert.Nil(t, b.loadHealthErr())
}

func TestQdrantHealthErr_CacheTiming(t *testing.T) {
	b := newTestQdrantBackend(t)

	// A fresh cached result is returned without a gRPC call.
	b.storeHealthErr(nil)
	b.healthAt.Store(time.Now().UnixNano())
	assert.Nil(t, b.Healthy(context.Background()), "cached healthy result should be returned from fast path")

	b.storeHealthErr(fmt.Errorf("search: qdrant unhealthy: previous failure"))
	b.healthAt.Store(time.Now().UnixNano())
	err := b.Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "previous failure")
}

func TestQdrantHealthy_ExpiredCache(t *testing.T) {
	b := newTestQdrantBackend(t)

	b.storeHealthErr(nil)
	b.healthAt.Store(time.Now().Add(-10 * time.Second).UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := b.Healthy(ctx)
	require.Error(t, err, "expired cache should trigger real health check which fails")
	assert.Contains(t, err.Error(), "qdrant unhealthy")
}

func TestQdrantEmptyBatchesSkipServer(t *testing.T) {
	idx := detachedIndex(newTestQdrantBackend(t), "/work/a")

	assert.NoError(t, idx.Upsert(context.Background(), nil))
	assert.NoError(t, idx.Delete(context.Background(), []string{}))
}

func TestQdrantOperations_FailWithoutServer(t *testing.T) {
	b := newTestQdrantBackend(t)
	idx := detachedIndex(b, "/work/a")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := idx.Upsert(ctx, []Item{
		{ID: "decision_1", Vector: make([]float32, 64), Metadata: map[string]any{"item_type": "decision", "tags": []string{"db"}}},
		{ID: "progress_1", Vector: make([]float32, 64)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVectorStore)
	assert.Contains(t, err.Error(), "qdrant upsert 2 points")

	err = idx.Delete(ctx, []string{"decision_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant delete")

	hits, err := idx.Query(ctx, make([]float32, 64), 5, Where(Eq("item_type", "decision")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant query")
	assert.Nil(t, hits)

	_, err = idx.Count(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant count")

	_, err = b.Open(ctx, "/work/a")
	require.Error(t, err)
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "open", se.Op)
	assert.Contains(t, err.Error(), "check collection exists")
}

func TestQdrantIndexClose(t *testing.T) {
	idx := detachedIndex(newTestQdrantBackend(t), "/work/a")

	require.NoError(t, idx.Close())
	err := idx.Upsert(context.Background(), []Item{{ID: "x", Vector: []float32{1}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVectorStore)
}

func TestQdrantHealthy_Concurrent(t *testing.T) {
	b := newTestQdrantBackend(t)

	// An old timestamp forces real checks; singleflight collapses them.
	b.healthAt.Store(time.Now().Add(-10 * time.Second).UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 10)
	for range 10 {
		go func() {
			errs <- b.Healthy(ctx)
		}()
	}

	for range 10 {
		err := <-errs
		require.Error(t, err)
		assert.Contains(t, err.Error(), "qdrant unhealthy")
	}
}

func TestParseQdrantURL_InvalidPort(t *testing.T) {
	// url.Parse may reject the port or the whole URL; either error is fine.
	_, _, _, err := parseQdrantURL("http://localhost:notaport")
	require.Error(t, err)
	assert.True(t,
		assert.ObjectsAreEqual("search: invalid port in qdrant URL: \"notaport\"", err.Error()) ||
			assert.ObjectsAreEqual("search: invalid qdrant URL: \"http://localhost:notaport\"", err.Error()),
		"expected either 'invalid port' or 'invalid qdrant URL' error, got: %s", err.Error(),
	)
}
