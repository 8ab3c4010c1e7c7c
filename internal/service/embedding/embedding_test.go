package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/novaport/internal/testutil"
)

func TestOpenAIProviderOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Dimensions)

		// Reply in reverse order.
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1,0]},
			{"index":0,"embedding":[1,0,0]}
		]}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider("sk-test", "text-embedding-3-small", 3)
	require.NoError(t, err)
	p.url = server.URL

	vecs, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0].Slice())
	assert.Equal(t, []float32{0, 1, 0}, vecs[1].Slice())
}

func TestOpenAIProviderErrors(t *testing.T) {
	_, err := NewOpenAIProvider("", "m", 3)
	assert.Error(t, err)
	_, err = NewOpenAIProvider("k", "m", 0)
	assert.Error(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad key"}}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider("bad", "m", 3)
	require.NoError(t, err)
	p.url = server.URL
	_, err = p.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashProvider(t *testing.T) {
	p := NewHashProvider(256)
	ctx := context.Background()

	a, err := p.Embed(ctx, "Use SQLite for the workspace store")
	require.NoError(t, err)
	again, err := p.Embed(ctx, "use sqlite for the workspace store!")
	require.NoError(t, err)
	assert.Equal(t, a.Slice(), again.Slice(), "case and punctuation do not matter")

	related, err := p.Embed(ctx, "sqlite workspace store decision")
	require.NoError(t, err)
	unrelated, err := p.Embed(ctx, "quarterly marketing budget")
	require.NoError(t, err)
	assert.Greater(t, cosine(a.Slice(), related.Slice()), cosine(a.Slice(), unrelated.Slice()))

	var norm float64
	for _, x := range a.Slice() {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	empty, err := p.Embed(ctx, "  ...  ")
	require.NoError(t, err)
	assert.Len(t, empty.Slice(), 256)

	_, err = NewHashProvider(0).Embed(ctx, "x")
	assert.Error(t, err)
}

func TestHolderInitializesOnce(t *testing.T) {
	var builds atomic.Int32
	h := NewHolder(func(context.Context) (Provider, error) {
		builds.Add(1)
		return NewHashProvider(16), nil
	}, 16, testutil.TestLogger())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Embed(context.Background(), "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), builds.Load())
	assert.Equal(t, 16, h.Dimensions())

	vecs, err := h.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestHolderCachesFailureUntilReset(t *testing.T) {
	var builds atomic.Int32
	fail := true
	h := NewHolder(func(context.Context) (Provider, error) {
		builds.Add(1)
		if fail {
			return nil, errors.New("model download failed")
		}
		return NewHashProvider(16), nil
	}, 16, testutil.TestLogger())

	_, err := h.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = h.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), builds.Load(), "failure is cached")

	fail = false
	h.Reset()
	_, err = h.Embed(context.Background(), "x")
	assert.NoError(t, err)
	assert.Equal(t, int32(2), builds.Load())
}

func TestHolderWaiterHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	var builds atomic.Int32
	h := NewHolder(func(context.Context) (Provider, error) {
		builds.Add(1)
		<-gate
		return NewHashProvider(16), nil
	}, 16, testutil.TestLogger())

	// First caller starts the load and keeps waiting for it.
	done := make(chan error, 1)
	go func() {
		_, err := h.Get(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return builds.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrUnavailable, "giving up does not poison the model")

	close(gate)
	require.NoError(t, <-done)
	_, err = h.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), builds.Load())
}

func TestHolderRejectsDimensionMismatch(t *testing.T) {
	h := NewHolder(Static(NewHashProvider(8)), 16, testutil.TestLogger())
	_, err := h.Get(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	short := NewHolder(Static(shortProvider{}), 4, testutil.TestLogger())
	_, err = short.Get(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

// shortProvider claims 4 dimensions but returns 2.
type shortProvider struct{}

func (shortProvider) Dimensions() int { return 4 }
func (shortProvider) Embed(context.Context, string) (pgvector.Vector, error) {
	return pgvector.NewVector([]float32{1, 2}), nil
}
func (shortProvider) EmbedBatch(context.Context, []string) ([]pgvector.Vector, error) {
	return nil, nil
}
