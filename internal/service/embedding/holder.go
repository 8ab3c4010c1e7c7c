package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned when the embedding model failed to initialize.
// The failure is cached: every later call fails fast with this error until
// Reset is called.
var ErrUnavailable = errors.New("embedding: model unavailable")

// Factory builds the provider on first use.
type Factory func(ctx context.Context) (Provider, error)

// initTimeout bounds model loading. Loading is detached from the caller so
// an abandoned request cannot poison the cached result.
const initTimeout = 60 * time.Second

// sampleText is embedded once during initialization to verify the model.
const sampleText = "novaport embedding check"

// Holder is the process-wide embedding model. It initializes its provider
// at most once, on first use, and is safe for concurrent use.
type Holder struct {
	factory Factory
	dims    int
	logger  *slog.Logger

	ready atomic.Pointer[providerBox]
	group singleflight.Group

	mu      sync.Mutex
	initErr error
}

type providerBox struct{ p Provider }

// NewHolder returns a Holder that builds its provider with factory and
// requires vectors of dims dimensions.
func NewHolder(factory Factory, dims int, logger *slog.Logger) *Holder {
	return &Holder{factory: factory, dims: dims, logger: logger}
}

// Get returns the initialized provider, loading it on first call.
// Concurrent first callers share one load. A caller whose ctx ends stops
// waiting; the load still completes and is cached for the others.
func (h *Holder) Get(ctx context.Context) (Provider, error) {
	if b := h.ready.Load(); b != nil {
		return b.p, nil
	}
	if err := h.cachedErr(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ch := h.group.DoChan("init", func() (any, error) {
		if b := h.ready.Load(); b != nil {
			return b.p, nil
		}
		if err := h.cachedErr(); err != nil {
			return nil, err
		}

		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
		defer cancel()

		start := time.Now()
		p, err := h.load(initCtx)
		if err != nil {
			h.mu.Lock()
			h.initErr = err
			h.mu.Unlock()
			h.logger.Error("embedding: model initialization failed", "error", err)
			return nil, err
		}
		h.ready.Store(&providerBox{p: p})
		h.logger.Info("embedding: model ready", "dimensions", h.dims, "duration_ms", time.Since(start).Milliseconds())
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, res.Err)
		}
		return res.Val.(Provider), nil
	}
}

func (h *Holder) cachedErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initErr
}

func (h *Holder) load(ctx context.Context) (Provider, error) {
	p, err := h.factory(ctx)
	if err != nil {
		return nil, err
	}
	if p.Dimensions() != h.dims {
		return nil, fmt.Errorf("provider reports %d dimensions, want %d", p.Dimensions(), h.dims)
	}
	v, err := p.Embed(ctx, sampleText)
	if err != nil {
		return nil, fmt.Errorf("sample embed: %w", err)
	}
	if got := len(v.Slice()); got != h.dims {
		return nil, fmt.Errorf("sample embed returned %d dimensions, want %d", got, h.dims)
	}
	return p, nil
}

// Reset forgets a cached initialization failure so the next call retries.
// A successfully loaded provider is kept.
func (h *Holder) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initErr = nil
}

// Dimensions returns the configured vector size.
func (h *Holder) Dimensions() int {
	return h.dims
}

// Embed generates one embedding with the shared provider.
func (h *Holder) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	p, err := h.Get(ctx)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return p.Embed(ctx, text)
}

// EmbedBatch generates embeddings with the shared provider.
func (h *Holder) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	p, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.EmbedBatch(ctx, texts)
}

// Static returns a Factory that always yields p.
func Static(p Provider) Factory {
	return func(context.Context) (Provider, error) { return p, nil }
}
