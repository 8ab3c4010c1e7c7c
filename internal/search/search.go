// Package search provides the per-workspace semantic vector index: a local
// SQLite-backed collection by default or a remote Qdrant collection, a cache
// that keeps one open index per workspace, and filtered similarity search.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// ErrVectorStore marks failures to open, query or write a vector index.
var ErrVectorStore = errors.New("search: vector store failure")

// StoreError describes a failed vector index operation. It matches both
// ErrVectorStore and the underlying cause with errors.Is.
type StoreError struct {
	Op   string // "open", "upsert", "delete", "query", "count", "close"
	Path string // index path or collection name
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("search: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrVectorStore, e.Err}
}

// Item is one document in a vector index. ID is the caller's stable item key,
// e.g. "decision_12".
type Item struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Hit is a query result. Score is cosine similarity in [-1, 1].
type Hit struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Index is a workspace's vector collection.
// Implementations must be safe for concurrent use.
type Index interface {
	// Upsert inserts or replaces items by ID.
	Upsert(ctx context.Context, items []Item) error
	// Delete removes items by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
	// Query returns at most topK items passing filter, best first.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error)
	// Count returns the number of stored items.
	Count(ctx context.Context) (int, error)
	// Close releases the index. Later calls fail.
	Close() error
}

const (
	// DefaultTopK is used when a search does not ask for a result count.
	DefaultTopK = 5
	// MaxTopK caps the result count of a single search.
	MaxTopK = 25
)

// ClampTopK maps a requested result count into [1, MaxTopK]; zero or
// negative means DefaultTopK.
func ClampTopK(k int) int {
	switch {
	case k <= 0:
		return DefaultTopK
	case k > MaxTopK:
		return MaxTopK
	default:
		return k
	}
}

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Search embeds query once and returns the closest items passing filter.
// The result holds at most ClampTopK(topK) hits, all of which satisfy filter
// even if the index applied it only approximately.
func Search(ctx context.Context, idx Index, emb Embedder, query string, topK int, filter Filter) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search: query text is empty")
	}
	topK = ClampTopK(topK)

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	hits, err := idx.Query(ctx, vec.Slice(), topK, filter)
	if err != nil {
		return nil, err
	}

	out := make([]Hit, 0, min(len(hits), topK))
	for _, h := range hits {
		if !filter.Match(h.Metadata) {
			continue
		}
		out = append(out, h)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}
