package novaport

import "context"

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the configured provider.
// Uses []float32 (not pgvector.Vector) to avoid forcing the pgvector
// dependency on external consumers. New wraps it in an adapter.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
