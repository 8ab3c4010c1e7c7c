package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/pgvector/pgvector-go"
)

// HashProvider embeds text by feature hashing of lower-cased word tokens and
// token bigrams into a fixed number of buckets, then L2-normalizing. It needs
// no model or network and is deterministic, so texts sharing vocabulary land
// near each other. Useful offline and in tests.
type HashProvider struct {
	dims int
}

// NewHashProvider creates a feature-hashing provider with dims buckets.
func NewHashProvider(dims int) *HashProvider {
	return &HashProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *HashProvider) Dimensions() int {
	return p.dims
}

// Embed hashes text into a unit vector. Text without tokens yields the zero
// vector.
func (p *HashProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	if p.dims <= 0 {
		return pgvector.Vector{}, fmt.Errorf("embedding: hash provider needs positive dimensions, got %d", p.dims)
	}
	vec := make([]float32, p.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, tok := range tokens {
		p.add(vec, tok, 1)
		if i > 0 {
			p.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return pgvector.NewVector(vec), nil
}

// EmbedBatch embeds each text independently.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

func (p *HashProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec))) //nolint:gosec // len(vec) is positive
	// The top bit picks the sign so collisions cancel instead of pile up.
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
