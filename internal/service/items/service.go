// Package items provides the shared business logic for the loggable workspace
// items: decisions, progress entries, system patterns, custom data and the
// links between them.
//
// Every relational write is mirrored into the workspace's vector index so the
// item is reachable by semantic search. The mirror is best effort: a failed
// embedding or index write is logged and never fails the relational write.
package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/search"
	"github.com/ashita-ai/novaport/internal/telemetry"
	"github.com/ashita-ai/novaport/internal/workspace"
)

// ErrInvalidInput is returned when a caller-supplied item fails validation.
var ErrInvalidInput = errors.New("items: invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Service encapsulates item business logic shared by every interface.
type Service struct {
	registry *workspace.Registry
	embedder search.Embedder
	logger   *slog.Logger

	embeddingDuration metric.Float64Histogram
	searchDuration    metric.Float64Histogram
}

// New creates an item Service. embedder may be nil, in which case items are
// stored without vectors and semantic search is unavailable.
func New(registry *workspace.Registry, embedder search.Embedder, logger *slog.Logger) *Service {
	meter := telemetry.Meter("novaport/items")
	embDur, _ := meter.Float64Histogram("novaport.embedding.duration",
		metric.WithDescription("Time to generate embeddings (ms)"),
		metric.WithUnit("ms"),
	)
	searchDur, _ := meter.Float64Histogram("novaport.search.duration",
		metric.WithDescription("Time to execute semantic searches (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		registry:          registry,
		embedder:          embedder,
		logger:            logger,
		embeddingDuration: embDur,
		searchDuration:    searchDur,
	}
}

// index embeds text and upserts it under the item's vector ID.
func (s *Service) index(ctx context.Context, ws *workspace.Workspace, t model.ItemType, id int64, text string, meta map[string]any) {
	if s.embedder == nil {
		return
	}
	vid := model.VectorID(t, id)

	start := time.Now()
	vec, err := s.embedder.Embed(ctx, text)
	s.embeddingDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.logger.Warn("items: embedding failed, item stored without vector",
			"workspace", ws.Path(), "vector_id", vid, "error", err)
		return
	}

	idx, err := ws.Index(ctx)
	if err != nil {
		s.logger.Warn("items: vector index unavailable, item stored without vector",
			"workspace", ws.Path(), "vector_id", vid, "error", err)
		return
	}
	meta["item_type"] = string(t)
	if err := idx.Upsert(ctx, []search.Item{{ID: vid, Vector: vec.Slice(), Metadata: meta}}); err != nil {
		s.logger.Warn("items: vector upsert failed",
			"workspace", ws.Path(), "vector_id", vid, "error", err)
	}
}

// unindex removes the vectors of the given items.
func (s *Service) unindex(ctx context.Context, ws *workspace.Workspace, t model.ItemType, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	vids := make([]string, len(ids))
	for i, id := range ids {
		vids[i] = model.VectorID(t, id)
	}
	idx, err := ws.Index(ctx)
	if err != nil {
		s.logger.Warn("items: vector index unavailable, vectors not removed",
			"workspace", ws.Path(), "vector_ids", vids, "error", err)
		return
	}
	if err := idx.Delete(ctx, vids); err != nil {
		s.logger.Warn("items: vector delete failed",
			"workspace", ws.Path(), "vector_ids", vids, "error", err)
	}
}

func tagsMeta(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	return tags
}
