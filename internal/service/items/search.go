package items

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/search"
	"github.com/ashita-ai/novaport/internal/service/embedding"
)

// SearchQuery is a semantic search over a workspace's items.
type SearchQuery struct {
	Text string
	TopK int

	ItemTypes []string
	TagsAny   []string
	TagsAll   []string
	// Categories restricts results to items whose category metadata is one
	// of the given values. Only custom data carries a category, so any
	// category excludes the other item types.
	Categories []string
}

// Filter builds the metadata filter of q.
func (q SearchQuery) Filter() (search.Filter, error) {
	for _, t := range q.ItemTypes {
		if _, err := model.ParseItemType(t); err != nil {
			return search.Filter{}, invalidf("%v", err)
		}
	}
	f := search.Where(
		search.In("item_type", q.ItemTypes...),
		search.ContainsAll("tags", q.TagsAll...),
		search.ContainsAny("tags", q.TagsAny...),
		search.In("category", q.Categories...),
	)
	return f, nil
}

// Search returns the items closest in meaning to q.Text.
func (s *Service) Search(ctx context.Context, workspaceID string, q SearchQuery) ([]search.Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, invalidf("query text is required")
	}
	filter, err := q.Filter()
	if err != nil {
		return nil, err
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("items: semantic search: %w", embedding.ErrUnavailable)
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	idx, err := ws.Index(ctx)
	if err != nil {
		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("novaport.workspace", ws.Path()),
		attribute.Int("novaport.search.top_k", search.ClampTopK(q.TopK)),
	)
	start := time.Now()
	hits, err := search.Search(ctx, idx, s.embedder, q.Text, q.TopK, filter)
	s.searchDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, err
	}
	return hits, nil
}
