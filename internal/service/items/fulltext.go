package items

import (
	"context"
	"strings"

	"github.com/ashita-ai/novaport/internal/model"
)

// GlossaryCategory is the custom data category holding project terms.
const GlossaryCategory = "ProjectGlossary"

const (
	defaultTextLimit = 10
	maxTextLimit     = 100
)

func clampTextLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultTextLimit
	case limit > maxTextLimit:
		return maxTextLimit
	default:
		return limit
	}
}

// SearchDecisionsText runs a keyword search over decision summaries,
// rationales, implementation details and tags.
func (s *Service) SearchDecisionsText(ctx context.Context, workspaceID, query string, limit int) ([]model.Decision, error) {
	if strings.TrimSpace(query) == "" {
		return nil, invalidf("query term is required")
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return ws.DB().SearchDecisionsText(ctx, query, clampTextLimit(limit))
}

// SearchCustomDataText runs a keyword search over custom data categories,
// keys and values. A non-empty category restricts it to that category.
func (s *Service) SearchCustomDataText(ctx context.Context, workspaceID, query, category string, limit int) ([]model.CustomData, error) {
	if strings.TrimSpace(query) == "" {
		return nil, invalidf("query term is required")
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return ws.DB().SearchCustomDataText(ctx, query, category, clampTextLimit(limit))
}

// SearchGlossary searches the project glossary.
func (s *Service) SearchGlossary(ctx context.Context, workspaceID, query string, limit int) ([]model.CustomData, error) {
	return s.SearchCustomDataText(ctx, workspaceID, query, GlossaryCategory, limit)
}
