package items

import (
	"context"
	"strings"

	"github.com/ashita-ai/novaport/internal/model"
)

// LogDecision records a decision and indexes its summary and rationale.
func (s *Service) LogDecision(ctx context.Context, workspaceID string, d model.Decision) (model.Decision, error) {
	d.Summary = strings.TrimSpace(d.Summary)
	if d.Summary == "" {
		return model.Decision{}, invalidf("decision summary is required")
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.Decision{}, err
	}
	d, err = ws.DB().CreateDecision(ctx, d)
	if err != nil {
		return model.Decision{}, err
	}

	meta := map[string]any{"summary": d.Summary}
	if tags := tagsMeta(d.Tags); tags != nil {
		meta["tags"] = tags
	}
	s.index(ctx, ws, model.ItemDecision, d.ID, decisionText(d), meta)
	return d, nil
}

func decisionText(d model.Decision) string {
	text := "Decision: " + d.Summary
	if d.Rationale != "" {
		text += "\nRationale: " + d.Rationale
	}
	return text
}

// GetDecision returns one decision.
func (s *Service) GetDecision(ctx context.Context, workspaceID string, id int64) (model.Decision, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.Decision{}, err
	}
	return ws.DB().GetDecision(ctx, id)
}

// ListDecisions returns decisions newest first.
func (s *Service) ListDecisions(ctx context.Context, workspaceID string, f model.DecisionFilter) ([]model.Decision, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return ws.DB().ListDecisions(ctx, f)
}

// DeleteDecision removes a decision and its vector.
func (s *Service) DeleteDecision(ctx context.Context, workspaceID string, id int64) error {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := ws.DB().DeleteDecision(ctx, id); err != nil {
		return err
	}
	s.unindex(ctx, ws, model.ItemDecision, id)
	return nil
}
