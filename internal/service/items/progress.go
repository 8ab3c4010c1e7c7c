package items

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/workspace"
)

// DefaultProgressRelationship is used for the automatic link of a progress
// entry when the caller names none.
const DefaultProgressRelationship = "relates_to_progress"

// progressLinkSource is the source item type of automatic progress links.
const progressLinkSource = "progress_entry"

// ProgressInput is a new progress entry with an optional link to another
// item.
type ProgressInput struct {
	Status      string
	Description string
	ParentID    *int64

	LinkedItemType   string
	LinkedItemID     string
	LinkRelationship string
}

// LogProgress records a progress entry. When a linked item is named, a link
// from the entry to it is created as well.
func (s *Service) LogProgress(ctx context.Context, workspaceID string, in ProgressInput) (model.ProgressEntry, error) {
	in.Status = strings.TrimSpace(in.Status)
	if in.Status == "" || strings.TrimSpace(in.Description) == "" {
		return model.ProgressEntry{}, invalidf("progress status and description are required")
	}
	if (in.LinkedItemType == "") != (in.LinkedItemID == "") {
		return model.ProgressEntry{}, invalidf("linked_item_type and linked_item_id must be given together")
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.ProgressEntry{}, err
	}
	p, err := ws.DB().CreateProgress(ctx, model.ProgressEntry{
		Status:      in.Status,
		Description: in.Description,
		ParentID:    in.ParentID,
	})
	if err != nil {
		return model.ProgressEntry{}, err
	}
	s.indexProgress(ctx, ws, p)

	if in.LinkedItemType != "" {
		rel := in.LinkRelationship
		if rel == "" {
			rel = DefaultProgressRelationship
		}
		_, err := ws.DB().CreateLink(ctx, model.ContextLink{
			SourceItemType:   progressLinkSource,
			SourceItemID:     strconv.FormatInt(p.ID, 10),
			TargetItemType:   in.LinkedItemType,
			TargetItemID:     in.LinkedItemID,
			RelationshipType: rel,
		})
		if err != nil {
			return p, fmt.Errorf("items: link progress %d: %w", p.ID, err)
		}
	}
	return p, nil
}

func (s *Service) indexProgress(ctx context.Context, ws *workspace.Workspace, p model.ProgressEntry) {
	text := fmt.Sprintf("Progress %s: %s", p.Status, p.Description)
	s.index(ctx, ws, model.ItemProgress, p.ID, text, map[string]any{"status": p.Status})
}

// GetProgress returns one progress entry.
func (s *Service) GetProgress(ctx context.Context, workspaceID string, id int64) (model.ProgressEntry, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.ProgressEntry{}, err
	}
	return ws.DB().GetProgress(ctx, id)
}

// ListProgress returns progress entries newest first.
func (s *Service) ListProgress(ctx context.Context, workspaceID string, f model.ProgressFilter) ([]model.ProgressEntry, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return ws.DB().ListProgress(ctx, f)
}

// UpdateProgress edits an entry and re-indexes it.
func (s *Service) UpdateProgress(ctx context.Context, workspaceID string, id int64, u model.ProgressUpdate) (model.ProgressEntry, error) {
	if u.Status == nil && u.Description == nil && u.ParentID == nil {
		return model.ProgressEntry{}, invalidf("progress update has no fields")
	}
	if u.Status != nil && strings.TrimSpace(*u.Status) == "" {
		return model.ProgressEntry{}, invalidf("progress status cannot be empty")
	}
	if u.ParentID != nil && *u.ParentID == id {
		return model.ProgressEntry{}, invalidf("progress entry %d cannot be its own parent", id)
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.ProgressEntry{}, err
	}
	p, err := ws.DB().UpdateProgress(ctx, id, u)
	if err != nil {
		return model.ProgressEntry{}, err
	}
	s.indexProgress(ctx, ws, p)
	return p, nil
}

// DeleteProgress removes an entry with all of its descendants and their
// vectors. It returns the removed IDs.
func (s *Service) DeleteProgress(ctx context.Context, workspaceID string, id int64) ([]int64, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	removed, err := ws.DB().DeleteProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	s.unindex(ctx, ws, model.ItemProgress, removed...)
	return removed, nil
}
