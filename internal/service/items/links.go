package items

import (
	"context"
	"strings"

	"github.com/ashita-ai/novaport/internal/model"
)

// defaultActivityLimit is the per-type count of a recent activity summary.
const defaultActivityLimit = 5

// Link relates two items. Neither item has to exist.
func (s *Service) Link(ctx context.Context, workspaceID string, l model.ContextLink) (model.ContextLink, error) {
	for name, v := range map[string]string{
		"source_item_type":  l.SourceItemType,
		"source_item_id":    l.SourceItemID,
		"target_item_type":  l.TargetItemType,
		"target_item_id":    l.TargetItemID,
		"relationship_type": l.RelationshipType,
	} {
		if strings.TrimSpace(v) == "" {
			return model.ContextLink{}, invalidf("link %s is required", name)
		}
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.ContextLink{}, err
	}
	return ws.DB().CreateLink(ctx, l)
}

// LinkedItems returns the links in which the item takes part.
func (s *Service) LinkedItems(ctx context.Context, workspaceID, itemType, itemID string, limit int) ([]model.ContextLink, error) {
	if itemType == "" || itemID == "" {
		return nil, invalidf("item_type and item_id are required")
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return ws.DB().LinksForItem(ctx, itemType, itemID, limit)
}

// RecentActivity summarizes the newest decisions, progress entries and
// system patterns, up to limit of each.
func (s *Service) RecentActivity(ctx context.Context, workspaceID string, limit int) (model.ActivitySummary, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.ActivitySummary{}, err
	}
	return ws.DB().RecentActivity(ctx, limit)
}
