package items

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashita-ai/novaport/internal/model"
)

// LogSystemPattern stores a pattern by name, replacing an existing one.
func (s *Service) LogSystemPattern(ctx context.Context, workspaceID string, p model.SystemPattern) (model.SystemPattern, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return model.SystemPattern{}, invalidf("system pattern name is required")
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.SystemPattern{}, err
	}
	p, err = ws.DB().UpsertSystemPattern(ctx, p)
	if err != nil {
		return model.SystemPattern{}, err
	}

	text := "System Pattern: " + p.Name
	if p.Description != "" {
		text += "\nDescription: " + p.Description
	}
	meta := map[string]any{"name": p.Name}
	if tags := tagsMeta(p.Tags); tags != nil {
		meta["tags"] = tags
	}
	s.index(ctx, ws, model.ItemSystemPattern, p.ID, text, meta)
	return p, nil
}

// ListSystemPatterns returns patterns newest first, filtered by tags.
func (s *Service) ListSystemPatterns(ctx context.Context, workspaceID string, limit int, tagsAll, tagsAny []string) ([]model.SystemPattern, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return ws.DB().ListSystemPatterns(ctx, limit, tagsAll, tagsAny)
}

// DeleteSystemPattern removes a pattern and its vector.
func (s *Service) DeleteSystemPattern(ctx context.Context, workspaceID string, id int64) error {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := ws.DB().DeleteSystemPattern(ctx, id); err != nil {
		return err
	}
	s.unindex(ctx, ws, model.ItemSystemPattern, id)
	return nil
}

// UpsertCustomData stores a JSON value under (category, key).
func (s *Service) UpsertCustomData(ctx context.Context, workspaceID string, c model.CustomData) (model.CustomData, error) {
	if strings.TrimSpace(c.Category) == "" || strings.TrimSpace(c.Key) == "" {
		return model.CustomData{}, invalidf("custom data category and key are required")
	}
	raw, err := json.Marshal(c.Value)
	if err != nil {
		return model.CustomData{}, invalidf("custom data %s/%s is not JSON: %v", c.Category, c.Key, err)
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.CustomData{}, err
	}
	c, err = ws.DB().UpsertCustomData(ctx, c)
	if err != nil {
		return model.CustomData{}, err
	}

	text := fmt.Sprintf("Custom Data in category '%s' key '%s': %s", c.Category, c.Key, raw)
	s.index(ctx, ws, model.ItemCustomData, c.ID, text, map[string]any{"category": c.Category, "key": c.Key})
	return c, nil
}

// GetCustomData returns the entry under (category, key).
func (s *Service) GetCustomData(ctx context.Context, workspaceID, category, key string) (model.CustomData, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.CustomData{}, err
	}
	return ws.DB().GetCustomData(ctx, category, key)
}

// ListCustomData returns the entries of a category, or all entries when
// category is empty.
func (s *Service) ListCustomData(ctx context.Context, workspaceID, category string) ([]model.CustomData, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return ws.DB().ListCustomData(ctx, category)
}

// DeleteCustomData removes the entry under (category, key) and its vector.
func (s *Service) DeleteCustomData(ctx context.Context, workspaceID, category, key string) error {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return err
	}
	id, err := ws.DB().DeleteCustomData(ctx, category, key)
	if err != nil {
		return err
	}
	s.unindex(ctx, ws, model.ItemCustomData, id)
	return nil
}
