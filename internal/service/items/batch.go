package items

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/storage"
	"github.com/ashita-ai/novaport/internal/workspace"
)

// BatchLog logs items of one type. Items are decoded and written one at a
// time; an invalid item is reported and does not stop the batch. Workspace
// provisioning and schema failures abort the whole call.
func (s *Service) BatchLog(ctx context.Context, workspaceID string, t model.ItemType, items []map[string]any) (model.BatchResult, error) {
	if _, err := model.ParseItemType(string(t)); err != nil {
		return model.BatchResult{}, invalidf("%v", err)
	}
	if len(items) == 0 {
		return model.BatchResult{}, invalidf("batch has no items")
	}
	// Surface workspace failures once instead of per item.
	if _, err := s.registry.Acquire(ctx, workspaceID); err != nil {
		return model.BatchResult{}, err
	}

	var res model.BatchResult
	for i, raw := range items {
		if err := s.logOne(ctx, workspaceID, t, raw); err != nil {
			if isWorkspaceFailure(err) {
				return res, err
			}
			res.Failed++
			res.Errors = append(res.Errors, model.BatchError{Index: i, Error: err.Error()})
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

func isWorkspaceFailure(err error) bool {
	return errors.Is(err, workspace.ErrProvisioning) ||
		errors.Is(err, workspace.ErrClosed) ||
		errors.Is(err, storage.ErrSchema)
}

type batchDecision struct {
	Summary               string   `json:"summary"`
	Rationale             string   `json:"rationale"`
	ImplementationDetails string   `json:"implementation_details"`
	Tags                  []string `json:"tags"`
}

type batchProgress struct {
	Status           string `json:"status"`
	Description      string `json:"description"`
	ParentID         *int64 `json:"parent_id"`
	LinkedItemType   string `json:"linked_item_type"`
	LinkedItemID     string `json:"linked_item_id"`
	LinkRelationship string `json:"link_relationship_type"`
}

type batchPattern struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type batchCustomData struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    any    `json:"value"`
}

func (s *Service) logOne(ctx context.Context, workspaceID string, t model.ItemType, raw map[string]any) error {
	switch t {
	case model.ItemDecision:
		var in batchDecision
		if err := decodeItem(raw, &in); err != nil {
			return err
		}
		_, err := s.LogDecision(ctx, workspaceID, model.Decision{
			Summary:               in.Summary,
			Rationale:             in.Rationale,
			ImplementationDetails: in.ImplementationDetails,
			Tags:                  in.Tags,
		})
		return err
	case model.ItemProgress:
		var in batchProgress
		if err := decodeItem(raw, &in); err != nil {
			return err
		}
		_, err := s.LogProgress(ctx, workspaceID, ProgressInput(in))
		return err
	case model.ItemSystemPattern:
		var in batchPattern
		if err := decodeItem(raw, &in); err != nil {
			return err
		}
		_, err := s.LogSystemPattern(ctx, workspaceID, model.SystemPattern{
			Name:        in.Name,
			Description: in.Description,
			Tags:        in.Tags,
		})
		return err
	case model.ItemCustomData:
		var in batchCustomData
		if err := decodeItem(raw, &in); err != nil {
			return err
		}
		if _, ok := raw["value"]; !ok {
			return invalidf("custom data value is required")
		}
		_, err := s.UpsertCustomData(ctx, workspaceID, model.CustomData{
			Category: in.Category,
			Key:      in.Key,
			Value:    in.Value,
		})
		return err
	default:
		return invalidf("unsupported item type %q", t)
	}
}

// decodeItem converts a loosely typed item into its typed form.
func decodeItem(raw map[string]any, dst any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return invalidf("encode item: %v", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return invalidf("%v", err)
	}
	return nil
}
