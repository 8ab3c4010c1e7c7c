// Package contexts implements reads and updates of a workspace's product and
// active context documents, including their version history.
package contexts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/novaport/internal/docpatch"
	"github.com/ashita-ai/novaport/internal/model"
	"github.com/ashita-ai/novaport/internal/workspace"
)

// Service is shared by every workspace; the store is acquired per call.
type Service struct {
	registry *workspace.Registry
	logger   *slog.Logger
}

// New creates a context Service.
func New(registry *workspace.Registry, logger *slog.Logger) *Service {
	return &Service{registry: registry, logger: logger}
}

// UpdateResult is the outcome of an Update.
type UpdateResult struct {
	Document model.ContextDocument
	// History is the record written for the change, or nil when the update
	// left the document unchanged.
	History *model.HistoryRecord
	// IgnoredDeletes lists patch keys marked for deletion that were absent.
	IgnoredDeletes []string
}

// Changed reports whether the update produced a new version.
func (r UpdateResult) Changed() bool { return r.History != nil }

// Get returns the current document of kind.
func (s *Service) Get(ctx context.Context, workspaceID string, kind model.ContextKind) (model.ContextDocument, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return model.ContextDocument{}, err
	}
	return ws.DB().GetContext(ctx, kind)
}

// Update applies a full replacement or a patch to the document of kind.
// changeSource is recorded on the history record.
func (s *Service) Update(ctx context.Context, workspaceID string, kind model.ContextKind, u docpatch.Update, changeSource string) (UpdateResult, error) {
	if err := u.Validate(); err != nil {
		return UpdateResult{}, err
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return UpdateResult{}, err
	}

	var ignored []string
	doc, rec, err := ws.DB().UpdateContext(ctx, kind, changeSource, func(current map[string]any) (map[string]any, error) {
		if u.IsPatch() {
			ignored = docpatch.IgnoredDeletes(current, u.Patch)
		}
		return docpatch.Merge(current, u), nil
	})
	if err != nil {
		return UpdateResult{}, err
	}

	if len(ignored) > 0 {
		s.logger.Debug("contexts: delete of absent keys ignored",
			"workspace", ws.Path(), "kind", kind, "keys", ignored)
	}
	if rec == nil {
		s.logger.Debug("contexts: update left document unchanged", "workspace", ws.Path(), "kind", kind)
	}
	return UpdateResult{Document: doc, History: rec, IgnoredDeletes: ignored}, nil
}

// History returns history records of kind, newest first.
func (s *Service) History(ctx context.Context, workspaceID string, kind model.ContextKind, f model.HistoryFilter) ([]model.HistoryRecord, error) {
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return ws.DB().ContextHistory(ctx, kind, f)
}

// ErrInvalidVersion is returned for version numbers below 1.
var ErrInvalidVersion = errors.New("contexts: versions start at 1")

// DiffVersions compares the snapshots stored with two history versions and
// returns the change from versionA to versionB.
func (s *Service) DiffVersions(ctx context.Context, workspaceID string, kind model.ContextKind, versionA, versionB int) (docpatch.Diff, error) {
	if versionA < 1 || versionB < 1 {
		return nil, ErrInvalidVersion
	}
	ws, err := s.registry.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	a, err := ws.DB().ContextHistoryVersion(ctx, kind, versionA)
	if err != nil {
		return nil, fmt.Errorf("contexts: version %d: %w", versionA, err)
	}
	b, err := ws.DB().ContextHistoryVersion(ctx, kind, versionB)
	if err != nil {
		return nil, fmt.Errorf("contexts: version %d: %w", versionB, err)
	}
	return docpatch.Compute(a.Content, b.Content), nil
}
