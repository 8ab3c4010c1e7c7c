package model

import (
	"fmt"
	"time"

	"github.com/ashita-ai/novaport/internal/docpatch"
)

// ContextKind names one of the singleton context documents of a workspace.
type ContextKind string

const (
	ProductContext ContextKind = "product_context"
	ActiveContext  ContextKind = "active_context"
)

// ParseContextKind validates a kind supplied by a caller.
func ParseContextKind(s string) (ContextKind, error) {
	switch k := ContextKind(s); k {
	case ProductContext, ActiveContext:
		return k, nil
	default:
		return "", fmt.Errorf("model: invalid context kind %q (want product_context or active_context)", s)
	}
}

// ContextDocument is the current state of a context document.
type ContextDocument struct {
	Kind      ContextKind    `json:"kind"`
	Content   map[string]any `json:"content"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HistoryRecord is an append-only snapshot written on every effective
// context update. Content is the document as it was before the update and
// Diff describes the change that update applied.
type HistoryRecord struct {
	ID           int64          `json:"id"`
	Kind         ContextKind    `json:"kind"`
	Version      int            `json:"version"`
	Timestamp    time.Time      `json:"timestamp"`
	Content      map[string]any `json:"content"`
	Diff         docpatch.Diff  `json:"diff"`
	ChangeSource string         `json:"change_source,omitempty"`
}

// HistoryFilter narrows a history query. Records are returned newest first.
type HistoryFilter struct {
	Limit   int
	Version *int
	Before  *time.Time
	After   *time.Time
}

// DefaultHistoryLimit is used when HistoryFilter.Limit is not positive.
const DefaultHistoryLimit = 10
