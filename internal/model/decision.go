package model

import (
	"fmt"
	"time"
)

// ItemType identifies the kind of a loggable workspace item. The values are
// also the item_type metadata stored alongside each vector.
type ItemType string

const (
	ItemDecision      ItemType = "decision"
	ItemProgress      ItemType = "progress"
	ItemSystemPattern ItemType = "system_pattern"
	ItemCustomData    ItemType = "custom_data"
)

// ParseItemType validates an item type supplied by a caller.
func ParseItemType(s string) (ItemType, error) {
	switch t := ItemType(s); t {
	case ItemDecision, ItemProgress, ItemSystemPattern, ItemCustomData:
		return t, nil
	default:
		return "", fmt.Errorf("model: invalid item type %q", s)
	}
}

// VectorID returns the vector index ID of item id of type t, e.g. "decision_7".
func VectorID(t ItemType, id int64) string {
	return fmt.Sprintf("%s_%d", t, id)
}

// Decision records an architectural or implementation decision.
type Decision struct {
	ID                    int64     `json:"id"`
	Timestamp             time.Time `json:"timestamp"`
	Summary               string    `json:"summary"`
	Rationale             string    `json:"rationale,omitempty"`
	ImplementationDetails string    `json:"implementation_details,omitempty"`
	Tags                  []string  `json:"tags,omitempty"`
}

// DecisionFilter narrows a decision listing.
type DecisionFilter struct {
	Limit   int
	TagsAll []string // every tag must be present
	TagsAny []string // at least one tag must be present
}

// ProgressEntry is a task status entry. Entries form a tree via ParentID.
type ProgressEntry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	ParentID    *int64    `json:"parent_id,omitempty"`
}

// ProgressFilter narrows a progress listing.
type ProgressFilter struct {
	Limit    int
	Status   string
	ParentID *int64
	Since    *time.Time
}

// ProgressUpdate carries the optional fields of a progress edit.
type ProgressUpdate struct {
	Status      *string
	Description *string
	ParentID    *int64
}

// SystemPattern documents a recurring architectural pattern.
type SystemPattern struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CustomData is an arbitrary JSON value stored under (category, key).
type CustomData struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
}

// ContextLink relates two workspace items.
type ContextLink struct {
	ID               int64     `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	SourceItemType   string    `json:"source_item_type"`
	SourceItemID     string    `json:"source_item_id"`
	TargetItemType   string    `json:"target_item_type"`
	TargetItemID     string    `json:"target_item_id"`
	RelationshipType string    `json:"relationship_type"`
	Description      string    `json:"description,omitempty"`
}

// ActivitySummary lists the most recent items of each type.
type ActivitySummary struct {
	Decisions      []Decision      `json:"decisions"`
	Progress       []ProgressEntry `json:"progress"`
	SystemPatterns []SystemPattern `json:"system_patterns"`
}

// BatchResult reports the outcome of a batch log.
type BatchResult struct {
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Errors    []BatchError `json:"errors,omitempty"`
}

// BatchError describes one rejected batch item.
type BatchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}
