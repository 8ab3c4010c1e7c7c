package docpatch

import (
	"encoding/json"
	"fmt"
	"maps"
)

// ChangeKind classifies a per-key difference between two documents.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
	Modified ChangeKind = "modified"
)

// Change is the difference for a single top-level key.
type Change struct {
	Kind ChangeKind
	Old  any
	New  any
}

// Diff maps top-level keys to their change. Unchanged keys are absent.
type Diff map[string]Change

// MarshalJSON writes {"added":v}, {"removed":v} or {"old":a,"new":b}.
func (c Change) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case Added:
		return json.Marshal(map[string]any{"added": c.New})
	case Removed:
		return json.Marshal(map[string]any{"removed": c.Old})
	case Modified:
		return json.Marshal(map[string]any{"old": c.Old, "new": c.New})
	default:
		return nil, fmt.Errorf("docpatch: unknown change kind %q", c.Kind)
	}
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (c *Change) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("docpatch: decode change: %w", err)
	}
	decode := func(key string) (any, error) {
		var v any
		if err := json.Unmarshal(raw[key], &v); err != nil {
			return nil, fmt.Errorf("docpatch: decode change %q: %w", key, err)
		}
		return v, nil
	}

	var err error
	switch {
	case raw["added"] != nil:
		c.Kind = Added
		c.New, err = decode("added")
	case raw["removed"] != nil:
		c.Kind = Removed
		c.Old, err = decode("removed")
	case raw["old"] != nil || raw["new"] != nil:
		c.Kind = Modified
		if c.Old, err = decode("old"); err == nil {
			c.New, err = decode("new")
		}
	default:
		return fmt.Errorf("docpatch: change has no known fields")
	}
	return err
}

// Compute returns the top-level difference from old to next.
func Compute(old, next map[string]any) Diff {
	d := Diff{}
	for k, nv := range next {
		ov, ok := old[k]
		switch {
		case !ok:
			d[k] = Change{Kind: Added, New: nv}
		case !valueEqual(ov, nv):
			d[k] = Change{Kind: Modified, Old: ov, New: nv}
		}
	}
	for k, ov := range old {
		if _, ok := next[k]; !ok {
			d[k] = Change{Kind: Removed, Old: ov}
		}
	}
	return d
}

// Apply replays d on top of old and returns the resulting document.
func Apply(old map[string]any, d Diff) map[string]any {
	next := maps.Clone(old)
	if next == nil {
		next = make(map[string]any, len(d))
	}
	for k, c := range d {
		switch c.Kind {
		case Added, Modified:
			next[k] = c.New
		case Removed:
			delete(next, k)
		}
	}
	return next
}

// Empty reports whether the diff holds no changes.
func (d Diff) Empty() bool {
	return len(d) == 0
}
