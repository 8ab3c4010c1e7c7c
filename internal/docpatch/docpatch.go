// Package docpatch implements the update rules for context documents.
//
// A context document is a JSON object. It changes either by full replacement
// or by a top-level patch in which a key set to DeleteSentinel removes that
// key. Nested objects are replaced wholesale, never merged.
package docpatch

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
)

// DeleteSentinel marks a patch key for removal from the document.
// A document cannot store this exact string as a top-level value.
const DeleteSentinel = "__DELETE__"

// ErrInvalidUpdate is returned when an Update carries neither or both of
// Content and Patch.
var ErrInvalidUpdate = errors.New("docpatch: exactly one of content or patch must be provided")

// Update is a requested change to a context document.
type Update struct {
	Content map[string]any // full replacement
	Patch   map[string]any // top-level patch
}

// Full returns an Update that replaces the document with content.
func Full(content map[string]any) Update {
	if content == nil {
		content = map[string]any{}
	}
	return Update{Content: content}
}

// PatchOf returns an Update that applies patch to the document.
func PatchOf(patch map[string]any) Update {
	if patch == nil {
		patch = map[string]any{}
	}
	return Update{Patch: patch}
}

// Validate reports ErrInvalidUpdate unless exactly one form is set.
func (u Update) Validate() error {
	if (u.Content == nil) == (u.Patch == nil) {
		return ErrInvalidUpdate
	}
	return nil
}

// IsPatch reports whether u is a patch update.
func (u Update) IsPatch() bool {
	return u.Patch != nil
}

// Merge computes the next document. The inputs are never mutated.
func Merge(current map[string]any, u Update) map[string]any {
	if u.Patch == nil {
		next := maps.Clone(u.Content)
		if next == nil {
			next = map[string]any{}
		}
		return next
	}

	next := maps.Clone(current)
	if next == nil {
		next = make(map[string]any, len(u.Patch))
	}
	for k, v := range u.Patch {
		if isDelete(v) {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	return next
}

// IgnoredDeletes returns the sorted patch keys that asked for deletion of a
// key the document does not have. Such deletes are no-ops.
func IgnoredDeletes(current, patch map[string]any) []string {
	var keys []string
	for k, v := range patch {
		if !isDelete(v) {
			continue
		}
		if _, ok := current[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Equal reports whether two documents have the same canonical JSON form.
// A nil document equals an empty one, and 1 equals 1.0.
func Equal(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return canonicalEqual(ab, bb)
}

func isDelete(v any) bool {
	s, ok := v.(string)
	return ok && s == DeleteSentinel
}

// valueEqual compares two JSON values after a round trip through
// encoding/json, so numeric types decoded differently compare equal.
func valueEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return canonicalEqual(ab, bb)
}

func canonicalEqual(a, b []byte) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ac, _ := json.Marshal(av)
	bc, _ := json.Marshal(bv)
	return string(ac) == string(bc)
}
