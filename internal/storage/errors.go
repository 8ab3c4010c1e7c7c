package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("storage: conflict")

// ErrSchema is matched by every migration failure.
var ErrSchema = errors.New("storage: schema migration failed")

// SchemaError reports the migration step that failed. The schema version
// stays at the last step that committed.
type SchemaError struct {
	Version int
	Name    string
	Err     error
}

func (e *SchemaError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("storage: schema: %v", e.Err)
	}
	return fmt.Sprintf("storage: migration %03d_%s: %v", e.Version, e.Name, e.Err)
}

func (e *SchemaError) Unwrap() []error {
	return []error{ErrSchema, e.Err}
}
