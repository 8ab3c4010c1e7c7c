package workspace

import (
	"errors"
	"fmt"
)

// ErrProvisioning marks a failure to create or open a workspace's storage.
var ErrProvisioning = errors.New("workspace: provisioning failed")

// ErrClosed is returned when a workspace handle is used after Cleanup.
var ErrClosed = errors.New("workspace: closed")

// ProvisioningError reports which provisioning step failed. Migration
// failures are not ProvisioningErrors; they surface as storage.ErrSchema.
type ProvisioningError struct {
	Path string
	Op   string // "resolve", "mkdir", "open_store", "migrations"
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("workspace: provision %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() []error {
	return []error{ErrProvisioning, e.Err}
}
