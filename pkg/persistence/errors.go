package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrNodeNotFound indicates a node was not found by the given identifier.
	ErrNodeNotFound = errors.New("node not found")

	// ErrTimerNotFound indicates a timer was not found for the given node.
	ErrTimerNotFound = errors.New("timer not found")

	// ErrNoDueTimer indicates the claim primitive found nothing due.
	ErrNoDueTimer = errors.New("no due timer")

	// ErrDeviceNotFound indicates a device was not found by the given identifier.
	ErrDeviceNotFound = errors.New("device not found")
)

// StoreError wraps a storage failure with the operation and target that
// produced it.
type StoreError struct {
	Op       string
	DomainID string
	Target   string
	Err      error
}

func (e *StoreError) Error() string {
	if e.DomainID != "" {
		return fmt.Sprintf("%s failed for %s in domain %s: %v", e.Op, e.Target, e.DomainID, e.Err)
	}

	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Target, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a storage error with context.
func NewStoreError(op, domainID, target string, err error) *StoreError {
	return &StoreError{Op: op, DomainID: domainID, Target: target, Err: err}
}
