// Package devices defines the device command dispatch contract used by
// device_control workflow nodes.
package devices

import (
	"context"
	"errors"
)

// CommandRef identifies the workflow node a command originates from, for
// attribution on the wire and in logs.
type CommandRef struct {
	DomainID   string
	WorkflowID string
	NodeID     int
}

// Controller dispatches property patches to physical devices. Dispatch is
// best-effort: the executor logs failures but still persists the new
// logical state.
type Controller interface {
	SendCommand(ctx context.Context, ref CommandRef, deviceID string, patch map[string]any) error
}

// ErrDispatchFailed wraps transport-level command failures.
var ErrDispatchFailed = errors.New("device command dispatch failed")

// NopController discards commands. Used where no transport is configured.
type NopController struct{}

func (NopController) SendCommand(context.Context, CommandRef, string, map[string]any) error {
	return nil
}
