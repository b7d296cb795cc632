package workflow

import (
	"errors"
	"fmt"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
)

// GraphResolutionError means the entry node could not be resolved: the
// workflow is gone, the requested node does not belong to it, or no start
// node exists. Execute logs it and returns nil; nothing was executed.
type GraphResolutionError struct {
	WorkflowID string
	NodeID     int
	Reason     string
}

func (e *GraphResolutionError) Error() string {
	if e.NodeID != 0 {
		return fmt.Sprintf("cannot resolve entry node %d of workflow %s: %s", e.NodeID, e.WorkflowID, e.Reason)
	}

	return fmt.Sprintf("cannot resolve entry node of workflow %s: %s", e.WorkflowID, e.Reason)
}

// NodeExecutionError wraps a node body failure. It aborts the remaining
// graph walk; side effects of already-executed nodes are not undone.
type NodeExecutionError struct {
	WorkflowID string
	NodeID     int
	NodeType   models.NodeType
	Err        error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %d (%s) of workflow %s failed: %v", e.NodeID, e.NodeType, e.WorkflowID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// ErrStepBudgetExceeded aborts walks through cyclic graphs once the
// per-execution node-visit budget runs out.
var ErrStepBudgetExceeded = errors.New("execution step budget exceeded")

// ErrWorkflowDisabled is returned when a trigger targets a disabled workflow.
var ErrWorkflowDisabled = errors.New("workflow is disabled")
