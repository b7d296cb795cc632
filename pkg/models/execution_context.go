package models

import (
	"log/slog"
	"time"
)

// ExecutionContext is the ephemeral variable bag and bookkeeping for one
// graph walk. It is owned exclusively by the executing call stack, never
// persisted and never shared between concurrent executions.
type ExecutionContext struct {
	ID            string
	DomainID      string
	WorkflowID    string
	Variables     map[string]any
	CurrentNodeID int
	StartTime     time.Time

	// Steps counts node visits so cyclic graphs stay bounded.
	Steps int

	Logger *slog.Logger
}
