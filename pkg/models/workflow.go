// Package models defines the core workflow graph, timer and execution models.
package models

import (
	"errors"
	"time"
)

// WorkflowStatus defines the lifecycle states of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusInactive WorkflowStatus = "inactive"
	WorkflowStatusActive   WorkflowStatus = "active"
)

// Workflow is a named, owned graph of nodes representing an automation.
// It is identified by (DomainID, ID); its nodes are stored separately and
// reference it by the same pair.
type Workflow struct {
	DomainID    string         `json:"domain_id"   validate:"required"`
	ID          string         `json:"id"          validate:"required"`
	Name        string         `json:"name"        validate:"required,min=1"`
	Description string         `json:"description"`
	Enabled     bool           `json:"enabled"`
	Status      WorkflowStatus `json:"status"`
	Owner       string         `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

var (
	// ErrInvalidWorkflow is returned when workflow validation fails.
	ErrInvalidWorkflow = errors.New("invalid workflow")
)
