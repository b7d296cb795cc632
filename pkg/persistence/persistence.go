// Package persistence provides the storage abstraction for workflows,
// nodes, timers and device state.
package persistence

import (
	"context"
	"time"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
)

type WorkflowRepository interface {
	Workflows(ctx context.Context, domainID string) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, domainID, workflowID string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, domainID, workflowID string) error
}

type NodeRepository interface {
	Nodes(ctx context.Context, domainID, workflowID string) ([]*models.WorkflowNode, error)
	NodeByID(ctx context.Context, domainID, workflowID string, nodeID int) (*models.WorkflowNode, error)
	SaveNode(ctx context.Context, node *models.WorkflowNode) error
	DeleteNodes(ctx context.Context, domainID, workflowID string) error

	// NextNodeID returns the next monotonically assigned node id for the
	// workflow. IDs are never reused within a workflow.
	NextNodeID(ctx context.Context, domainID, workflowID string) (int, error)
}

type TimerRepository interface {
	SaveTimer(ctx context.Context, timer *models.WorkflowTimer) error
	TimerByNode(ctx context.Context, domainID, workflowID string, nodeID int) (*models.WorkflowTimer, error)
	DeleteTimer(ctx context.Context, domainID, workflowID string, nodeID int) error
	DeleteTimers(ctx context.Context, domainID, workflowID string) error

	// ClaimDue atomically finds one timer with ExecuteAfter before now,
	// deletes it and returns it. Concurrent callers, including callers in
	// other processes, never claim the same timer. Returns ErrNoDueTimer
	// when nothing is due. This is the sole cross-process concurrency
	// guarantee of the timer subsystem.
	ClaimDue(ctx context.Context, now time.Time) (*models.WorkflowTimer, error)
}

type DeviceRepository interface {
	DeviceByID(ctx context.Context, domainID, deviceID string) (*models.Device, error)

	// LookupDevice resolves a device by id across all domains; legacy
	// object_action nodes address devices this way.
	LookupDevice(ctx context.Context, deviceID string) (*models.Device, error)

	SaveDevice(ctx context.Context, device *models.Device) error

	// SetDeviceProperty persists the new logical value of one property.
	SetDeviceProperty(ctx context.Context, domainID, deviceID, property string, value any) error
}

// Persistence aggregates all repositories behind a single handle.
type Persistence interface {
	WorkflowRepository
	NodeRepository
	TimerRepository
	DeviceRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
