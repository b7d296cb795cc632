package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nodeflow-dev/nodeflow/pkg/eventbus"
	"github.com/nodeflow-dev/nodeflow/pkg/events"
	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
	"github.com/nodeflow-dev/nodeflow/pkg/registry"
	"github.com/nodeflow-dev/nodeflow/pkg/scheduler"
)

// Manager owns the workflow lifecycle: creation, node editing, the
// enabled/disabled toggle and cascading deletion. Enabling a workflow arms
// its timer nodes; disabling disarms them.
type Manager struct {
	persistence persistence.Persistence
	scheduler   *scheduler.Scheduler
	publisher   eventbus.EventPublisher
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewManager(store persistence.Persistence, sched *scheduler.Scheduler, publisher eventbus.EventPublisher, logger *slog.Logger) *Manager {
	return &Manager{
		persistence: store,
		scheduler:   sched,
		publisher:   publisher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_manager"),
	}
}

// CreateWorkflow validates and persists a new workflow. A missing id is
// assigned; new workflows start disabled.
func (m *Manager) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.Enabled = false
	workflow.Status = models.WorkflowStatusInactive

	if err := m.validate.Struct(workflow); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidWorkflow, err)
	}

	if err := m.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Workflow created",
		"domain_id", workflow.DomainID, "workflow_id", workflow.ID, "name", workflow.Name)

	return nil
}

// AddNode validates a node's config against its type schema, assigns the
// next node id when unset and checks that every connection targets a node
// of the same workflow. Node ids are never reused.
func (m *Manager) AddNode(ctx context.Context, node *models.WorkflowNode) error {
	if _, err := m.persistence.WorkflowByID(ctx, node.DomainID, node.WorkflowID); err != nil {
		return err
	}

	if err := m.validate.Struct(node); err != nil {
		return fmt.Errorf("%w: %w", registry.ErrInvalidNodeConfig, err)
	}

	if err := registry.ValidateNodeConfig(node.Type, node.Config); err != nil {
		return err
	}

	if node.ID == 0 {
		id, err := m.persistence.NextNodeID(ctx, node.DomainID, node.WorkflowID)
		if err != nil {
			return err
		}

		node.ID = id
	}

	if err := m.validateConnections(ctx, node); err != nil {
		return err
	}

	if err := m.persistence.SaveNode(ctx, node); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Node saved",
		"workflow_id", node.WorkflowID, "node_id", node.ID, "node_type", node.Type)

	return nil
}

// validateConnections enforces that edges stay inside the workflow. Edges
// may target the node itself (cycles are legal) or any sibling node.
func (m *Manager) validateConnections(ctx context.Context, node *models.WorkflowNode) error {
	if len(node.Connections) == 0 {
		return nil
	}

	siblings, err := m.persistence.Nodes(ctx, node.DomainID, node.WorkflowID)
	if err != nil {
		return err
	}

	known := make(map[int]struct{}, len(siblings)+1)
	for _, sibling := range siblings {
		known[sibling.ID] = struct{}{}
	}

	known[node.ID] = struct{}{}

	for _, conn := range node.Connections {
		if _, ok := known[conn.TargetNodeID]; !ok {
			return fmt.Errorf("%w: connection targets node %d outside the workflow",
				registry.ErrInvalidNodeConfig, conn.TargetNodeID)
		}
	}

	return nil
}

// EnableWorkflow marks the workflow active and (re)registers its timer
// nodes. Registration is idempotent, so repeated enables are safe.
func (m *Manager) EnableWorkflow(ctx context.Context, domainID, workflowID string) error {
	workflow, err := m.persistence.WorkflowByID(ctx, domainID, workflowID)
	if err != nil {
		return err
	}

	workflow.Enabled = true
	workflow.Status = models.WorkflowStatusActive
	workflow.UpdatedAt = time.Now().UTC()

	if err := m.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return err
	}

	count, err := m.scheduler.RegisterTimers(ctx, domainID, workflowID)
	if err != nil {
		return fmt.Errorf("registering timers of workflow %s: %w", workflowID, err)
	}

	event := events.TimersRegistered{
		BaseEvent:  events.NewBaseEvent(events.TimersRegisteredEvent, domainID),
		WorkflowID: workflowID,
		Count:      count,
	}
	if err := m.publisher.Publish(ctx, workflowID, event); err != nil {
		m.logger.WarnContext(ctx, "Publishing timer registration event failed",
			"workflow_id", workflowID, "error", err)
	}

	m.logger.InfoContext(ctx, "Workflow enabled", "workflow_id", workflowID, "timers", count)

	return nil
}

// DisableWorkflow marks the workflow inactive and drops its pending timers.
func (m *Manager) DisableWorkflow(ctx context.Context, domainID, workflowID string) error {
	workflow, err := m.persistence.WorkflowByID(ctx, domainID, workflowID)
	if err != nil {
		return err
	}

	workflow.Enabled = false
	workflow.Status = models.WorkflowStatusInactive
	workflow.UpdatedAt = time.Now().UTC()

	if err := m.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return err
	}

	if err := m.persistence.DeleteTimers(ctx, domainID, workflowID); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Workflow disabled", "workflow_id", workflowID)

	return nil
}

// DeleteWorkflow cascades: pending timers and nodes go first, then the
// workflow itself.
func (m *Manager) DeleteWorkflow(ctx context.Context, domainID, workflowID string) error {
	if err := m.persistence.DeleteTimers(ctx, domainID, workflowID); err != nil {
		return err
	}

	if err := m.persistence.DeleteNodes(ctx, domainID, workflowID); err != nil {
		return err
	}

	if err := m.persistence.DeleteWorkflow(ctx, domainID, workflowID); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID)

	return nil
}

// Trigger publishes a trigger event for an enabled workflow, optionally
// targeting a specific trigger node (a button press names its node).
func (m *Manager) Trigger(ctx context.Context, domainID, workflowID string, nodeID int, triggerData map[string]any) error {
	workflow, err := m.persistence.WorkflowByID(ctx, domainID, workflowID)
	if err != nil {
		return err
	}

	if !workflow.Enabled {
		return fmt.Errorf("%w: %s", ErrWorkflowDisabled, workflowID)
	}

	if nodeID != 0 {
		node, err := m.persistence.NodeByID(ctx, domainID, workflowID, nodeID)
		if err != nil {
			return err
		}

		if !node.Type.IsTrigger() {
			return fmt.Errorf("%w: node %d is not a trigger node", registry.ErrInvalidNodeConfig, nodeID)
		}
	}

	event := events.WorkflowTriggered{
		BaseEvent:   events.NewBaseEvent(events.WorkflowTriggeredEvent, domainID),
		WorkflowID:  workflowID,
		NodeID:      nodeID,
		TriggerData: triggerData,
	}

	return m.publisher.Publish(ctx, workflowID, event)
}

// IsNotFound reports whether an error is any of the store's not-found
// sentinels, for callers mapping lifecycle errors to user responses.
func IsNotFound(err error) bool {
	return errors.Is(err, persistence.ErrWorkflowNotFound) ||
		errors.Is(err, persistence.ErrNodeNotFound) ||
		errors.Is(err, persistence.ErrTimerNotFound)
}
