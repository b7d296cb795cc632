package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-dev/nodeflow/pkg/eventbus"
	"github.com/nodeflow-dev/nodeflow/pkg/events"
	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence/memory"
	"github.com/nodeflow-dev/nodeflow/pkg/registry"
	"github.com/nodeflow-dev/nodeflow/pkg/scheduler"
	"github.com/nodeflow-dev/nodeflow/pkg/workflow"
)

type collectingPublisher struct {
	events []eventbus.Event
}

func (p *collectingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.events = append(p.events, event)

	return nil
}

func newManager(t *testing.T) (*workflow.Manager, *memory.Persistence, *collectingPublisher) {
	t.Helper()

	store := memory.NewPersistence()
	publisher := &collectingPublisher{}
	logger := testLogger()
	sched := scheduler.NewScheduler(store, publisher, logger)

	return workflow.NewManager(store, sched, publisher, logger), store, publisher
}

func createWorkflow(t *testing.T, m *workflow.Manager) *models.Workflow {
	t.Helper()

	wf := &models.Workflow{
		DomainID: testDomain,
		ID:       testWorkflow,
		Name:     "morning routine",
		Owner:    "user-1",
	}
	require.NoError(t, m.CreateWorkflow(context.Background(), wf))

	return wf
}

func TestCreateWorkflowValidates(t *testing.T) {
	m, store, _ := newManager(t)

	err := m.CreateWorkflow(context.Background(), &models.Workflow{DomainID: testDomain})
	assert.ErrorIs(t, err, models.ErrInvalidWorkflow)

	wf := createWorkflow(t, m)
	assert.False(t, wf.Enabled)
	assert.Equal(t, models.WorkflowStatusInactive, wf.Status)

	saved, err := store.WorkflowByID(context.Background(), testDomain, testWorkflow)
	require.NoError(t, err)
	assert.Equal(t, "morning routine", saved.Name)
}

func TestAddNodeAssignsMonotonicIDs(t *testing.T) {
	m, _, _ := newManager(t)
	createWorkflow(t, m)

	first := &models.WorkflowNode{DomainID: testDomain, WorkflowID: testWorkflow, Type: models.NodeTypeStart}
	require.NoError(t, m.AddNode(context.Background(), first))

	second := &models.WorkflowNode{
		DomainID:   testDomain,
		WorkflowID: testWorkflow,
		Type:       models.NodeTypeCondition,
		Config:     models.NodeConfig{Condition: &models.ConditionConfig{Expression: "${x} > 1"}},
	}
	require.NoError(t, m.AddNode(context.Background(), second))

	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 2, second.ID)
}

func TestAddNodeRejectsInvalidConfig(t *testing.T) {
	m, _, _ := newManager(t)
	createWorkflow(t, m)

	err := m.AddNode(context.Background(), &models.WorkflowNode{
		DomainID:   testDomain,
		WorkflowID: testWorkflow,
		Type:       models.NodeTypeCondition,
	})
	assert.ErrorIs(t, err, registry.ErrInvalidNodeConfig)
}

func TestAddNodeRejectsForeignConnectionTarget(t *testing.T) {
	m, _, _ := newManager(t)
	createWorkflow(t, m)

	err := m.AddNode(context.Background(), &models.WorkflowNode{
		DomainID:    testDomain,
		WorkflowID:  testWorkflow,
		Type:        models.NodeTypeStart,
		Connections: []models.Connection{{TargetNodeID: 42}},
	})
	assert.ErrorIs(t, err, registry.ErrInvalidNodeConfig)
}

func TestAddNodeAllowsSelfAndSiblingTargets(t *testing.T) {
	m, _, _ := newManager(t)
	createWorkflow(t, m)

	first := &models.WorkflowNode{DomainID: testDomain, WorkflowID: testWorkflow, Type: models.NodeTypeStart}
	require.NoError(t, m.AddNode(context.Background(), first))

	looping := &models.WorkflowNode{
		DomainID:   testDomain,
		WorkflowID: testWorkflow,
		ID:         2,
		Type:       models.NodeTypeDelay,
		Config:     models.NodeConfig{Delay: &models.DelayConfig{DelayMs: 100}},
		Connections: []models.Connection{
			{TargetNodeID: first.ID},
			{TargetNodeID: 2}, // cycles are legal
		},
	}
	assert.NoError(t, m.AddNode(context.Background(), looping))
}

func TestEnableWorkflowArmsTimersAndDisableDisarms(t *testing.T) {
	m, store, publisher := newManager(t)
	createWorkflow(t, m)

	require.NoError(t, m.AddNode(context.Background(), &models.WorkflowNode{
		DomainID:   testDomain,
		WorkflowID: testWorkflow,
		Type:       models.NodeTypeTimer,
		Config:     models.NodeConfig{Timer: &models.TimerConfig{Unit: models.IntervalDay, Value: 1}},
	}))

	require.NoError(t, m.EnableWorkflow(context.Background(), testDomain, testWorkflow))

	wf, err := store.WorkflowByID(context.Background(), testDomain, testWorkflow)
	require.NoError(t, err)
	assert.True(t, wf.Enabled)
	assert.Equal(t, models.WorkflowStatusActive, wf.Status)

	timer, err := store.TimerByNode(context.Background(), testDomain, testWorkflow, 1)
	require.NoError(t, err)
	assert.NotNil(t, timer.Interval)

	var registered *events.TimersRegistered

	for _, event := range publisher.events {
		if e, ok := event.(events.TimersRegistered); ok {
			registered = &e
		}
	}

	require.NotNil(t, registered)
	assert.Equal(t, 1, registered.Count)

	require.NoError(t, m.DisableWorkflow(context.Background(), testDomain, testWorkflow))

	_, err = store.TimerByNode(context.Background(), testDomain, testWorkflow, 1)
	assert.ErrorIs(t, err, persistence.ErrTimerNotFound)
}

func TestDeleteWorkflowCascades(t *testing.T) {
	m, store, _ := newManager(t)
	createWorkflow(t, m)

	require.NoError(t, m.AddNode(context.Background(), &models.WorkflowNode{
		DomainID:   testDomain,
		WorkflowID: testWorkflow,
		Type:       models.NodeTypeTimer,
		Config:     models.NodeConfig{Timer: &models.TimerConfig{Unit: models.IntervalHour, Value: 2}},
	}))
	require.NoError(t, m.EnableWorkflow(context.Background(), testDomain, testWorkflow))

	require.NoError(t, m.DeleteWorkflow(context.Background(), testDomain, testWorkflow))

	_, err := store.WorkflowByID(context.Background(), testDomain, testWorkflow)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	nodes, err := store.Nodes(context.Background(), testDomain, testWorkflow)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	_, err = store.TimerByNode(context.Background(), testDomain, testWorkflow, 1)
	assert.ErrorIs(t, err, persistence.ErrTimerNotFound)
}

func TestTriggerRequiresEnabledWorkflow(t *testing.T) {
	m, _, publisher := newManager(t)
	createWorkflow(t, m)

	err := m.Trigger(context.Background(), testDomain, testWorkflow, 0, nil)
	assert.ErrorIs(t, err, workflow.ErrWorkflowDisabled)

	require.NoError(t, m.AddNode(context.Background(), &models.WorkflowNode{
		DomainID: testDomain, WorkflowID: testWorkflow, Type: models.NodeTypeStart,
	}))
	require.NoError(t, m.EnableWorkflow(context.Background(), testDomain, testWorkflow))

	require.NoError(t, m.Trigger(context.Background(), testDomain, testWorkflow, 0, map[string]any{"flag": true}))

	var triggered *events.WorkflowTriggered

	for _, event := range publisher.events {
		if e, ok := event.(events.WorkflowTriggered); ok {
			triggered = &e
		}
	}

	require.NotNil(t, triggered)
	assert.Equal(t, testWorkflow, triggered.WorkflowID)
	assert.Equal(t, true, triggered.TriggerData["flag"])
}

func TestTriggerRejectsNonTriggerNode(t *testing.T) {
	m, _, _ := newManager(t)
	createWorkflow(t, m)

	require.NoError(t, m.AddNode(context.Background(), &models.WorkflowNode{
		DomainID: testDomain, WorkflowID: testWorkflow, Type: models.NodeTypeStart,
	}))
	require.NoError(t, m.AddNode(context.Background(), &models.WorkflowNode{
		DomainID:   testDomain,
		WorkflowID: testWorkflow,
		Type:       models.NodeTypeDelay,
		Config:     models.NodeConfig{Delay: &models.DelayConfig{DelayMs: 10}},
	}))
	require.NoError(t, m.EnableWorkflow(context.Background(), testDomain, testWorkflow))

	err := m.Trigger(context.Background(), testDomain, testWorkflow, 2, nil)
	assert.ErrorIs(t, err, registry.ErrInvalidNodeConfig)
}
