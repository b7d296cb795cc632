package workflow_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-dev/nodeflow/pkg/agent"
	"github.com/nodeflow-dev/nodeflow/pkg/clientchannel"
	"github.com/nodeflow-dev/nodeflow/pkg/devices"
	"github.com/nodeflow-dev/nodeflow/pkg/eventbus"
	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence/memory"
	"github.com/nodeflow-dev/nodeflow/pkg/workflow"
)

const (
	testDomain   = "dom-1"
	testWorkflow = "wf-1"
)

type recordingController struct {
	mu       sync.Mutex
	commands []string
}

func (c *recordingController) SendCommand(_ context.Context, _ devices.CommandRef, deviceID string, _ map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.commands = append(c.commands, deviceID)

	return nil
}

func (c *recordingController) commanded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.commands...)
}

type recordingChannel struct {
	mu        sync.Mutex
	delivered []string
}

func (c *recordingChannel) Deliver(_ context.Context, _ string, delivery clientchannel.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.delivered = append(c.delivered, delivery.Text)

	return nil
}

type mapAgentRegistry struct {
	agents map[string]*agent.Definition
}

func (r *mapAgentRegistry) Get(_ context.Context, _, agentID string) (*agent.Definition, error) {
	definition, ok := r.agents[agentID]
	if !ok {
		return nil, agent.ErrAgentNotFound
	}

	return definition, nil
}

// instantQueue reports every submitted job as delivered on the first poll.
type instantQueue struct {
	content     string
	ttsStreamed bool
}

func (q *instantQueue) Submit(context.Context, *agent.JobSpec) error { return nil }

func (q *instantQueue) Status(_ context.Context, jobID string) (*agent.JobStatus, error) {
	return &agent.JobStatus{
		JobID:       jobID,
		Status:      agent.JobStatusDelivered,
		Content:     q.content,
		TTSStreamed: q.ttsStreamed,
	}, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, eventbus.Event) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type fixture struct {
	store      *memory.Persistence
	controller *recordingController
	channel    *recordingChannel
	executor   *workflow.Executor
}

func newFixture(t *testing.T, queue agent.TaskQueue) *fixture {
	t.Helper()

	if queue == nil {
		queue = &instantQueue{}
	}

	store := memory.NewPersistence()
	controller := &recordingController{}
	channel := &recordingChannel{}
	logger := testLogger()

	bridge := agent.NewBridge(queue, logger,
		agent.WithPollInterval(5*time.Millisecond),
		agent.WithWaitTimeout(2*time.Second))

	registry := &mapAgentRegistry{agents: map[string]*agent.Definition{
		"tutor": {ID: "tutor", Name: "Tutor", Persona: "You are a helpful tutor."},
	}}

	executor := workflow.NewExecutor(store, nopPublisher{}, controller, registry, bridge, channel, logger)

	return &fixture{store: store, controller: controller, channel: channel, executor: executor}
}

func (f *fixture) saveNode(t *testing.T, node *models.WorkflowNode) {
	t.Helper()

	node.DomainID = testDomain
	node.WorkflowID = testWorkflow
	require.NoError(t, f.store.SaveNode(context.Background(), node))
}

func (f *fixture) saveDevice(t *testing.T, id string, properties map[string]any) {
	t.Helper()

	require.NoError(t, f.store.SaveDevice(context.Background(), &models.Device{
		DomainID:   testDomain,
		ID:         id,
		Name:       id,
		Properties: properties,
	}))
}

func deviceNode(id int, deviceID string, action models.DeviceAction) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:   id,
		Type: models.NodeTypeDeviceControl,
		Config: models.NodeConfig{Device: &models.DeviceConfig{
			DeviceID: deviceID,
			Property: "power",
			Action:   action,
		}},
	}
}

func TestExecuteFollowsOnlyMatchingConditionBranch(t *testing.T) {
	tests := []struct {
		name string
		flag bool
		want []string
	}{
		{name: "flag true runs branch A", flag: true, want: []string{"device-a"}},
		{name: "flag false runs branch B", flag: false, want: []string{"device-b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.saveDevice(t, "device-a", nil)
			f.saveDevice(t, "device-b", nil)

			f.saveNode(t, &models.WorkflowNode{
				ID:          1,
				Type:        models.NodeTypeStart,
				Connections: []models.Connection{{TargetNodeID: 2}},
			})
			f.saveNode(t, &models.WorkflowNode{
				ID:     2,
				Type:   models.NodeTypeCondition,
				Config: models.NodeConfig{Condition: &models.ConditionConfig{Expression: "${flag} == true"}},
				Connections: []models.Connection{
					{TargetNodeID: 3, Condition: "${flag} == true"},
					{TargetNodeID: 4, Condition: "${flag} == false"},
				},
			})
			f.saveNode(t, deviceNode(3, "device-a", models.DeviceActionOn))
			f.saveNode(t, deviceNode(4, "device-b", models.DeviceActionOn))

			err := f.executor.Execute(context.Background(), testDomain, testWorkflow, map[string]any{"flag": tt.flag})
			require.NoError(t, err)

			assert.Equal(t, tt.want, f.controller.commanded())
		})
	}
}

func TestExecuteAbortsWalkWhenDeviceIsMissing(t *testing.T) {
	f := newFixture(t, nil)
	f.saveDevice(t, "device-b", nil)

	f.saveNode(t, &models.WorkflowNode{
		ID:          1,
		Type:        models.NodeTypeStart,
		Connections: []models.Connection{{TargetNodeID: 2}},
	})

	missing := deviceNode(2, "no-such-device", models.DeviceActionOn)
	missing.Connections = []models.Connection{{TargetNodeID: 3}}
	f.saveNode(t, missing)
	f.saveNode(t, deviceNode(3, "device-b", models.DeviceActionOn))

	err := f.executor.Execute(context.Background(), testDomain, testWorkflow, nil)

	var nodeErr *workflow.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, 2, nodeErr.NodeID)
	assert.Empty(t, f.controller.commanded(), "no further nodes may run after the abort")
}

func TestExecuteVisitsOnlyReachableNodes(t *testing.T) {
	f := newFixture(t, nil)
	f.saveDevice(t, "device-a", nil)
	f.saveDevice(t, "orphan", nil)

	f.saveNode(t, &models.WorkflowNode{
		ID:          1,
		Type:        models.NodeTypeStart,
		Connections: []models.Connection{{TargetNodeID: 2}},
	})
	f.saveNode(t, deviceNode(2, "device-a", models.DeviceActionOn))
	// Unconnected node; must never run.
	f.saveNode(t, deviceNode(7, "orphan", models.DeviceActionOn))

	err := f.executor.Execute(context.Background(), testDomain, testWorkflow, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"device-a"}, f.controller.commanded())
}

func TestExecuteContinuesPastUnknownNodeType(t *testing.T) {
	f := newFixture(t, nil)
	f.saveDevice(t, "device-a", nil)

	f.saveNode(t, &models.WorkflowNode{
		ID:          1,
		Type:        models.NodeTypeStart,
		Connections: []models.Connection{{TargetNodeID: 2}},
	})
	f.saveNode(t, &models.WorkflowNode{
		ID:          2,
		Type:        models.NodeType("hologram"),
		Connections: []models.Connection{{TargetNodeID: 3}},
	})
	f.saveNode(t, deviceNode(3, "device-a", models.DeviceActionOn))

	err := f.executor.Execute(context.Background(), testDomain, testWorkflow, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"device-a"}, f.controller.commanded())
}

func TestExecuteEntryResolution(t *testing.T) {
	t.Run("trigger data selects the entry node", func(t *testing.T) {
		f := newFixture(t, nil)
		f.saveDevice(t, "device-a", nil)
		f.saveDevice(t, "device-b", nil)

		f.saveNode(t, &models.WorkflowNode{
			ID:          1,
			Type:        models.NodeTypeStart,
			Connections: []models.Connection{{TargetNodeID: 3}},
		})
		button := &models.WorkflowNode{
			ID:          2,
			Type:        models.NodeTypeButton,
			Connections: []models.Connection{{TargetNodeID: 4}},
		}
		f.saveNode(t, button)
		f.saveNode(t, deviceNode(3, "device-a", models.DeviceActionOn))
		f.saveNode(t, deviceNode(4, "device-b", models.DeviceActionOn))

		// node_id arrives as float64 after a JSON round trip.
		err := f.executor.Execute(context.Background(), testDomain, testWorkflow, map[string]any{"node_id": float64(2)})
		require.NoError(t, err)

		assert.Equal(t, []string{"device-b"}, f.controller.commanded())
	})

	t.Run("foreign node id is swallowed and nothing runs", func(t *testing.T) {
		f := newFixture(t, nil)
		f.saveDevice(t, "device-a", nil)

		f.saveNode(t, &models.WorkflowNode{
			ID:          1,
			Type:        models.NodeTypeStart,
			Connections: []models.Connection{{TargetNodeID: 2}},
		})
		f.saveNode(t, deviceNode(2, "device-a", models.DeviceActionOn))

		err := f.executor.Execute(context.Background(), testDomain, testWorkflow, map[string]any{"node_id": 99})
		require.NoError(t, err)

		assert.Empty(t, f.controller.commanded())
	})

	t.Run("no start node is swallowed", func(t *testing.T) {
		f := newFixture(t, nil)
		f.saveNode(t, deviceNode(1, "device-a", models.DeviceActionOn))

		err := f.executor.Execute(context.Background(), testDomain, testWorkflow, nil)
		require.NoError(t, err)

		assert.Empty(t, f.controller.commanded())
	})
}

func TestExecuteDeviceActions(t *testing.T) {
	tests := []struct {
		name     string
		action   models.DeviceAction
		value    any
		initial  map[string]any
		expected any
	}{
		{name: "on", action: models.DeviceActionOn, expected: true},
		{name: "off", action: models.DeviceActionOff, initial: map[string]any{"power": true}, expected: false},
		{name: "toggle from on", action: models.DeviceActionToggle, initial: map[string]any{"power": true}, expected: false},
		{name: "toggle from unset", action: models.DeviceActionToggle, expected: true},
		{name: "set with template", action: models.DeviceActionSet, value: "${level}", expected: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.saveDevice(t, "device-a", tt.initial)

			f.saveNode(t, &models.WorkflowNode{
				ID:          1,
				Type:        models.NodeTypeStart,
				Connections: []models.Connection{{TargetNodeID: 2}},
			})

			node := deviceNode(2, "device-a", tt.action)
			node.Config.Device.Value = tt.value
			f.saveNode(t, node)

			err := f.executor.Execute(context.Background(), testDomain, testWorkflow, map[string]any{"level": float64(42)})
			require.NoError(t, err)

			device, err := f.store.DeviceByID(context.Background(), testDomain, "device-a")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, device.PropertyValue("power"))
		})
	}
}

func TestExecuteAgentThenReceiverDeliversContent(t *testing.T) {
	f := newFixture(t, &instantQueue{content: "the answer is 7"})

	f.saveNode(t, &models.WorkflowNode{
		ID:          1,
		Type:        models.NodeTypeStart,
		Connections: []models.Connection{{TargetNodeID: 2}},
	})
	f.saveNode(t, &models.WorkflowNode{
		ID:   2,
		Type: models.NodeTypeAgentMessage,
		Config: models.NodeConfig{Agent: &models.AgentConfig{
			AgentID: "tutor",
			Prompt:  "Explain ${topic}",
		}},
		Connections: []models.Connection{{TargetNodeID: 3}},
	})
	f.saveNode(t, &models.WorkflowNode{
		ID:     3,
		Type:   models.NodeTypeReceiver,
		Config: models.NodeConfig{Receiver: &models.ReceiverConfig{ClientID: "client-1"}},
	})

	err := f.executor.Execute(context.Background(), testDomain, testWorkflow, map[string]any{"topic": "fractions"})
	require.NoError(t, err)

	require.Len(t, f.channel.delivered, 1)
	assert.Equal(t, "the answer is 7", f.channel.delivered[0])
}

func TestExecuteReceiverSkipsAlreadyStreamedContent(t *testing.T) {
	f := newFixture(t, &instantQueue{content: "spoken aloud", ttsStreamed: true})

	f.saveNode(t, &models.WorkflowNode{
		ID:          1,
		Type:        models.NodeTypeStart,
		Connections: []models.Connection{{TargetNodeID: 2}},
	})
	f.saveNode(t, &models.WorkflowNode{
		ID:   2,
		Type: models.NodeTypeAgentMessage,
		Config: models.NodeConfig{Agent: &models.AgentConfig{
			AgentID:    "tutor",
			Prompt:     "Say hello",
			ReturnMode: models.AgentReturnAudio,
		}},
		Connections: []models.Connection{{TargetNodeID: 3}},
	})
	f.saveNode(t, &models.WorkflowNode{ID: 3, Type: models.NodeTypeReceiver})

	err := f.executor.Execute(context.Background(), testDomain, testWorkflow, nil)
	require.NoError(t, err)

	assert.Empty(t, f.channel.delivered, "streamed output must not be delivered twice")
}

func TestExecuteMissingAgentAbortsWalk(t *testing.T) {
	f := newFixture(t, nil)

	f.saveNode(t, &models.WorkflowNode{
		ID:          1,
		Type:        models.NodeTypeStart,
		Connections: []models.Connection{{TargetNodeID: 2}},
	})
	f.saveNode(t, &models.WorkflowNode{
		ID:   2,
		Type: models.NodeTypeAgentAction,
		Config: models.NodeConfig{Agent: &models.AgentConfig{
			AgentID: "nobody",
			Prompt:  "hi",
		}},
	})

	err := f.executor.Execute(context.Background(), testDomain, testWorkflow, nil)

	var nodeErr *workflow.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.ErrorIs(t, err, agent.ErrAgentNotFound)
}

func TestExecuteDelayNodeSleeps(t *testing.T) {
	f := newFixture(t, nil)

	f.saveNode(t, &models.WorkflowNode{
		ID:          1,
		Type:        models.NodeTypeStart,
		Connections: []models.Connection{{TargetNodeID: 2}},
	})
	f.saveNode(t, &models.WorkflowNode{
		ID:     2,
		Type:   models.NodeTypeDelay,
		Config: models.NodeConfig{Delay: &models.DelayConfig{DelayMs: 30}},
	})

	started := time.Now()
	err := f.executor.Execute(context.Background(), testDomain, testWorkflow, nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)
}

func TestExecuteCyclicGraphHitsStepBudget(t *testing.T) {
	f := newFixture(t, nil)

	f.saveNode(t, &models.WorkflowNode{
		ID:          1,
		Type:        models.NodeTypeStart,
		Connections: []models.Connection{{TargetNodeID: 2}},
	})
	f.saveNode(t, &models.WorkflowNode{
		ID:          2,
		Type:        models.NodeTypeDelay,
		Config:      models.NodeConfig{Delay: &models.DelayConfig{DelayMs: 0}},
		Connections: []models.Connection{{TargetNodeID: 2}},
	})

	err := f.executor.Execute(context.Background(), testDomain, testWorkflow, nil)
	assert.ErrorIs(t, err, workflow.ErrStepBudgetExceeded)
}
