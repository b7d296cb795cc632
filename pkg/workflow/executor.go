// Package workflow contains the graph executor and the workflow lifecycle
// manager.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow-dev/nodeflow/pkg/agent"
	"github.com/nodeflow-dev/nodeflow/pkg/clientchannel"
	"github.com/nodeflow-dev/nodeflow/pkg/conditions"
	"github.com/nodeflow-dev/nodeflow/pkg/devices"
	"github.com/nodeflow-dev/nodeflow/pkg/eventbus"
	"github.com/nodeflow-dev/nodeflow/pkg/events"
	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
	"github.com/nodeflow-dev/nodeflow/pkg/template"
)

// maxExecutionSteps bounds walks through cyclic graphs. Cycles are legal;
// unbounded recursion is not.
const maxExecutionSteps = 1000

var agentContentPattern = regexp.MustCompile(`^agent_(\d+)_content$`)

// Executor walks a workflow's node graph depth-first from a resolved entry
// node, dispatching each node by type. One Execute call owns one execution
// context; concurrent executions never share state.
type Executor struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	devices     devices.Controller
	agents      agent.Registry
	bridge      *agent.Bridge
	client      clientchannel.Channel
	conditions  *conditions.Evaluator
	logger      *slog.Logger
}

func NewExecutor(
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
	controller devices.Controller,
	agents agent.Registry,
	bridge *agent.Bridge,
	client clientchannel.Channel,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		persistence: store,
		publisher:   publisher,
		devices:     controller,
		agents:      agents,
		bridge:      bridge,
		client:      client,
		conditions:  conditions.NewEvaluator(logger),
		logger:      logger.With("module", "workflow_executor"),
	}
}

// Execute runs one graph walk. Entry resolution failures are logged and
// swallowed (nothing ran, nothing to report); node failures abort the walk
// and surface to the caller.
func (e *Executor) Execute(ctx context.Context, domainID, workflowID string, triggerData map[string]any) error {
	nodes, err := e.persistence.Nodes(ctx, domainID, workflowID)
	if err != nil {
		return fmt.Errorf("loading nodes of workflow %s: %w", workflowID, err)
	}

	graph := make(map[int]*models.WorkflowNode, len(nodes))
	for _, node := range nodes {
		graph[node.ID] = node
	}

	entry, resErr := resolveEntry(workflowID, graph, triggerData)
	if resErr != nil {
		e.logger.WarnContext(ctx, "Workflow execution skipped", "workflow_id", workflowID, "error", resErr)

		return nil
	}

	execCtx := &models.ExecutionContext{
		ID:         "exec-" + uuid.New().String()[:8],
		DomainID:   domainID,
		WorkflowID: workflowID,
		Variables:  seedVariables(triggerData),
		StartTime:  time.Now(),
	}
	execCtx.Logger = e.logger.With("execution_id", execCtx.ID, "workflow_id", workflowID)

	e.publish(ctx, workflowID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, domainID),
		ExecutionID: execCtx.ID,
		WorkflowID:  workflowID,
		EntryNodeID: entry.ID,
		TriggerData: triggerData,
	})

	execCtx.Logger.InfoContext(ctx, "Workflow execution started", "entry_node_id", entry.ID)

	walkErr := e.executeNode(ctx, execCtx, graph, entry)
	durationMs := time.Since(execCtx.StartTime).Milliseconds()

	if walkErr != nil {
		execCtx.Logger.ErrorContext(ctx, "Workflow execution failed",
			"node_id", execCtx.CurrentNodeID, "nodes_executed", execCtx.Steps, "error", walkErr)

		e.publish(ctx, workflowID, events.ExecutionFailed{
			BaseEvent:     events.NewBaseEvent(events.ExecutionFailedEvent, domainID),
			ExecutionID:   execCtx.ID,
			WorkflowID:    workflowID,
			NodeID:        execCtx.CurrentNodeID,
			Error:         walkErr.Error(),
			NodesExecuted: execCtx.Steps,
			DurationMs:    durationMs,
		})

		return walkErr
	}

	execCtx.Logger.InfoContext(ctx, "Workflow execution completed",
		"nodes_executed", execCtx.Steps, "duration_ms", durationMs)

	e.publish(ctx, workflowID, events.ExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionCompletedEvent, domainID),
		ExecutionID:   execCtx.ID,
		WorkflowID:    workflowID,
		NodesExecuted: execCtx.Steps,
		DurationMs:    durationMs,
	})

	return nil
}

// resolveEntry picks the graph entry point: the node named by
// triggerData["node_id"] when present, else the unique start node.
func resolveEntry(workflowID string, graph map[int]*models.WorkflowNode, triggerData map[string]any) (*models.WorkflowNode, error) {
	if nodeID, ok := entryNodeID(triggerData); ok {
		node, exists := graph[nodeID]
		if !exists {
			return nil, &GraphResolutionError{WorkflowID: workflowID, NodeID: nodeID, Reason: "node does not belong to the workflow"}
		}

		return node, nil
	}

	var start *models.WorkflowNode

	for _, node := range graph {
		if node.Type != models.NodeTypeStart {
			continue
		}

		if start != nil {
			return nil, &GraphResolutionError{WorkflowID: workflowID, Reason: "multiple start nodes"}
		}

		start = node
	}

	if start == nil {
		return nil, &GraphResolutionError{WorkflowID: workflowID, Reason: "no start node"}
	}

	return start, nil
}

// entryNodeID extracts the entry node id from the trigger payload. JSON
// decoding and direct in-process callers hand it over in different shapes.
func entryNodeID(triggerData map[string]any) (int, bool) {
	raw, ok := triggerData["node_id"]
	if !ok {
		return 0, false
	}

	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		id, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}

		return id, true
	}

	return 0, false
}

func seedVariables(triggerData map[string]any) map[string]any {
	variables := make(map[string]any, len(triggerData))
	for key, value := range triggerData {
		variables[key] = value
	}

	return variables
}

// executeNode dispatches one node and recurses into its connections,
// depth-first. A condition-typed node's edges are individually guarded;
// every other node follows all of its edges.
func (e *Executor) executeNode(ctx context.Context, execCtx *models.ExecutionContext, graph map[int]*models.WorkflowNode, node *models.WorkflowNode) error {
	execCtx.Steps++
	if execCtx.Steps > maxExecutionSteps {
		return &NodeExecutionError{
			WorkflowID: execCtx.WorkflowID,
			NodeID:     node.ID,
			NodeType:   node.Type,
			Err:        ErrStepBudgetExceeded,
		}
	}

	execCtx.CurrentNodeID = node.ID
	execCtx.Logger.DebugContext(ctx, "Executing node", "node_id", node.ID, "node_type", node.Type)

	outcome, followEdges, err := e.dispatch(ctx, execCtx, node)
	if err != nil {
		return &NodeExecutionError{
			WorkflowID: execCtx.WorkflowID,
			NodeID:     node.ID,
			NodeType:   node.Type,
			Err:        err,
		}
	}

	execCtx.Variables[node.ResultKey()] = outcomeVariable(outcome)

	if !followEdges {
		return nil
	}

	for _, conn := range node.Connections {
		if node.Type == models.NodeTypeCondition && conn.Condition != "" {
			if !e.conditions.Evaluate(conn.Condition, execCtx) {
				execCtx.Logger.DebugContext(ctx, "Edge guard not met",
					"node_id", node.ID, "target_node_id", conn.TargetNodeID)

				continue
			}
		}

		target, ok := graph[conn.TargetNodeID]
		if !ok {
			return &NodeExecutionError{
				WorkflowID: execCtx.WorkflowID,
				NodeID:     node.ID,
				NodeType:   node.Type,
				Err:        fmt.Errorf("connection targets unknown node %d", conn.TargetNodeID),
			}
		}

		if err := e.executeNode(ctx, execCtx, graph, target); err != nil {
			return err
		}
	}

	return nil
}

// outcomeVariable is the per-node result entry recorded into the variable
// map, shaped for downstream template and receiver lookups.
func outcomeVariable(outcome models.NodeOutcome) map[string]any {
	variable := map[string]any{"status": outcome.Status}

	for key, value := range outcome.Data {
		variable[key] = value
	}

	if outcome.Error != "" {
		variable["error"] = outcome.Error
	}

	return variable
}

// dispatch runs one node body. The second return controls whether
// connections are followed afterwards. A nil error with a failure-shaped
// outcome is the continue-on-failure path (unknown node types only).
func (e *Executor) dispatch(ctx context.Context, execCtx *models.ExecutionContext, node *models.WorkflowNode) (models.NodeOutcome, bool, error) {
	switch node.Type {
	case models.NodeTypeStart, models.NodeTypeTimer, models.NodeTypeButton:
		// Trigger nodes were consumed by entry resolution.
		return models.OkOutcome(nil), true, nil

	case models.NodeTypeEnd:
		return models.OkOutcome(nil), false, nil

	case models.NodeTypeDeviceControl, models.NodeTypeObjectAction:
		outcome, err := e.runDeviceNode(ctx, execCtx, node)

		return outcome, err == nil, err

	case models.NodeTypeAgentMessage, models.NodeTypeAgentAction:
		outcome, err := e.runAgentNode(ctx, execCtx, node)

		return outcome, err == nil, err

	case models.NodeTypeCondition:
		if node.Config.Condition == nil {
			return models.NodeOutcome{}, false, models.ErrConfigMissing
		}

		result := e.conditions.Evaluate(node.Config.Condition.Expression, execCtx)

		return models.OkOutcome(map[string]any{"result": result}), true, nil

	case models.NodeTypeDelay:
		err := e.runDelayNode(ctx, execCtx, node)

		return models.OkOutcome(nil), err == nil, err

	case models.NodeTypeReceiver:
		outcome, err := e.runReceiverNode(ctx, execCtx, node)

		return outcome, err == nil, err

	default:
		execCtx.Logger.WarnContext(ctx, "Unknown node type, continuing along connections",
			"node_id", node.ID, "node_type", node.Type)

		return models.FailOutcome(fmt.Sprintf("unknown node type %q", node.Type)), true, nil
	}
}

// runDeviceNode resolves the target device, derives the new logical
// property value and dispatches the command. Dispatch is best-effort; the
// new logical state is persisted regardless of dispatch outcome. A missing
// device aborts the walk.
func (e *Executor) runDeviceNode(ctx context.Context, execCtx *models.ExecutionContext, node *models.WorkflowNode) (models.NodeOutcome, error) {
	cfg := node.Config.Device
	if cfg == nil {
		return models.NodeOutcome{}, models.ErrConfigMissing
	}

	deviceID := template.ResolveString(cfg.DeviceID, execCtx)

	var (
		device *models.Device
		err    error
	)

	if node.Type == models.NodeTypeObjectAction {
		device, err = e.persistence.LookupDevice(ctx, deviceID)
	} else {
		device, err = e.persistence.DeviceByID(ctx, execCtx.DomainID, deviceID)
	}

	if err != nil {
		return models.NodeOutcome{}, fmt.Errorf("resolving device %s: %w", deviceID, err)
	}

	value, err := propertyValue(cfg, device, execCtx)
	if err != nil {
		return models.NodeOutcome{}, err
	}

	ref := devices.CommandRef{
		DomainID:   execCtx.DomainID,
		WorkflowID: execCtx.WorkflowID,
		NodeID:     node.ID,
	}

	if err := e.devices.SendCommand(ctx, ref, device.ID, map[string]any{cfg.Property: value}); err != nil {
		execCtx.Logger.WarnContext(ctx, "Device command dispatch failed, persisting state anyway",
			"device_id", device.ID, "property", cfg.Property, "error", err)
	}

	if err := e.persistence.SetDeviceProperty(ctx, device.DomainID, device.ID, cfg.Property, value); err != nil {
		return models.NodeOutcome{}, fmt.Errorf("persisting device state: %w", err)
	}

	return models.OkOutcome(map[string]any{
		"device_id": device.ID,
		"property":  cfg.Property,
		"value":     value,
	}), nil
}

// propertyValue derives the new logical value for the configured action.
func propertyValue(cfg *models.DeviceConfig, device *models.Device, execCtx *models.ExecutionContext) (any, error) {
	switch cfg.Action {
	case models.DeviceActionOn:
		return true, nil
	case models.DeviceActionOff:
		return false, nil
	case models.DeviceActionToggle:
		return !isOn(device.PropertyValue(cfg.Property)), nil
	case models.DeviceActionSet:
		return template.Resolve(cfg.Value, execCtx), nil
	}

	return nil, fmt.Errorf("unsupported device action %q", cfg.Action)
}

func isOn(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "on" || v == "true" || v == "1"
	case float64:
		return v != 0
	case int:
		return v != 0
	}

	return false
}

// runAgentNode submits a conversational job and blocks until the bridge
// resolves it. The agent's final text lands in the variable map for
// downstream nodes; audio delivery may have already streamed to the client
// during job execution.
func (e *Executor) runAgentNode(ctx context.Context, execCtx *models.ExecutionContext, node *models.WorkflowNode) (models.NodeOutcome, error) {
	cfg := node.Config.Agent
	if cfg == nil {
		return models.NodeOutcome{}, models.ErrConfigMissing
	}

	definition, err := e.agents.Get(ctx, execCtx.DomainID, cfg.AgentID)
	if err != nil {
		return models.NodeOutcome{}, fmt.Errorf("resolving agent %s: %w", cfg.AgentID, err)
	}

	spec := &agent.JobSpec{
		DomainID:     execCtx.DomainID,
		AgentID:      cfg.AgentID,
		SystemPrompt: agent.BuildSystemPrompt(definition),
		Prompt:       template.ResolveString(cfg.Prompt, execCtx),
		ReturnMode:   string(cfg.ReturnMode),
		ClientID:     cfg.ClientID,
	}

	result, err := e.bridge.Run(ctx, spec)
	if err != nil {
		return models.NodeOutcome{}, err
	}

	execCtx.Variables[node.AgentContentKey()] = result.Content
	execCtx.Variables[node.AgentStreamedKey()] = result.TTSStreamed

	return models.OkOutcome(map[string]any{
		"content":      result.Content,
		"tts_streamed": result.TTSStreamed,
	}), nil
}

// runDelayNode sleeps for the configured duration without blocking other
// executions. Cancellation of the surrounding context cuts the sleep short
// and aborts the walk.
func (e *Executor) runDelayNode(ctx context.Context, execCtx *models.ExecutionContext, node *models.WorkflowNode) error {
	cfg := node.Config.Delay
	if cfg == nil {
		return models.ErrConfigMissing
	}

	ms, err := delayMillis(template.Resolve(cfg.DelayMs, execCtx))
	if err != nil {
		return err
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func delayMillis(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unresolvable delay %q: %w", v, err)
		}

		return ms, nil
	}

	return 0, fmt.Errorf("unsupported delay value %T", value)
}

// runReceiverNode forwards the most recent agent output to the client
// channel, unless that output was already streamed during the agent node's
// own execution.
func (e *Executor) runReceiverNode(ctx context.Context, execCtx *models.ExecutionContext, node *models.WorkflowNode) (models.NodeOutcome, error) {
	content, streamed := latestAgentContent(execCtx)
	if content == "" {
		content = latestNodeResultContent(execCtx)
	}

	if streamed {
		execCtx.Logger.DebugContext(ctx, "Receiver skipped, content already streamed", "node_id", node.ID)

		return models.OkOutcome(map[string]any{"delivered": false, "streamed": true}), nil
	}

	if content == "" {
		execCtx.Logger.DebugContext(ctx, "Receiver found no content to deliver", "node_id", node.ID)

		return models.OkOutcome(map[string]any{"delivered": false}), nil
	}

	clientID := ""
	if node.Config.Receiver != nil {
		clientID = template.ResolveString(node.Config.Receiver.ClientID, execCtx)
	}

	err := e.client.Deliver(ctx, clientID, clientchannel.Delivery{Text: content})
	if err != nil {
		return models.NodeOutcome{}, fmt.Errorf("delivering to client %q: %w", clientID, err)
	}

	return models.OkOutcome(map[string]any{"delivered": true}), nil
}

// latestAgentContent scans the variable map for the highest-numbered
// agent_<id>_content entry and reports whether that agent already streamed
// its output.
func latestAgentContent(execCtx *models.ExecutionContext) (string, bool) {
	highest := -1
	content := ""

	for key, value := range execCtx.Variables {
		match := agentContentPattern.FindStringSubmatch(key)
		if match == nil {
			continue
		}

		id, err := strconv.Atoi(match[1])
		if err != nil || id <= highest {
			continue
		}

		text, ok := value.(string)
		if !ok {
			continue
		}

		highest = id
		content = text
	}

	if highest < 0 {
		return "", false
	}

	streamed, _ := execCtx.Variables[fmt.Sprintf("agent_%d_tts_streamed", highest)].(bool)

	return content, streamed
}

// latestNodeResultContent is the fallback: any node_<id>_result entry that
// carries a content field, highest node id wins.
func latestNodeResultContent(execCtx *models.ExecutionContext) string {
	highest := -1
	content := ""

	for key, value := range execCtx.Variables {
		var id int
		if _, err := fmt.Sscanf(key, "node_%d_result", &id); err != nil {
			continue
		}

		result, ok := value.(map[string]any)
		if !ok || id <= highest {
			continue
		}

		text, ok := result["content"].(string)
		if !ok || text == "" {
			continue
		}

		highest = id
		content = text
	}

	return content
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Publishing execution event failed",
			"event_type", event.GetType(), "error", err)
	}
}
