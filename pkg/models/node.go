package models

import "fmt"

// NodeType is the closed set of node variants a workflow graph can contain.
type NodeType string

const (
	NodeTypeStart         NodeType = "start"
	NodeTypeEnd           NodeType = "end"
	NodeTypeTimer         NodeType = "timer"
	NodeTypeButton        NodeType = "button"
	NodeTypeDeviceControl NodeType = "device_control"
	// NodeTypeObjectAction is the legacy device variant that resolves its
	// target through the global device lookup instead of the domain scope.
	NodeTypeObjectAction NodeType = "object_action"
	NodeTypeAgentMessage NodeType = "agent_message"
	NodeTypeAgentAction  NodeType = "agent_action"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeDelay        NodeType = "delay"
	NodeTypeReceiver     NodeType = "receiver"
)

// knownNodeTypes is the dispatch allow-list; anything else is executed as an
// unknown node (failure-shaped result, connections still followed).
var knownNodeTypes = map[NodeType]struct{}{
	NodeTypeStart:         {},
	NodeTypeEnd:           {},
	NodeTypeTimer:         {},
	NodeTypeButton:        {},
	NodeTypeDeviceControl: {},
	NodeTypeObjectAction:  {},
	NodeTypeAgentMessage:  {},
	NodeTypeAgentAction:   {},
	NodeTypeCondition:     {},
	NodeTypeDelay:         {},
	NodeTypeReceiver:      {},
}

// IsKnown reports whether t is a recognized node type.
func (t NodeType) IsKnown() bool {
	_, ok := knownNodeTypes[t]

	return ok
}

// IsTrigger reports whether a node of this type can serve as a graph entry
// point.
func (t NodeType) IsTrigger() bool {
	return t == NodeTypeStart || t == NodeTypeTimer || t == NodeTypeButton
}

// Connection is a directed edge to another node in the same workflow.
// Condition is only honored on edges leaving a condition-typed node.
type Connection struct {
	TargetNodeID int    `json:"target_node_id" validate:"required"`
	Condition    string `json:"condition,omitempty"`
}

// WorkflowNode is a typed unit of work or trigger within a workflow.
// Node IDs are small integers, monotonically assigned and unique within
// their workflow.
type WorkflowNode struct {
	DomainID    string       `json:"domain_id"   validate:"required"`
	WorkflowID  string       `json:"workflow_id" validate:"required"`
	ID          int          `json:"id"`
	Type        NodeType     `json:"type"        validate:"required"`
	Name        string       `json:"name"`
	Config      NodeConfig   `json:"config"`
	Connections []Connection `json:"connections,omitempty"`
}

// ResultKey is the variable name under which this node's outcome is recorded
// in the execution context.
func (n *WorkflowNode) ResultKey() string {
	return fmt.Sprintf("node_%d_result", n.ID)
}

// AgentContentKey is the variable name for agent output produced by this node.
func (n *WorkflowNode) AgentContentKey() string {
	return fmt.Sprintf("agent_%d_content", n.ID)
}

// AgentStreamedKey flags that agent output was already streamed to the client
// during this node's execution.
func (n *WorkflowNode) AgentStreamedKey() string {
	return fmt.Sprintf("agent_%d_tts_streamed", n.ID)
}

// NodeOutcome is the explicit result of a single node dispatch. A failed
// outcome does not necessarily abort the walk: node types listed in the
// executor's continue-on-failure policy record the failure and keep
// following connections.
type NodeOutcome struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

const (
	NodeOutcomeSuccess = "success"
	NodeOutcomeError   = "error"
)

// OkOutcome builds a success outcome carrying the given result data.
func OkOutcome(data map[string]any) NodeOutcome {
	return NodeOutcome{Status: NodeOutcomeSuccess, Data: data}
}

// FailOutcome builds a failure-shaped outcome without aborting the walk.
func FailOutcome(message string) NodeOutcome {
	return NodeOutcome{Status: NodeOutcomeError, Error: message}
}
