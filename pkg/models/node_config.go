package models

import (
	"errors"
	"fmt"
)

// NodeConfig is the per-type configuration payload of a workflow node,
// modeled as a tagged union keyed by the node's Type. Exactly the payload
// matching the node type must be set; this is checked at node save time,
// not at execution time.
type NodeConfig struct {
	Device    *DeviceConfig    `json:"device,omitempty"`
	Agent     *AgentConfig     `json:"agent,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
	Timer     *TimerConfig     `json:"timer,omitempty"`
	Receiver  *ReceiverConfig  `json:"receiver,omitempty"`
}

// DeviceAction is the logical operation applied to a device property.
type DeviceAction string

const (
	DeviceActionOn     DeviceAction = "on"
	DeviceActionOff    DeviceAction = "off"
	DeviceActionToggle DeviceAction = "toggle"
	DeviceActionSet    DeviceAction = "set"
)

// DeviceConfig configures device_control and object_action nodes.
type DeviceConfig struct {
	DeviceID string       `json:"device_id" validate:"required"`
	Property string       `json:"property"  validate:"required"`
	Action   DeviceAction `json:"action"    validate:"required,oneof=on off toggle set"`
	// Value is the target value for the set action. Strings may contain
	// ${name} placeholders resolved against the execution context.
	Value any `json:"value,omitempty"`
}

// AgentReturnMode selects how agent output reaches the client.
type AgentReturnMode string

const (
	AgentReturnText  AgentReturnMode = "text"
	AgentReturnAudio AgentReturnMode = "audio"
)

// AgentConfig configures agent_message and agent_action nodes. Prompt may
// contain ${name} placeholders resolved against the execution context.
type AgentConfig struct {
	AgentID    string          `json:"agent_id" validate:"required"`
	Prompt     string          `json:"prompt"   validate:"required"`
	ReturnMode AgentReturnMode `json:"return_mode,omitempty"`
	ClientID   string          `json:"client_id,omitempty"`
}

// ConditionConfig configures condition nodes.
type ConditionConfig struct {
	Expression string `json:"expression" validate:"required"`
}

// DelayConfig configures delay nodes. DelayMs is either a number or a
// string containing ${name} placeholders that resolve to one.
type DelayConfig struct {
	DelayMs any `json:"delay_ms" validate:"required"`
}

// IntervalUnit is the granularity of a recurring timer schedule.
type IntervalUnit string

const (
	IntervalMinute IntervalUnit = "minute"
	IntervalHour   IntervalUnit = "hour"
	IntervalDay    IntervalUnit = "day"
	IntervalWeek   IntervalUnit = "week"
	IntervalMonth  IntervalUnit = "month"
)

// TimerConfig configures timer trigger nodes. Either Unit/Value with
// optional anchors, or a cron expression.
//
// Anchor semantics (server local time):
//   - minute: Second anchors the second-of-minute; unset means
//     "Value minutes from now".
//   - hour:   Minute:Second anchor within the hour.
//   - day/week/month: Hour:Minute anchor, advanced by Value units when the
//     anchor already elapsed today.
type TimerConfig struct {
	Unit   IntervalUnit `json:"unit,omitempty"   validate:"omitempty,oneof=minute hour day week month"`
	Value  int          `json:"value,omitempty"  validate:"omitempty,min=1"`
	Second *int         `json:"second,omitempty" validate:"omitempty,min=0,max=59"`
	Minute *int         `json:"minute,omitempty" validate:"omitempty,min=0,max=59"`
	Hour   *int         `json:"hour,omitempty"   validate:"omitempty,min=0,max=23"`
	Cron   string       `json:"cron,omitempty"`
	// Data is carried verbatim as the trigger payload when the timer fires.
	Data map[string]any `json:"data,omitempty"`
}

// ReceiverConfig configures receiver nodes.
type ReceiverConfig struct {
	ClientID string `json:"client_id,omitempty"`
}

var (
	ErrConfigMissing  = errors.New("node config payload missing for node type")
	ErrConfigMismatch = errors.New("node config payload does not match node type")
)

// ValidateFor checks that the payload matching the node type is present and
// that no foreign payload is set. Trigger placeholders (start, button, end)
// take no payload.
func (c NodeConfig) ValidateFor(nodeType NodeType) error {
	var want any

	switch nodeType {
	case NodeTypeDeviceControl, NodeTypeObjectAction:
		if c.Device == nil {
			return fmt.Errorf("%w: %s", ErrConfigMissing, nodeType)
		}

		want = c.Device
	case NodeTypeAgentMessage, NodeTypeAgentAction:
		if c.Agent == nil {
			return fmt.Errorf("%w: %s", ErrConfigMissing, nodeType)
		}

		want = c.Agent
	case NodeTypeCondition:
		if c.Condition == nil {
			return fmt.Errorf("%w: %s", ErrConfigMissing, nodeType)
		}

		want = c.Condition
	case NodeTypeDelay:
		if c.Delay == nil {
			return fmt.Errorf("%w: %s", ErrConfigMissing, nodeType)
		}

		want = c.Delay
	case NodeTypeTimer:
		if c.Timer == nil {
			return fmt.Errorf("%w: %s", ErrConfigMissing, nodeType)
		}

		if c.Timer.Cron == "" && c.Timer.Unit == "" {
			return fmt.Errorf("%w: timer requires a unit or cron expression", ErrConfigMismatch)
		}

		want = c.Timer
	case NodeTypeReceiver:
		want = c.Receiver // optional payload
	case NodeTypeStart, NodeTypeEnd, NodeTypeButton:
		want = nil
	default:
		return fmt.Errorf("%w: unknown node type %q", ErrConfigMismatch, nodeType)
	}

	for _, p := range []struct {
		name string
		set  bool
		ptr  any
	}{
		{"device", c.Device != nil, c.Device},
		{"agent", c.Agent != nil, c.Agent},
		{"condition", c.Condition != nil, c.Condition},
		{"delay", c.Delay != nil, c.Delay},
		{"timer", c.Timer != nil, c.Timer},
		{"receiver", c.Receiver != nil, c.Receiver},
	} {
		if p.set && p.ptr != want {
			return fmt.Errorf("%w: %s payload set on %s node", ErrConfigMismatch, p.name, nodeType)
		}
	}

	return nil
}
