// Package events defines event types and structures for workflow trigger,
// timer and agent job notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the single bus topic all nodeflow events travel on.
const Topic = "nodeflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger events consumed by the executor entry point.
	WorkflowTriggeredEvent EventType = "workflow.trigger"
	TimerFiredEvent        EventType = "workflow.timer"
	TimersRegisteredEvent  EventType = "workflow.timer.registered"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "workflow.execution.started"
	ExecutionCompletedEvent EventType = "workflow.execution.completed"
	ExecutionFailedEvent    EventType = "workflow.execution.failed"

	// Agent job notifications consumed by the agent task bridge fast path.
	AgentJobFinishedEvent EventType = "agent.job.finished"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	DomainID  string         `json:"domain_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, domainID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		DomainID:  domainID,
	}
}

// WorkflowTriggered asks the executor to run a workflow. NodeID, when
// non-zero, selects a specific trigger node as the entry point.
type WorkflowTriggered struct {
	BaseEvent

	WorkflowID  string         `json:"workflow_id"`
	NodeID      int            `json:"node_id,omitempty"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (w WorkflowTriggered) GetType() EventType {
	return WorkflowTriggeredEvent
}

// TimerFired is emitted by the scheduler claim loop for each claimed timer.
type TimerFired struct {
	BaseEvent

	WorkflowID  string         `json:"workflow_id"`
	NodeID      int            `json:"node_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (t TimerFired) GetType() EventType {
	return TimerFiredEvent
}

// TimersRegistered signals that a workflow's timer nodes were (re)registered.
type TimersRegistered struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	Count      int    `json:"count"`
}

func (t TimersRegistered) GetType() EventType {
	return TimersRegisteredEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	EntryNodeID int            `json:"entry_node_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	WorkflowID    string `json:"workflow_id"`
	NodesExecuted int    `json:"nodes_executed"`
	DurationMs    int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	WorkflowID    string `json:"workflow_id"`
	NodeID        int    `json:"node_id"`
	Error         string `json:"error"`
	NodesExecuted int    `json:"nodes_executed"`
	DurationMs    int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// AgentJobFinished is the push notification for a terminal agent job. The
// bridge races it against its status polling; whichever lands first wins.
type AgentJobFinished struct {
	BaseEvent

	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Content     string `json:"content,omitempty"`
	Error       string `json:"error,omitempty"`
	TTSStreamed bool   `json:"tts_streamed,omitempty"`
}

func (a AgentJobFinished) GetType() EventType {
	return AgentJobFinishedEvent
}
