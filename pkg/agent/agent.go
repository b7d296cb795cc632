// Package agent provides the bridge between workflow executions and
// long-running conversational agent jobs processed by an external queue
// consumer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Definition describes a configured agent: its persona, optional memory
// and the tools it may call. Used to build the job's system prompt.
type Definition struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Persona string   `json:"persona"`
	Memory  string   `json:"memory,omitempty"`
	ToolIDs []string `json:"tool_ids,omitempty"`
}

// Registry resolves agent definitions per domain.
type Registry interface {
	Get(ctx context.Context, domainID, agentID string) (*Definition, error)
}

// ErrAgentNotFound indicates no agent definition exists for the given id.
var ErrAgentNotFound = errors.New("agent not found")

// JobSpec is one conversational unit of work submitted to the task queue.
type JobSpec struct {
	ID           string    `json:"id"`
	DomainID     string    `json:"domain_id"`
	AgentID      string    `json:"agent_id"`
	SystemPrompt string    `json:"system_prompt"`
	Prompt       string    `json:"prompt"`
	ReturnMode   string    `json:"return_mode,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Job statuses as reported by the queue consumer. A job is terminal once
// delivered or once its status carries the error prefix.
const (
	JobStatusQueued     = "queued"
	JobStatusFetched    = "fetched"
	JobStatusProcessing = "processing"
	JobStatusDelivered  = "delivered"

	jobStatusErrorPrefix = "error:"
)

// JobStatus is a point-in-time snapshot of a submitted job.
type JobStatus struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Content     string `json:"content,omitempty"`
	Error       string `json:"error,omitempty"`
	TTSStreamed bool   `json:"tts_streamed,omitempty"`
}

// Terminal reports whether the job reached a final status.
func (s *JobStatus) Terminal() bool {
	return s.Status == JobStatusDelivered || strings.HasPrefix(s.Status, jobStatusErrorPrefix)
}

// ErrorCategory extracts the category from an error status, or empty.
func (s *JobStatus) ErrorCategory() string {
	if !strings.HasPrefix(s.Status, jobStatusErrorPrefix) {
		return ""
	}

	return strings.TrimPrefix(s.Status, jobStatusErrorPrefix)
}

// JobResult is the successful outcome of a job.
type JobResult struct {
	Content     string
	TTSStreamed bool
}

// TaskQueue is the external agent task queue contract. The consumer that
// actually runs jobs lives outside this engine.
type TaskQueue interface {
	Submit(ctx context.Context, spec *JobSpec) error
	Status(ctx context.Context, jobID string) (*JobStatus, error)
}

// ErrJobNotFound indicates the queue has no record of the given job id.
var ErrJobNotFound = errors.New("agent job not found")

// BuildSystemPrompt assembles an agent's system prompt from its persona,
// optional memory and tool catalog.
func BuildSystemPrompt(def *Definition) string {
	var b strings.Builder

	b.WriteString(def.Persona)

	if def.Memory != "" {
		b.WriteString("\n\n# Memory\n")
		b.WriteString(def.Memory)
	}

	if len(def.ToolIDs) > 0 {
		b.WriteString("\n\n# Available tools\n")

		for _, toolID := range def.ToolIDs {
			fmt.Fprintf(&b, "- %s\n", toolID)
		}
	}

	return b.String()
}
