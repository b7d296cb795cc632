package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nodeflow-dev/nodeflow/pkg/agent"
	"github.com/nodeflow-dev/nodeflow/pkg/agent/redisqueue"
	"github.com/nodeflow-dev/nodeflow/pkg/eventbus"
	"github.com/nodeflow-dev/nodeflow/pkg/events"
	"github.com/nodeflow-dev/nodeflow/pkg/otelhelper"
	"github.com/nodeflow-dev/nodeflow/pkg/workflow"
)

// WorkerManager subscribes to trigger events and runs the executor for
// each. One worker process can run many executions concurrently; they
// never share state.
type WorkerManager struct {
	id       string
	logger   *slog.Logger
	eventBus eventbus.EventBus
	executor *workflow.Executor
	bridge   *agent.Bridge
	relay    *redisqueue.Queue
	tracer   trace.Tracer
}

func NewWorkerManager(
	id string,
	eventBus eventbus.EventBus,
	executor *workflow.Executor,
	bridge *agent.Bridge,
	relay *redisqueue.Queue,
	tracer trace.Tracer,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "nodeflow-worker", "worker_id", id),
		eventBus: eventBus,
		executor: executor,
		bridge:   bridge,
		relay:    relay,
		tracer:   tracer,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	w.eventBus.Handle(events.WorkflowTriggeredEvent, w.handleWorkflowTriggered)
	w.eventBus.Handle(events.TimerFiredEvent, w.handleTimerFired)
	w.eventBus.Handle(events.AgentJobFinishedEvent, w.bridge.HandleJobFinished)

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.relay != nil {
		// Redis pub/sub notifications become agent.job.finished events for
		// the bridge's fast path.
		go func() {
			if err := w.relay.RelayNotifications(ctx, w.eventBus); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Agent notification relay stopped", "error", err)
			}
		}()
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		w.logger.InfoContext(ctx, "Shutting down worker...")
	case <-ctx.Done():
	}

	return nil
}

func (w *WorkerManager) handleWorkflowTriggered(ctx context.Context, event any) error {
	triggered, ok := event.(*events.WorkflowTriggered)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event payload for WorkflowTriggered")

		return nil
	}

	triggerData := cloneTriggerData(triggered.TriggerData)
	if triggered.NodeID != 0 {
		triggerData["node_id"] = triggered.NodeID
	}

	w.execute(ctx, triggered.DomainID, triggered.WorkflowID, triggerData)

	return nil
}

func (w *WorkerManager) handleTimerFired(ctx context.Context, event any) error {
	fired, ok := event.(*events.TimerFired)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event payload for TimerFired")

		return nil
	}

	triggerData := cloneTriggerData(fired.TriggerData)
	triggerData["node_id"] = fired.NodeID

	w.execute(ctx, fired.DomainID, fired.WorkflowID, triggerData)

	return nil
}

// execute runs one graph walk. Failures are logged, not returned: a retry
// via redelivery would repeat side effects that were already applied.
func (w *WorkerManager) execute(ctx context.Context, domainID, workflowID string, triggerData map[string]any) {
	logger := w.logger.With("domain_id", domainID, "workflow_id", workflowID)
	logger.InfoContext(ctx, "Processing trigger event")

	var span trace.Span

	if w.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, w.tracer, "workflow.execute",
			attribute.String(otelhelper.DomainIDKey, domainID),
			attribute.String(otelhelper.WorkflowIDKey, workflowID),
			attribute.String(otelhelper.WorkerIDKey, w.id),
		)
		defer span.End()
	}

	if err := w.executor.Execute(ctx, domainID, workflowID, triggerData); err != nil {
		logger.ErrorContext(ctx, "Workflow execution failed", "error", err)

		if span != nil {
			otelhelper.SetError(span, err)
		}
	}
}

func cloneTriggerData(data map[string]any) map[string]any {
	cloned := make(map[string]any, len(data)+1)
	for key, value := range data {
		cloned[key] = value
	}

	return cloned
}
