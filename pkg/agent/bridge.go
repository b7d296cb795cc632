package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow-dev/nodeflow/pkg/events"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultWaitTimeout  = 5 * time.Minute
)

// Bridge submits agent jobs and blocks the calling graph walk until the
// job reaches a terminal status. It races two observers: a push
// notification from the event bus (fast path) and a periodic status poll
// (correctness backstop against missed events). Whichever observes a
// terminal status first wins; a hard timeout bounds the wait.
type Bridge struct {
	queue  TaskQueue
	logger *slog.Logger

	pollInterval time.Duration
	waitTimeout  time.Duration

	mu      sync.Mutex
	waiters map[string]chan *JobStatus
}

// BridgeOption customizes bridge timing, mostly for tests.
type BridgeOption func(*Bridge)

func WithPollInterval(interval time.Duration) BridgeOption {
	return func(b *Bridge) { b.pollInterval = interval }
}

func WithWaitTimeout(timeout time.Duration) BridgeOption {
	return func(b *Bridge) { b.waitTimeout = timeout }
}

func NewBridge(queue TaskQueue, logger *slog.Logger, opts ...BridgeOption) *Bridge {
	bridge := &Bridge{
		queue:        queue,
		logger:       logger.With("module", "agent_bridge"),
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
		waiters:      make(map[string]chan *JobStatus),
	}

	for _, opt := range opts {
		opt(bridge)
	}

	return bridge
}

// HandleJobFinished is the event bus handler for agent.job.finished
// notifications. Registered once per process by the worker.
func (b *Bridge) HandleJobFinished(_ context.Context, event any) error {
	finished, ok := event.(*events.AgentJobFinished)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	status := &JobStatus{
		JobID:       finished.JobID,
		Status:      finished.Status,
		Content:     finished.Content,
		Error:       finished.Error,
		TTSStreamed: finished.TTSStreamed,
	}

	b.mu.Lock()
	waiter, ok := b.waiters[finished.JobID]
	b.mu.Unlock()

	if !ok {
		// Nobody is waiting; the poll path or a restart already won.
		return nil
	}

	select {
	case waiter <- status:
	default:
	}

	return nil
}

// Run submits the job and blocks until it terminates or the wait times
// out. The returned error is always a *JobError on failure.
func (b *Bridge) Run(ctx context.Context, spec *JobSpec) (*JobResult, error) {
	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}

	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = time.Now().UTC()
	}

	logger := b.logger.With("job_id", spec.ID, "agent_id", spec.AgentID)

	// Arm the event waiter before submitting so a fast consumer cannot
	// complete the job before we are listening.
	waiter := b.register(spec.ID)
	defer b.unregister(spec.ID)

	err := b.queue.Submit(ctx, spec)
	if err != nil {
		return nil, NewJobError(spec.ID, "", err.Error())
	}

	logger.Info("Agent job submitted, waiting for completion")

	waitCtx, cancel := context.WithTimeout(ctx, b.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				logger.Warn("Agent job wait timed out", "timeout", b.waitTimeout)

				return nil, NewJobError(spec.ID, CategoryTimeout,
					fmt.Sprintf("job did not reach a terminal status within %s", b.waitTimeout))
			}

			return nil, NewJobError(spec.ID, CategorySystem, waitCtx.Err().Error())

		case status := <-waiter:
			if status.Terminal() {
				logger.Info("Agent job finished via notification", "status", status.Status)

				return b.resolve(spec.ID, status)
			}

		case <-ticker.C:
			status, err := b.queue.Status(waitCtx, spec.ID)
			if errors.Is(err, ErrJobNotFound) {
				return nil, NewJobError(spec.ID, CategoryNotFound, "job vanished from the queue")
			}

			if err != nil {
				// Polling is the backstop; transient status errors are
				// tolerated until the timeout fires.
				logger.Warn("Agent job status poll failed", "error", err)

				continue
			}

			if status.Terminal() {
				logger.Info("Agent job finished via polling", "status", status.Status)

				return b.resolve(spec.ID, status)
			}
		}
	}
}

func (b *Bridge) resolve(jobID string, status *JobStatus) (*JobResult, error) {
	if status.Status == JobStatusDelivered {
		return &JobResult{Content: status.Content, TTSStreamed: status.TTSStreamed}, nil
	}

	return nil, NewJobError(jobID, ParseCategory(status.ErrorCategory(), status.Error), status.Error)
}

func (b *Bridge) register(jobID string) chan *JobStatus {
	waiter := make(chan *JobStatus, 1)

	b.mu.Lock()
	b.waiters[jobID] = waiter
	b.mu.Unlock()

	return waiter
}

func (b *Bridge) unregister(jobID string) {
	b.mu.Lock()
	delete(b.waiters, jobID)
	b.mu.Unlock()
}
