// Package scheduler turns persisted workflow timers into trigger events.
//
// Registration is idempotent per timer node; firing goes through the
// store's atomic claim primitive, so any number of scheduler processes can
// share one database without double-firing.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/nodeflow-dev/nodeflow/pkg/eventbus"
	"github.com/nodeflow-dev/nodeflow/pkg/events"
	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultErrorBackoff = 5 * time.Second
)

type Scheduler struct {
	persistence  persistence.Persistence
	publisher    eventbus.EventPublisher
	logger       *slog.Logger
	pollInterval time.Duration
	errorBackoff time.Duration
	now          func() time.Time
}

type Option func(*Scheduler)

func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.pollInterval = interval
	}
}

func WithErrorBackoff(backoff time.Duration) Option {
	return func(s *Scheduler) {
		s.errorBackoff = backoff
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(store persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Scheduler {
	scheduler := &Scheduler{
		persistence:  store,
		publisher:    publisher,
		logger:       logger.With("module", "scheduler"),
		pollInterval: defaultPollInterval,
		errorBackoff: defaultErrorBackoff,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(scheduler)
	}

	return scheduler
}

// RegisterTimers upserts one timer per timer node of the workflow and
// returns how many nodes are armed. Nodes whose existing timer is still
// unexpired and carries the same schedule are left untouched, so repeated
// enables never push a pending fire into the future.
func (s *Scheduler) RegisterTimers(ctx context.Context, domainID, workflowID string) (int, error) {
	nodes, err := s.persistence.Nodes(ctx, domainID, workflowID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	registered := 0

	for _, node := range nodes {
		if node.Type != models.NodeTypeTimer || node.Config.Timer == nil {
			continue
		}

		cfg := node.Config.Timer

		desired := &models.WorkflowTimer{
			DomainID:       domainID,
			WorkflowID:     workflowID,
			NodeID:         node.ID,
			Interval:       cfg.RecurrenceInterval(),
			CronExpression: cfg.Cron,
			TriggerData:    triggerData(cfg, node.ID),
		}

		existing, err := s.persistence.TimerByNode(ctx, domainID, workflowID, node.ID)
		switch {
		case err == nil:
			if existing.ExecuteAfter.After(now) && existing.SameSchedule(desired) {
				registered++

				continue
			}

			if err := s.persistence.DeleteTimer(ctx, domainID, workflowID, node.ID); err != nil {
				return registered, err
			}
		case !errors.Is(err, persistence.ErrTimerNotFound):
			return registered, err
		}

		executeAfter, err := cfg.NextExecuteAfter(now)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping timer node with unusable schedule",
				"workflow_id", workflowID, "node_id", node.ID, "error", err)

			continue
		}

		desired.ExecuteAfter = executeAfter
		desired.CreatedAt = now

		if err := s.persistence.SaveTimer(ctx, desired); err != nil {
			return registered, err
		}

		s.logger.InfoContext(ctx, "Timer registered",
			"workflow_id", workflowID, "node_id", node.ID, "execute_after", executeAfter)

		registered++
	}

	return registered, nil
}

// triggerData builds the payload a firing timer hands to the executor. The
// node id rides along so the executor enters the graph at the right node.
func triggerData(cfg *models.TimerConfig, nodeID int) map[string]any {
	data := make(map[string]any, len(cfg.Data)+1)
	maps.Copy(data, cfg.Data)
	data["node_id"] = nodeID

	return data
}

// Run claims due timers and emits a trigger event for each until the
// context is cancelled. Store errors back off and retry; the loop never
// terminates on its own.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "Timer scheduler started", "poll_interval", s.pollInterval)

	for {
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "Timer scheduler stopped")

			return
		}

		timer, err := s.persistence.ClaimDue(ctx, s.now())

		switch {
		case errors.Is(err, persistence.ErrNoDueTimer):
			s.sleep(ctx, s.pollInterval)
		case err != nil:
			if ctx.Err() != nil {
				continue
			}

			s.logger.ErrorContext(ctx, "Claiming due timer failed", "error", err)
			s.sleep(ctx, s.errorBackoff)
		default:
			s.fire(ctx, timer)
		}
	}
}

// fire re-arms a recurring timer and then emits the trigger event. Ordering
// matters: once the claim deleted the row, re-inserting the next occurrence
// before publishing is what keeps the recurrence alive across crashes of
// the publish path.
func (s *Scheduler) fire(ctx context.Context, timer *models.WorkflowTimer) {
	now := s.now()

	next, ok := s.nextOccurrence(ctx, timer, now)
	if ok {
		rearmed := *timer
		rearmed.ExecuteAfter = next
		rearmed.CreatedAt = now

		if err := s.persistence.SaveTimer(ctx, &rearmed); err != nil {
			s.logger.ErrorContext(ctx, "Re-arming recurring timer failed",
				"workflow_id", timer.WorkflowID, "node_id", timer.NodeID, "error", err)
		}
	}

	event := events.TimerFired{
		BaseEvent:   events.NewBaseEvent(events.TimerFiredEvent, timer.DomainID),
		WorkflowID:  timer.WorkflowID,
		NodeID:      timer.NodeID,
		TriggerData: timer.TriggerData,
	}

	if err := s.publisher.Publish(ctx, timer.WorkflowID, event); err != nil {
		// The claim already consumed the row, so this fire is lost.
		s.logger.ErrorContext(ctx, "Publishing timer event failed",
			"workflow_id", timer.WorkflowID, "node_id", timer.NodeID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Timer fired",
		"workflow_id", timer.WorkflowID, "node_id", timer.NodeID, "rearmed", ok)
}

// nextOccurrence computes when a claimed timer should fire again, or false
// for one-shot timers. Interval recurrence advances from the scheduled
// time, catching up past now so a long outage yields one fire, not a burst.
func (s *Scheduler) nextOccurrence(ctx context.Context, timer *models.WorkflowTimer, now time.Time) (time.Time, bool) {
	if timer.Interval != nil {
		next := timer.Interval.Advance(timer.ExecuteAfter)
		for !next.After(now) {
			next = timer.Interval.Advance(next)
		}

		return next, true
	}

	if timer.CronExpression != "" {
		next, err := models.NextCron(timer.CronExpression, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Dropping timer with unparsable cron expression",
				"workflow_id", timer.WorkflowID, "node_id", timer.NodeID, "error", err)

			return time.Time{}, false
		}

		return next, true
	}

	return time.Time{}, false
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
