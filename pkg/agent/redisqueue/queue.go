// Package redisqueue provides the Redis-backed agent task queue: jobs are
// pushed onto a pending list, their status lives in a per-job hash written
// by the external consumer, and completions are announced on a pub/sub
// channel that is relayed onto the event bus.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/nodeflow-dev/nodeflow/pkg/agent"
	"github.com/nodeflow-dev/nodeflow/pkg/eventbus"
	"github.com/nodeflow-dev/nodeflow/pkg/events"
)

const (
	pendingKey          = "nodeflow:agent:pending"
	jobKeyPrefix        = "nodeflow:agent:job:"
	notificationChannel = "nodeflow:agent:finished"

	jobTTL = 24 * time.Hour
)

type Queue struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewQueue(client redis.UniversalClient, logger *slog.Logger) *Queue {
	return &Queue{
		client: client,
		logger: logger.With("module", "agent_redis_queue"),
	}
}

// Submit records the job hash and pushes its id onto the pending list the
// external consumer pops from.
func (q *Queue) Submit(ctx context.Context, spec *agent.JobSpec) error {
	payload, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to encode job spec: %w", err)
	}

	jobKey := jobKeyPrefix + spec.ID

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey,
		"status", agent.JobStatusQueued,
		"spec", payload,
	)
	pipe.Expire(ctx, jobKey, jobTTL)
	pipe.RPush(ctx, pendingKey, spec.ID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to submit job %s: %w", spec.ID, err)
	}

	q.logger.InfoContext(ctx, "Agent job enqueued", "job_id", spec.ID, "agent_id", spec.AgentID)

	return nil
}

// Status reads the job hash maintained by the consumer.
func (q *Queue) Status(ctx context.Context, jobID string) (*agent.JobStatus, error) {
	fields, err := q.client.HGetAll(ctx, jobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	if len(fields) == 0 {
		return nil, agent.ErrJobNotFound
	}

	streamed, _ := strconv.ParseBool(fields["tts_streamed"])

	return &agent.JobStatus{
		JobID:       jobID,
		Status:      fields["status"],
		Content:     fields["content"],
		Error:       fields["error"],
		TTSStreamed: streamed,
	}, nil
}

// RelayNotifications subscribes to the consumer's completion channel and
// republishes each notification as an agent.job.finished event on the bus.
// Blocks until the context is cancelled.
func (q *Queue) RelayNotifications(ctx context.Context, bus eventbus.EventPublisher) error {
	pubsub := q.client.Subscribe(ctx, notificationChannel)

	defer func() {
		_ = pubsub.Close()
	}()

	q.logger.InfoContext(ctx, "Relaying agent job notifications", "channel", notificationChannel)

	channel := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-channel:
			if !ok {
				return nil
			}

			var status agent.JobStatus

			err := json.Unmarshal([]byte(msg.Payload), &status)
			if err != nil {
				q.logger.ErrorContext(ctx, "Malformed job notification", "error", err)

				continue
			}

			event := events.AgentJobFinished{
				BaseEvent:   events.NewBaseEvent(events.AgentJobFinishedEvent, ""),
				JobID:       status.JobID,
				Status:      status.Status,
				Content:     status.Content,
				Error:       status.Error,
				TTSStreamed: status.TTSStreamed,
			}

			err = bus.Publish(ctx, status.JobID, event)
			if err != nil {
				q.logger.ErrorContext(ctx, "Failed to relay job notification",
					"job_id", status.JobID, "error", err)
			}
		}
	}
}

var _ agent.TaskQueue = (*Queue)(nil)
