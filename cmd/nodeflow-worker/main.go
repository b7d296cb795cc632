package main

import (
	"context"
	"errors"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/nodeflow-dev/nodeflow/pkg/agent"
	"github.com/nodeflow-dev/nodeflow/pkg/agent/redisqueue"
	"github.com/nodeflow-dev/nodeflow/pkg/clientchannel"
	"github.com/nodeflow-dev/nodeflow/pkg/cmd"
	"github.com/nodeflow-dev/nodeflow/pkg/devices"
	"github.com/nodeflow-dev/nodeflow/pkg/devices/mqtt"
	"github.com/nodeflow-dev/nodeflow/pkg/log"
	"github.com/nodeflow-dev/nodeflow/pkg/otelhelper"
	"github.com/nodeflow-dev/nodeflow/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "nodeflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that executes triggered workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (memory)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the agent task queue (agent nodes fail without it)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "mqtt-url",
				Usage:   "MQTT broker URL for device commands (logical state only without it)",
				Value:   "",
				Sources: cli.EnvVars("MQTT_URL"),
			},
			&cli.StringFlag{
				Name:    "agents-file",
				Usage:   "Path to the JSON file with agent definitions",
				Value:   "",
				Sources: cli.EnvVars("AGENTS_FILE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces for workflow executions",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("nodeflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing NodeFlow Worker")

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			var (
				queue agent.TaskQueue
				relay *redisqueue.Queue
			)

			if redisURL := command.String("redis-url"); redisURL != "" {
				redisQueue := redisqueue.NewQueue(cmd.NewRedisClient(redisURL), logger)
				queue = redisQueue
				relay = redisQueue
			} else {
				logger.WarnContext(ctx, "No Redis URL configured, agent nodes will fail")

				queue = unavailableQueue{}
			}

			var controller devices.Controller = devices.NopController{}

			if mqttURL := command.String("mqtt-url"); mqttURL != "" {
				mqttController, err := mqtt.NewController(mqttURL, workerID, logger)
				if err != nil {
					return err
				}
				defer mqttController.Close()

				controller = mqttController
			} else {
				logger.WarnContext(ctx, "No MQTT URL configured, device commands are not dispatched")
			}

			agents, err := newAgentRegistry(command.String("agents-file"))
			if err != nil {
				return err
			}

			var tracer trace.Tracer

			if command.Bool("tracing") {
				tracer, err = otelhelper.NewTracer(ctx, "nodeflow-worker")
				if err != nil {
					return err
				}
			}

			bridge := agent.NewBridge(queue, logger)
			executor := workflow.NewExecutor(
				store,
				eventBus,
				controller,
				agents,
				bridge,
				clientchannel.NewLogChannel(logger),
				logger,
			)

			worker := NewWorkerManager(workerID, eventBus, executor, bridge, relay, tracer, logger)

			return worker.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func newAgentRegistry(path string) (agent.Registry, error) {
	if path == "" {
		return noAgents{}, nil
	}

	return agent.NewFileRegistry(path)
}

type noAgents struct{}

func (noAgents) Get(_ context.Context, _, agentID string) (*agent.Definition, error) {
	return nil, agent.ErrAgentNotFound
}

var errNoTaskQueue = errors.New("agent task queue not configured")

type unavailableQueue struct{}

func (unavailableQueue) Submit(context.Context, *agent.JobSpec) error {
	return errNoTaskQueue
}

func (unavailableQueue) Status(context.Context, string) (*agent.JobStatus, error) {
	return nil, errNoTaskQueue
}
