package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/nodeflow-dev/nodeflow/pkg/cmd"
	"github.com/nodeflow-dev/nodeflow/pkg/log"
	"github.com/nodeflow-dev/nodeflow/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "nodeflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Run the timer claim loop that fires time-based workflow triggers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCHEDULER_ID"),
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
				Usage:   "Redis URL for leader election (single-leader mode without it)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "lease-key",
				Usage:   "Redis key used for the leader lease",
				Value:   "nodeflow:scheduler:leader",
				Sources: cli.EnvVars("LEASE_KEY"),
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

			schedulerID := command.String("scheduler-id")
			if schedulerID == "" {
				schedulerID = "scheduler-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("nodeflow-scheduler").With("scheduler_id", schedulerID)

			logger.InfoContext(ctx, "Initializing NodeFlow Scheduler")

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

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

				<-sigChan
				logger.InfoContext(ctx, "Shutting down scheduler...")
				cancel()
			}()

			if redisURL := command.String("redis-url"); redisURL != "" {
				lease := scheduler.NewLeaderLease(
					cmd.NewRedisClient(redisURL),
					command.String("lease-key"),
					logger,
				)

				if err := lease.Acquire(runCtx); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}

					return err
				}
				defer lease.Release(context.WithoutCancel(runCtx))

				// Losing the lease stops the claim loop; another process
				// picks the work up.
				go func() {
					if err := lease.Keep(runCtx); err != nil && !errors.Is(err, context.Canceled) {
						logger.ErrorContext(runCtx, "Leader lease ended", "error", err)
					}

					cancel()
				}()
			} else {
				logger.WarnContext(ctx, "No Redis URL configured, assuming this is the only scheduler instance")
			}

			scheduler.NewScheduler(store, eventBus, logger).Run(runCtx)

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
