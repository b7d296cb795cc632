package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence/memory"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence/postgresql"
)

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic("Failed to connect to PostgreSQL: " + err.Error())
		}

		logger.InfoContext(ctx, "Using PostgreSQL persistence")

		return store
	default:
		logger.WarnContext(ctx, "Using in-memory persistence, state is lost on restart")

		return memory.NewPersistence()
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	return provider
}
