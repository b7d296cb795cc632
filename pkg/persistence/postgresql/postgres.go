// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.InfoContext(ctx, "PostgreSQL persistence initialized")

	return &Persistence{
		db:     database,
		logger: logger.With("component", "postgres_persistence"),
	}, nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				domain_id TEXT NOT NULL,
				id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				enabled BOOLEAN NOT NULL DEFAULT FALSE,
				status TEXT NOT NULL DEFAULT 'inactive',
				owner TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (domain_id, id)
			);

			CREATE TABLE IF NOT EXISTS workflow_nodes (
				domain_id TEXT NOT NULL,
				workflow_id TEXT NOT NULL,
				id INTEGER NOT NULL,
				type TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				config JSONB NOT NULL DEFAULT '{}',
				connections JSONB NOT NULL DEFAULT '[]',
				PRIMARY KEY (domain_id, workflow_id, id)
			);

			CREATE TABLE IF NOT EXISTS workflow_node_sequences (
				domain_id TEXT NOT NULL,
				workflow_id TEXT NOT NULL,
				last_node_id INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (domain_id, workflow_id)
			);

			CREATE TABLE IF NOT EXISTS workflow_timers (
				domain_id TEXT NOT NULL,
				workflow_id TEXT NOT NULL,
				node_id INTEGER NOT NULL,
				execute_after TIMESTAMP WITH TIME ZONE NOT NULL,
				interval_value INTEGER,
				interval_unit TEXT,
				cron_expression TEXT NOT NULL DEFAULT '',
				trigger_data JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (domain_id, workflow_id, node_id)
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_timers_execute_after
				ON workflow_timers (execute_after);

			CREATE TABLE IF NOT EXISTS devices (
				domain_id TEXT NOT NULL,
				id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				properties JSONB NOT NULL DEFAULT '{}',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (domain_id, id)
			);
		`,
	}
}

var _ persistence.Persistence = (*Persistence)(nil)
