package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
)

func (p *Persistence) Workflows(ctx context.Context, domainID string) ([]*models.Workflow, error) {
	query := `
		SELECT domain_id, id, name, description, enabled, status, owner, created_at, updated_at
		FROM workflows
		WHERE domain_id = $1
		ORDER BY id
	`

	rows, err := p.db.QueryContext(ctx, query, domainID)
	if err != nil {
		return nil, persistence.NewStoreError("Workflows", domainID, "workflows", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var workflows []*models.Workflow

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, persistence.NewStoreError("Workflows", domainID, "workflows", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("Workflows", domainID, "workflows", err)
	}

	return workflows, nil
}

func (p *Persistence) WorkflowByID(ctx context.Context, domainID, workflowID string) (*models.Workflow, error) {
	query := `
		SELECT domain_id, id, name, description, enabled, status, owner, created_at, updated_at
		FROM workflows
		WHERE domain_id = $1 AND id = $2
	`

	workflow, err := scanWorkflow(p.db.QueryRowContext(ctx, query, domainID, workflowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("WorkflowByID", domainID, workflowID, err)
	}

	return workflow, nil
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	query := `
		INSERT INTO workflows (domain_id, id, name, description, enabled, status, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (domain_id, id)
		DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			enabled = EXCLUDED.enabled,
			status = EXCLUDED.status,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	_, err := p.db.ExecContext(ctx, query,
		workflow.DomainID,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Enabled,
		workflow.Status,
		workflow.Owner,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveWorkflow", workflow.DomainID, workflow.ID, err)
	}

	return nil
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, domainID, workflowID string) error {
	result, err := p.db.ExecContext(ctx,
		"DELETE FROM workflows WHERE domain_id = $1 AND id = $2", domainID, workflowID)
	if err != nil {
		return persistence.NewStoreError("DeleteWorkflow", domainID, workflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("DeleteWorkflow", domainID, workflowID, err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	workflow := &models.Workflow{}

	err := row.Scan(
		&workflow.DomainID,
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Enabled,
		&workflow.Status,
		&workflow.Owner,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}
