package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
)

func (p *Persistence) SaveTimer(ctx context.Context, timer *models.WorkflowTimer) error {
	triggerData, err := json.Marshal(timer.TriggerData)
	if err != nil {
		return persistence.NewStoreError("SaveTimer", timer.DomainID, timer.WorkflowID, err)
	}

	var (
		intervalValue sql.NullInt64
		intervalUnit  sql.NullString
	)

	if timer.Interval != nil {
		intervalValue = sql.NullInt64{Int64: int64(timer.Interval.Value), Valid: true}
		intervalUnit = sql.NullString{String: string(timer.Interval.Unit), Valid: true}
	}

	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workflow_timers
			(domain_id, workflow_id, node_id, execute_after, interval_value, interval_unit, cron_expression, trigger_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (domain_id, workflow_id, node_id)
		DO UPDATE SET
			execute_after = EXCLUDED.execute_after,
			interval_value = EXCLUDED.interval_value,
			interval_unit = EXCLUDED.interval_unit,
			cron_expression = EXCLUDED.cron_expression,
			trigger_data = EXCLUDED.trigger_data
	`

	_, err = p.db.ExecContext(ctx, query,
		timer.DomainID,
		timer.WorkflowID,
		timer.NodeID,
		timer.ExecuteAfter,
		intervalValue,
		intervalUnit,
		timer.CronExpression,
		triggerData,
		timer.CreatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveTimer", timer.DomainID, timer.WorkflowID, err)
	}

	return nil
}

func (p *Persistence) TimerByNode(ctx context.Context, domainID, workflowID string, nodeID int) (*models.WorkflowTimer, error) {
	query := `
		SELECT domain_id, workflow_id, node_id, execute_after, interval_value, interval_unit, cron_expression, trigger_data, created_at
		FROM workflow_timers
		WHERE domain_id = $1 AND workflow_id = $2 AND node_id = $3
	`

	timer, err := scanTimer(p.db.QueryRowContext(ctx, query, domainID, workflowID, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTimerNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("TimerByNode", domainID, workflowID, err)
	}

	return timer, nil
}

func (p *Persistence) DeleteTimer(ctx context.Context, domainID, workflowID string, nodeID int) error {
	result, err := p.db.ExecContext(ctx,
		"DELETE FROM workflow_timers WHERE domain_id = $1 AND workflow_id = $2 AND node_id = $3",
		domainID, workflowID, nodeID)
	if err != nil {
		return persistence.NewStoreError("DeleteTimer", domainID, workflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("DeleteTimer", domainID, workflowID, err)
	}

	if affected == 0 {
		return persistence.ErrTimerNotFound
	}

	return nil
}

func (p *Persistence) DeleteTimers(ctx context.Context, domainID, workflowID string) error {
	_, err := p.db.ExecContext(ctx,
		"DELETE FROM workflow_timers WHERE domain_id = $1 AND workflow_id = $2", domainID, workflowID)
	if err != nil {
		return persistence.NewStoreError("DeleteTimers", domainID, workflowID, err)
	}

	return nil
}

// ClaimDue atomically deletes and returns one due timer. FOR UPDATE SKIP
// LOCKED guarantees two claimers, even in different processes, never
// receive the same row.
func (p *Persistence) ClaimDue(ctx context.Context, now time.Time) (*models.WorkflowTimer, error) {
	query := `
		DELETE FROM workflow_timers
		WHERE (domain_id, workflow_id, node_id) IN (
			SELECT domain_id, workflow_id, node_id
			FROM workflow_timers
			WHERE execute_after < $1
			ORDER BY execute_after
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING domain_id, workflow_id, node_id, execute_after, interval_value, interval_unit, cron_expression, trigger_data, created_at
	`

	timer, err := scanTimer(p.db.QueryRowContext(ctx, query, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNoDueTimer
	}

	if err != nil {
		return nil, persistence.NewStoreError("ClaimDue", "", "workflow_timers", err)
	}

	return timer, nil
}

func scanTimer(row rowScanner) (*models.WorkflowTimer, error) {
	timer := &models.WorkflowTimer{}

	var (
		intervalValue sql.NullInt64
		intervalUnit  sql.NullString
		triggerData   []byte
	)

	err := row.Scan(
		&timer.DomainID,
		&timer.WorkflowID,
		&timer.NodeID,
		&timer.ExecuteAfter,
		&intervalValue,
		&intervalUnit,
		&timer.CronExpression,
		&triggerData,
		&timer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if intervalValue.Valid && intervalUnit.Valid {
		timer.Interval = &models.Interval{
			Value: int(intervalValue.Int64),
			Unit:  models.IntervalUnit(intervalUnit.String),
		}
	}

	if err := json.Unmarshal(triggerData, &timer.TriggerData); err != nil {
		return nil, err
	}

	return timer, nil
}
