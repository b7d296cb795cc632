package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/persistence"
)

func (p *Persistence) Nodes(ctx context.Context, domainID, workflowID string) ([]*models.WorkflowNode, error) {
	query := `
		SELECT domain_id, workflow_id, id, type, name, config, connections
		FROM workflow_nodes
		WHERE domain_id = $1 AND workflow_id = $2
		ORDER BY id
	`

	rows, err := p.db.QueryContext(ctx, query, domainID, workflowID)
	if err != nil {
		return nil, persistence.NewStoreError("Nodes", domainID, workflowID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var nodes []*models.WorkflowNode

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, persistence.NewStoreError("Nodes", domainID, workflowID, err)
		}

		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("Nodes", domainID, workflowID, err)
	}

	return nodes, nil
}

func (p *Persistence) NodeByID(ctx context.Context, domainID, workflowID string, nodeID int) (*models.WorkflowNode, error) {
	query := `
		SELECT domain_id, workflow_id, id, type, name, config, connections
		FROM workflow_nodes
		WHERE domain_id = $1 AND workflow_id = $2 AND id = $3
	`

	node, err := scanNode(p.db.QueryRowContext(ctx, query, domainID, workflowID, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNodeNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("NodeByID", domainID, workflowID, err)
	}

	return node, nil
}

func (p *Persistence) SaveNode(ctx context.Context, node *models.WorkflowNode) error {
	config, err := json.Marshal(node.Config)
	if err != nil {
		return persistence.NewStoreError("SaveNode", node.DomainID, node.WorkflowID, err)
	}

	connections, err := json.Marshal(node.Connections)
	if err != nil {
		return persistence.NewStoreError("SaveNode", node.DomainID, node.WorkflowID, err)
	}

	query := `
		INSERT INTO workflow_nodes (domain_id, workflow_id, id, type, name, config, connections)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (domain_id, workflow_id, id)
		DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			config = EXCLUDED.config,
			connections = EXCLUDED.connections
	`

	_, err = p.db.ExecContext(ctx, query,
		node.DomainID,
		node.WorkflowID,
		node.ID,
		node.Type,
		node.Name,
		config,
		connections,
	)
	if err != nil {
		return persistence.NewStoreError("SaveNode", node.DomainID, node.WorkflowID, err)
	}

	return nil
}

func (p *Persistence) DeleteNodes(ctx context.Context, domainID, workflowID string) error {
	_, err := p.db.ExecContext(ctx,
		"DELETE FROM workflow_nodes WHERE domain_id = $1 AND workflow_id = $2", domainID, workflowID)
	if err != nil {
		return persistence.NewStoreError("DeleteNodes", domainID, workflowID, err)
	}

	return nil
}

// NextNodeID advances the per-workflow sequence row and returns the new id.
// The upsert keeps assignment monotonic even after node deletions.
func (p *Persistence) NextNodeID(ctx context.Context, domainID, workflowID string) (int, error) {
	query := `
		INSERT INTO workflow_node_sequences (domain_id, workflow_id, last_node_id)
		VALUES ($1, $2, 1)
		ON CONFLICT (domain_id, workflow_id)
		DO UPDATE SET last_node_id = workflow_node_sequences.last_node_id + 1
		RETURNING last_node_id
	`

	var nodeID int

	err := p.db.QueryRowContext(ctx, query, domainID, workflowID).Scan(&nodeID)
	if err != nil {
		return 0, persistence.NewStoreError("NextNodeID", domainID, workflowID, err)
	}

	return nodeID, nil
}

func scanNode(row rowScanner) (*models.WorkflowNode, error) {
	node := &models.WorkflowNode{}

	var (
		config      []byte
		connections []byte
	)

	err := row.Scan(
		&node.DomainID,
		&node.WorkflowID,
		&node.ID,
		&node.Type,
		&node.Name,
		&config,
		&connections,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(config, &node.Config); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(connections, &node.Connections); err != nil {
		return nil, err
	}

	return node, nil
}
