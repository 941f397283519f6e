package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/google/uuid"
)

// FlowRepository implements persistence.FlowRepository for PostgreSQL. Each
// (id, version) row is immutable once the flow is published.
type FlowRepository struct {
	db *sql.DB
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	nodes, err := json.Marshal(flow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes of flow %s: %w", flow.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO flows (id, version, name, status, start_node_id, nodes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id, version) DO UPDATE
		SET name = EXCLUDED.name, status = EXCLUDED.status,
			start_node_id = EXCLUDED.start_node_id, nodes = EXCLUDED.nodes,
			updated_at = EXCLUDED.updated_at`,
		flow.ID, flow.Version, flow.Name, string(flow.Status), flow.StartNodeID,
		nodes, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save flow %s version %d: %w", flow.ID, flow.Version, err)
	}

	return nil
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, version, name, status, start_node_id, nodes, created_at, updated_at
		FROM flows WHERE id = $1
		ORDER BY version DESC LIMIT 1`, id)

	return scanFlow(row)
}

func (r *FlowRepository) GetByIDAndVersion(ctx context.Context, id string, version int) (*models.Flow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, version, name, status, start_node_id, nodes, created_at, updated_at
		FROM flows WHERE id = $1 AND version = $2`, id, version)

	return scanFlow(row)
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM flows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}

	return nil
}

func scanFlow(row rowScanner) (*models.Flow, error) {
	var (
		flow     models.Flow
		status   string
		nodesRaw []byte
	)

	err := row.Scan(&flow.ID, &flow.Version, &flow.Name, &status, &flow.StartNodeID,
		&nodesRaw, &flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	flow.Status = models.FlowStatus(status)

	err = json.Unmarshal(nodesRaw, &flow.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes of flow %s: %w", flow.ID, err)
	}

	return &flow, nil
}
