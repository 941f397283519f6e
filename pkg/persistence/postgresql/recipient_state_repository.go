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
)

// RecipientStateRepository implements persistence.RecipientStateRepository
// for PostgreSQL.
type RecipientStateRepository struct {
	db *sql.DB
}

func (r *RecipientStateRepository) UpsertIfAbsent(ctx context.Context, state *models.RecipientState) error {
	history, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO recipient_states
			(campaign_id, recipient_email, current_node_id, reply_detected, last_message_id, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (campaign_id, recipient_email) DO NOTHING`,
		state.CampaignID, state.RecipientEmail, state.CurrentNodeID,
		state.ReplyDetected, state.LastMessageID, history, now)
	if err != nil {
		return fmt.Errorf("failed to upsert recipient state %s/%s: %w",
			state.CampaignID, state.RecipientEmail, err)
	}

	return nil
}

func (r *RecipientStateRepository) Find(ctx context.Context, campaignID, recipientEmail string) (*models.RecipientState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT campaign_id, recipient_email, current_node_id, reply_detected,
			last_message_id, history, created_at, updated_at
		FROM recipient_states
		WHERE campaign_id = $1 AND recipient_email = $2`,
		campaignID, recipientEmail)

	return scanState(row)
}

func (r *RecipientStateRepository) Update(ctx context.Context, state *models.RecipientState) error {
	history, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE recipient_states
		SET current_node_id = $3, reply_detected = $4, last_message_id = $5,
			history = $6, updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_email = $2`,
		state.CampaignID, state.RecipientEmail, state.CurrentNodeID,
		state.ReplyDetected, state.LastMessageID, history)
	if err != nil {
		return fmt.Errorf("failed to update recipient state %s/%s: %w",
			state.CampaignID, state.RecipientEmail, err)
	}

	return requireRow(result, persistence.ErrRecipientStateNotFound)
}

func (r *RecipientStateRepository) MarkReplied(ctx context.Context, campaignID, recipientEmail string, entry models.HistoryEntry) error {
	entryRaw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	// Single statement so the flag flip and the history append cannot be
	// torn apart by a concurrent executor write.
	result, err := r.db.ExecContext(ctx, `
		UPDATE recipient_states
		SET reply_detected = TRUE, history = history || $3::jsonb, updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_email = $2`,
		campaignID, recipientEmail, entryRaw)
	if err != nil {
		return fmt.Errorf("failed to mark reply for %s/%s: %w", campaignID, recipientEmail, err)
	}

	return requireRow(result, persistence.ErrRecipientStateNotFound)
}

func (r *RecipientStateRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*models.RecipientState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT campaign_id, recipient_email, current_node_id, reply_detected,
			last_message_id, history, created_at, updated_at
		FROM recipient_states
		WHERE campaign_id = $1
		ORDER BY recipient_email`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipient states of campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	var states []*models.RecipientState

	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}

		states = append(states, state)
	}

	return states, rows.Err()
}

func (r *RecipientStateRepository) DeleteByCampaign(ctx context.Context, campaignID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM recipient_states WHERE campaign_id = $1", campaignID)
	if err != nil {
		return fmt.Errorf("failed to delete recipient states of campaign %s: %w", campaignID, err)
	}

	return nil
}

func scanState(row rowScanner) (*models.RecipientState, error) {
	var (
		state      models.RecipientState
		historyRaw []byte
	)

	err := row.Scan(&state.CampaignID, &state.RecipientEmail, &state.CurrentNodeID,
		&state.ReplyDetected, &state.LastMessageID, &historyRaw,
		&state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRecipientStateNotFound
		}

		return nil, fmt.Errorf("failed to scan recipient state: %w", err)
	}

	err = json.Unmarshal(historyRaw, &state.History)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal history of %s/%s: %w",
			state.CampaignID, state.RecipientEmail, err)
	}

	return &state, nil
}
