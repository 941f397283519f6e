package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/mailflow/pkg/models"
	"github.com/google/uuid"
)

// EmailEventRepository implements persistence.EmailEventRepository for
// PostgreSQL. Rows are append-only.
type EmailEventRepository struct {
	db *sql.DB
}

func (r *EmailEventRepository) Append(ctx context.Context, event *models.EmailEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var payload []byte

	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}

		payload = raw
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_events (id, campaign_id, recipient_email, type, message_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.CampaignID, event.RecipientEmail, string(event.Type),
		event.MessageID, payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append email event for campaign %s: %w", event.CampaignID, err)
	}

	return nil
}

func (r *EmailEventRepository) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*models.EmailEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, recipient_email, type, message_id, payload, created_at
		FROM email_events
		WHERE campaign_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list email events of campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	var events []*models.EmailEvent

	for rows.Next() {
		var (
			event      models.EmailEvent
			eventType  string
			payloadRaw []byte
		)

		err := rows.Scan(&event.ID, &event.CampaignID, &event.RecipientEmail,
			&eventType, &event.MessageID, &payloadRaw, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email event: %w", err)
		}

		event.Type = models.EmailEventType(eventType)

		if len(payloadRaw) > 0 {
			err = json.Unmarshal(payloadRaw, &event.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload of event %s: %w", event.ID, err)
			}
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

func (r *EmailEventRepository) CountByType(ctx context.Context, campaignID string) (map[models.EmailEventType]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, COUNT(*)
		FROM email_events
		WHERE campaign_id = $1
		GROUP BY type`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to count email events of campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	counts := make(map[models.EmailEventType]int)

	for rows.Next() {
		var (
			eventType string
			count     int
		)

		err := rows.Scan(&eventType, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}

		counts[models.EmailEventType(eventType)] = count
	}

	return counts, rows.Err()
}

func (r *EmailEventRepository) HasOpenEvent(ctx context.Context, campaignID, recipientEmail string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM email_events
			WHERE campaign_id = $1 AND recipient_email = $2 AND type = $3
		)`, campaignID, recipientEmail, string(models.EmailEventOpened)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up open event for %s/%s: %w",
			campaignID, recipientEmail, err)
	}

	return exists, nil
}

func (r *EmailEventRepository) DeleteByCampaign(ctx context.Context, campaignID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM email_events WHERE campaign_id = $1", campaignID)
	if err != nil {
		return fmt.Errorf("failed to delete email events of campaign %s: %w", campaignID, err)
	}

	return nil
}
