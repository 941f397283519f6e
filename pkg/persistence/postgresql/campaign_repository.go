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

// CampaignRepository implements persistence.CampaignRepository for PostgreSQL.
type CampaignRepository struct {
	db *sql.DB
}

const campaignColumns = `id, name, flow_id, flow_version, audience_id, status, sender,
	template_overrides, stats_total, stats_sent, stats_delivered, stats_opened,
	stats_replied, stats_bounced, stats_errors, open_rate, response_rate,
	stats_updated_at, scheduled_at, started_at, completed_at, created_at, updated_at`

func (r *CampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == "" {
		campaign.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	sender, err := json.Marshal(campaign.Sender)
	if err != nil {
		return fmt.Errorf("failed to marshal sender: %w", err)
	}

	overrides, err := marshalNullable(campaign.TemplateOverrides)
	if err != nil {
		return fmt.Errorf("failed to marshal template overrides: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, flow_id, flow_version, audience_id, status, sender,
			template_overrides, stats_total, scheduled_at, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		campaign.ID, campaign.Name, campaign.FlowID, campaign.FlowVersion, campaign.AudienceID,
		string(campaign.Status), sender, overrides, campaign.Stats.Total,
		campaign.ScheduledAt, campaign.StartedAt, campaign.CompletedAt,
		campaign.CreatedAt, campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert campaign %s: %w", campaign.ID, err)
	}

	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE id = $1", id)

	return scanCampaign(row)
}

func (r *CampaignRepository) Update(ctx context.Context, campaign *models.Campaign) error {
	campaign.UpdatedAt = time.Now().UTC()

	sender, err := json.Marshal(campaign.Sender)
	if err != nil {
		return fmt.Errorf("failed to marshal sender: %w", err)
	}

	overrides, err := marshalNullable(campaign.TemplateOverrides)
	if err != nil {
		return fmt.Errorf("failed to marshal template overrides: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $2, flow_id = $3, flow_version = $4, audience_id = $5, status = $6,
			sender = $7, template_overrides = $8, scheduled_at = $9, started_at = $10,
			completed_at = $11, updated_at = $12
		WHERE id = $1`,
		campaign.ID, campaign.Name, campaign.FlowID, campaign.FlowVersion, campaign.AudienceID,
		string(campaign.Status), sender, overrides, campaign.ScheduledAt, campaign.StartedAt,
		campaign.CompletedAt, campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update campaign %s: %w", campaign.ID, err)
	}

	return requireRow(result, persistence.ErrCampaignNotFound)
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1",
		id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update status of campaign %s: %w", id, err)
	}

	return requireRow(result, persistence.ErrCampaignNotFound)
}

func (r *CampaignRepository) IncrementStats(ctx context.Context, id string, delta models.StatsDelta) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET stats_sent = stats_sent + $2,
			stats_delivered = stats_delivered + $3,
			stats_opened = stats_opened + $4,
			stats_replied = stats_replied + $5,
			stats_bounced = stats_bounced + $6,
			stats_errors = stats_errors + $7,
			stats_updated_at = NOW()
		WHERE id = $1`,
		id, delta.Sent, delta.Delivered, delta.Opened, delta.Replied, delta.Bounced, delta.Errors)
	if err != nil {
		return fmt.Errorf("failed to increment stats of campaign %s: %w", id, err)
	}

	return requireRow(result, persistence.ErrCampaignNotFound)
}

func (r *CampaignRepository) UpdateRates(ctx context.Context, id string, openRate, responseRate float64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET open_rate = $2, response_rate = $3, stats_updated_at = NOW()
		WHERE id = $1`,
		id, openRate, responseRate)
	if err != nil {
		return fmt.Errorf("failed to update rates of campaign %s: %w", id, err)
	}

	return requireRow(result, persistence.ErrCampaignNotFound)
}

func (r *CampaignRepository) UpdateStats(ctx context.Context, id string, stats models.CampaignStats) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET stats_total = $2, stats_sent = $3, stats_delivered = $4, stats_opened = $5,
			stats_replied = $6, stats_bounced = $7, stats_errors = $8,
			open_rate = $9, response_rate = $10, stats_updated_at = NOW()
		WHERE id = $1`,
		id, stats.Total, stats.Sent, stats.Delivered, stats.Opened,
		stats.Replied, stats.Bounced, stats.Errors, stats.OpenRate, stats.ResponseRate)
	if err != nil {
		return fmt.Errorf("failed to update stats of campaign %s: %w", id, err)
	}

	return requireRow(result, persistence.ErrCampaignNotFound)
}

func (r *CampaignRepository) ListScheduledDue(ctx context.Context, before time.Time) ([]*models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+campaignColumns+` FROM campaigns
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at`,
		string(models.CampaignStatusScheduled), before)
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign

	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}

		campaigns = append(campaigns, campaign)
	}

	return campaigns, rows.Err()
}

func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM campaigns WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign %s: %w", id, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var (
		campaign       models.Campaign
		status         string
		senderRaw      []byte
		overridesRaw   []byte
		statsUpdatedAt sql.NullTime
	)

	err := row.Scan(
		&campaign.ID, &campaign.Name, &campaign.FlowID, &campaign.FlowVersion,
		&campaign.AudienceID, &status, &senderRaw, &overridesRaw,
		&campaign.Stats.Total, &campaign.Stats.Sent, &campaign.Stats.Delivered,
		&campaign.Stats.Opened, &campaign.Stats.Replied, &campaign.Stats.Bounced,
		&campaign.Stats.Errors, &campaign.Stats.OpenRate, &campaign.Stats.ResponseRate,
		&statsUpdatedAt, &campaign.ScheduledAt, &campaign.StartedAt, &campaign.CompletedAt,
		&campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCampaignNotFound
		}

		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}

	campaign.Status = models.CampaignStatus(status)

	err = json.Unmarshal(senderRaw, &campaign.Sender)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal sender of campaign %s: %w", campaign.ID, err)
	}

	if len(overridesRaw) > 0 {
		err = json.Unmarshal(overridesRaw, &campaign.TemplateOverrides)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal template overrides of campaign %s: %w", campaign.ID, err)
		}
	}

	if statsUpdatedAt.Valid {
		campaign.Stats.LastUpdated = statsUpdatedAt.Time
	}

	return &campaign, nil
}

func marshalNullable(value map[string]string) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}

func requireRow(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}
