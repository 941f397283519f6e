// Package persistence provides the data storage abstraction for campaigns,
// flows, recipient execution state and the email event log.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/mailflow/pkg/models"
)

// Persistence bundles the repositories an engine process needs. The core only
// relies on the operation shapes below (read-by-id, read-by-compound-key,
// upsert-if-absent, atomic history append, atomic counter increment), not on
// a specific storage engine.
type Persistence interface {
	Campaigns() CampaignRepository
	Flows() FlowRepository
	RecipientStates() RecipientStateRepository
	EmailEvents() EmailEventRepository
	Audiences() AudienceRepository
	Templates() TemplateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// CampaignRepository stores campaigns and their aggregate stats.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	Update(ctx context.Context, campaign *models.Campaign) error
	UpdateStatus(ctx context.Context, id string, status models.CampaignStatus) error

	// IncrementStats applies the delta atomically so concurrent executors
	// never lose counts.
	IncrementStats(ctx context.Context, id string, delta models.StatsDelta) error
	UpdateRates(ctx context.Context, id string, openRate, responseRate float64) error
	UpdateStats(ctx context.Context, id string, stats models.CampaignStats) error

	ListScheduledDue(ctx context.Context, before time.Time) ([]*models.Campaign, error)
	Delete(ctx context.Context, id string) error
}

// FlowRepository stores versioned automation flows. Published versions are
// immutable; campaigns read them by (id, version).
type FlowRepository interface {
	Save(ctx context.Context, flow *models.Flow) error
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	GetByIDAndVersion(ctx context.Context, id string, version int) (*models.Flow, error)
	Delete(ctx context.Context, id string) error
}

// RecipientStateRepository stores per-recipient execution state, keyed by
// (campaignID, recipientEmail).
type RecipientStateRepository interface {
	// UpsertIfAbsent creates the state only when no row exists for the key,
	// so restarting a campaign never resets recipient progress.
	UpsertIfAbsent(ctx context.Context, state *models.RecipientState) error
	Find(ctx context.Context, campaignID, recipientEmail string) (*models.RecipientState, error)
	Update(ctx context.Context, state *models.RecipientState) error

	// MarkReplied atomically flips the reply flag and appends the history
	// entry; it is the only write path outside the node executor.
	MarkReplied(ctx context.Context, campaignID, recipientEmail string, entry models.HistoryEntry) error

	ListByCampaign(ctx context.Context, campaignID string) ([]*models.RecipientState, error)
	DeleteByCampaign(ctx context.Context, campaignID string) error
}

// EmailEventRepository is the append-only email event log.
type EmailEventRepository interface {
	Append(ctx context.Context, event *models.EmailEvent) error
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*models.EmailEvent, error)

	// CountByType aggregates the log per event type; RebuildStats derives
	// campaign counters from it.
	CountByType(ctx context.Context, campaignID string) (map[models.EmailEventType]int, error)
	HasOpenEvent(ctx context.Context, campaignID, recipientEmail string) (bool, error)
	DeleteByCampaign(ctx context.Context, campaignID string) error
}

// AudienceRepository stores audience snapshots.
type AudienceRepository interface {
	Save(ctx context.Context, audience *models.Audience) error
	GetByID(ctx context.Context, id string) (*models.Audience, error)
	Delete(ctx context.Context, id string) error
}

// TemplateRepository stores reusable email templates.
type TemplateRepository interface {
	Save(ctx context.Context, tpl *models.EmailTemplate) error
	GetByID(ctx context.Context, id string) (*models.EmailTemplate, error)
	Delete(ctx context.Context, id string) error
}
