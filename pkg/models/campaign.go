package models

import "time"

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// Sender is the identity emails are sent as.
type Sender struct {
	FromEmail string `json:"fromEmail"         validate:"required,email"`
	ReplyTo   string `json:"replyTo,omitempty" validate:"omitempty,email"`
}

// CampaignStats are aggregate counters maintained incrementally by the node
// executor and the tracking endpoints. They are written independently of
// recipient history, so after a partial failure they can drift; RebuildStats
// re-derives them from the email event log.
type CampaignStats struct {
	Total        int       `json:"total"`
	Sent         int       `json:"sent"`
	Delivered    int       `json:"delivered"`
	Opened       int       `json:"opened"`
	Replied      int       `json:"replied"`
	Bounced      int       `json:"bounced"`
	Errors       int       `json:"errors"`
	OpenRate     float64   `json:"openRate"`
	ResponseRate float64   `json:"responseRate"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// StatsDelta is an atomic increment applied to campaign counters.
type StatsDelta struct {
	Sent      int
	Delivered int
	Opened    int
	Replied   int
	Bounced   int
	Errors    int
}

// Campaign ties a pinned flow version to an audience snapshot and accumulates
// delivery stats while recipients progress through the flow.
type Campaign struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"       validate:"required"`
	FlowID            string            `json:"flowId"     validate:"required"`
	FlowVersion       int               `json:"flowVersion"`
	AudienceID        string            `json:"audienceId" validate:"required"`
	Status            CampaignStatus    `json:"status"`
	Sender            Sender            `json:"sender"     validate:"required"`
	Stats             CampaignStats     `json:"stats"`
	TemplateOverrides map[string]string `json:"templateOverrides,omitempty"` // node ID -> template ID
	ScheduledAt       *time.Time        `json:"scheduledAt,omitempty"`
	StartedAt         *time.Time        `json:"startedAt,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// IsRunning reports whether the executor may advance recipients.
func (c *Campaign) IsRunning() bool {
	return c.Status == CampaignStatusRunning
}

// Recipient is a single audience member.
type Recipient struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name,omitempty"`
}

// Audience is an immutable snapshot of recipients a campaign targets.
type Audience struct {
	ID         string      `json:"id"`
	Name       string      `json:"name" validate:"required"`
	Recipients []Recipient `json:"recipients"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// EmailTemplate is a reusable subject/body pair referenced by send nodes or
// campaign-level overrides.
type EmailTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"    validate:"required"`
	Subject   string    `json:"subject" validate:"required"`
	Body      string    `json:"body"    validate:"required"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
