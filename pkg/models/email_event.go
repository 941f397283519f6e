package models

import "time"

// EmailEventType classifies an email event log record.
type EmailEventType string

const (
	EmailEventSent    EmailEventType = "sent"
	EmailEventOpened  EmailEventType = "opened"
	EmailEventReplied EmailEventType = "replied"
	EmailEventBounced EmailEventType = "bounced"
	EmailEventError   EmailEventType = "error"
)

// EmailEvent is a fire-and-forget audit record, independent of recipient
// history. Campaign counters can be rebuilt by aggregating these rows.
type EmailEvent struct {
	ID             string         `json:"id"`
	CampaignID     string         `json:"campaignId"          validate:"required"`
	RecipientEmail string         `json:"recipientEmail"      validate:"required"`
	Type           EmailEventType `json:"type"                validate:"required"`
	MessageID      string         `json:"messageId,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}
