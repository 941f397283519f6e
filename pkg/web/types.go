package web

import (
	"time"

	"github.com/dukex/mailflow/pkg/models"
)

// CreateCampaignRequest is the payload for creating a campaign. FlowVersion
// zero pins the latest published version of the flow.
type CreateCampaignRequest struct {
	Name              string            `json:"name"              validate:"required"`
	FlowID            string            `json:"flowId"            validate:"required"`
	FlowVersion       int               `json:"flowVersion"`
	AudienceID        string            `json:"audienceId"        validate:"required"`
	Sender            models.Sender     `json:"sender"            validate:"required"`
	TemplateOverrides map[string]string `json:"templateOverrides,omitempty"`
	ScheduledAt       *time.Time        `json:"scheduledAt,omitempty"`
}

// ReplyWebhookRequest is posted by the inbound mail integration when a
// recipient answers a campaign email.
type ReplyWebhookRequest struct {
	CampaignID     string `json:"campaignId"     validate:"required"`
	RecipientEmail string `json:"recipientEmail" validate:"required,email"`
	MessageID      string `json:"messageId,omitempty"`
}
