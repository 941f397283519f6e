// Package events defines event types and structures for campaign lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the single stream all campaign events are published to.
const Topic = "mailflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Campaign lifecycle events.
	CampaignStartedEvent   EventType = "campaign.started"
	CampaignPausedEvent    EventType = "campaign.paused"
	CampaignResumedEvent   EventType = "campaign.resumed"
	CampaignCompletedEvent EventType = "campaign.completed"
	CampaignDeletedEvent   EventType = "campaign.deleted"
	CampaignUpdatedEvent   EventType = "campaign.updated"

	// Per-recipient delivery events.
	EmailSentEvent    EventType = "email.sent"
	EmailOpenedEvent  EventType = "email.opened"
	EmailRepliedEvent EventType = "email.replied"

	RecipientCompletedEvent EventType = "recipient.completed"
	RecipientFailedEvent    EventType = "recipient.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	CampaignID string         `json:"campaign_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type CampaignStarted struct {
	BaseEvent

	FlowID         string `json:"flow_id"`
	FlowVersion    int    `json:"flow_version"`
	RecipientCount int    `json:"recipient_count"`
}

func (c CampaignStarted) GetType() EventType {
	return CampaignStartedEvent
}

type CampaignPaused struct {
	BaseEvent
}

func (c CampaignPaused) GetType() EventType {
	return CampaignPausedEvent
}

type CampaignResumed struct {
	BaseEvent
}

func (c CampaignResumed) GetType() EventType {
	return CampaignResumedEvent
}

type CampaignCompleted struct {
	BaseEvent

	Sent    int `json:"sent"`
	Opened  int `json:"opened"`
	Replied int `json:"replied"`
}

func (c CampaignCompleted) GetType() EventType {
	return CampaignCompletedEvent
}

type CampaignDeleted struct {
	BaseEvent
}

func (c CampaignDeleted) GetType() EventType {
	return CampaignDeletedEvent
}

// CampaignUpdated signals that a recipient progressed through a node, so
// campaign-level views (stats, dashboards) should refresh.
type CampaignUpdated struct {
	BaseEvent

	RecipientEmail string `json:"recipient_email"`
	NodeID         string `json:"node_id"`
}

func (c CampaignUpdated) GetType() EventType {
	return CampaignUpdatedEvent
}

// Per-recipient delivery events

type EmailSent struct {
	BaseEvent

	RecipientEmail string `json:"recipient_email"`
	NodeID         string `json:"node_id"`
	MessageID      string `json:"message_id"`
	Subject        string `json:"subject"`
}

func (e EmailSent) GetType() EventType {
	return EmailSentEvent
}

type EmailOpened struct {
	BaseEvent

	RecipientEmail string `json:"recipient_email"`
	FirstOpen      bool   `json:"first_open"`
}

func (e EmailOpened) GetType() EventType {
	return EmailOpenedEvent
}

type EmailReplied struct {
	BaseEvent

	RecipientEmail string `json:"recipient_email"`
	MessageID      string `json:"message_id,omitempty"`
}

func (e EmailReplied) GetType() EventType {
	return EmailRepliedEvent
}

type RecipientCompleted struct {
	BaseEvent

	RecipientEmail string `json:"recipient_email"`
	FinalNodeID    string `json:"final_node_id"`
}

func (r RecipientCompleted) GetType() EventType {
	return RecipientCompletedEvent
}

type RecipientFailed struct {
	BaseEvent

	RecipientEmail string `json:"recipient_email"`
	NodeID         string `json:"node_id"`
	Error          string `json:"error"`
}

func (r RecipientFailed) GetType() EventType {
	return RecipientFailedEvent
}

func NewBaseEvent(eventType EventType, campaignID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CampaignID: campaignID,
		Metadata:   make(map[string]any),
	}
}
