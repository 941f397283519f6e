package models

import "time"

// HistoryEvent is the kind of a recipient history entry.
type HistoryEvent string

const (
	HistoryEventQueued    HistoryEvent = "queued"
	HistoryEventSent      HistoryEvent = "sent"
	HistoryEventWait      HistoryEvent = "wait"
	HistoryEventReplied   HistoryEvent = "replied"
	HistoryEventSkipped   HistoryEvent = "skipped"
	HistoryEventError     HistoryEvent = "error"
	HistoryEventCompleted HistoryEvent = "completed"
)

// HistoryEntry is an append-only record of what happened when a recipient
// visited a node.
type HistoryEntry struct {
	NodeID    string         `json:"nodeId"`
	Event     HistoryEvent   `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// RecipientState is the persisted progress marker for one recipient within
// one campaign, keyed uniquely by (CampaignID, RecipientEmail). It is created
// when the campaign starts and mutated exclusively by the node executor, with
// the exception of reply detection which is flipped by the reply webhook.
type RecipientState struct {
	CampaignID     string         `json:"campaignId"      validate:"required"`
	RecipientEmail string         `json:"recipientEmail"  validate:"required,email"`
	CurrentNodeID  string         `json:"currentNodeId"`
	ReplyDetected  bool           `json:"replyDetected"`
	LastMessageID  string         `json:"lastMessageId,omitempty"`
	History        []HistoryEntry `json:"history"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// AppendHistory adds an entry stamped with the current time.
func (s *RecipientState) AppendHistory(nodeID string, event HistoryEvent, details map[string]any) {
	s.History = append(s.History, HistoryEntry{
		NodeID:    nodeID,
		Event:     event,
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
}

// ContinuationJob is the unit of work the job queue transports: advance one
// recipient of one campaign to one node.
type ContinuationJob struct {
	CampaignID     string `json:"campaignId"     validate:"required"`
	RecipientEmail string `json:"recipientEmail" validate:"required"`
	NodeID         string `json:"nodeId"         validate:"required"`
}
