// Package executor advances recipients through automation flows, one
// continuation job at a time. Each job names a (campaign, recipient, node)
// triple; processing the job performs the node's side effect and schedules
// the follow-up job, so a recipient's journey is a chain of jobs rather than
// a long-lived process.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/mailflow/pkg/eventbus"
	"github.com/dukex/mailflow/pkg/events"
	"github.com/dukex/mailflow/pkg/flow"
	"github.com/dukex/mailflow/pkg/mail"
	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/dukex/mailflow/pkg/queue"
	"github.com/dukex/mailflow/pkg/template"
	"github.com/google/uuid"
)

// pauseRecheck is how long a job sleeps before re-checking a campaign that is
// not currently running. Paused campaigns keep their jobs circulating at this
// cadence instead of being drained, so resuming needs no re-seeding.
const pauseRecheck = 60 * time.Second

// Executor processes continuation jobs. It is safe for concurrent use; all
// mutable state lives in persistence.
type Executor struct {
	workerID        string
	persistence     persistence.Persistence
	queue           queue.JobQueue
	sender          mail.Sender
	publisher       eventbus.EventPublisher
	trackingBaseURL string
	logger          *slog.Logger
}

func NewExecutor(
	logger *slog.Logger,
	persistence persistence.Persistence,
	jobQueue queue.JobQueue,
	sender mail.Sender,
	publisher eventbus.EventPublisher,
	trackingBaseURL string,
) *Executor {
	workerID := "worker-" + uuid.New().String()[:8]

	return &Executor{
		workerID:        workerID,
		persistence:     persistence,
		queue:           jobQueue,
		sender:          sender,
		publisher:       publisher,
		trackingBaseURL: strings.TrimRight(trackingBaseURL, "/"),
		logger:          logger.With("module", "executor", "worker_id", workerID),
	}
}

// WorkerID returns the generated identity of this executor instance.
func (e *Executor) WorkerID() string {
	return e.workerID
}

// Process handles one continuation job. A nil return acknowledges the job;
// errors are returned only for transient infrastructure failures where
// redelivery can help. Jobs referencing vanished campaigns, recipients or
// nodes are dropped, not retried.
func (e *Executor) Process(ctx context.Context, job models.ContinuationJob) error {
	logger := e.logger.With(
		"campaign_id", job.CampaignID,
		"recipient", job.RecipientEmail,
		"node_id", job.NodeID,
	)

	campaign, err := e.persistence.Campaigns().GetByID(ctx, job.CampaignID)
	if err != nil {
		if persistence.IsCampaignNotFound(err) {
			logger.WarnContext(ctx, "Dropping job for deleted campaign")

			return nil
		}

		return fmt.Errorf("failed to load campaign: %w", err)
	}

	if !campaign.IsRunning() {
		logger.InfoContext(ctx, "Campaign not running, rescheduling job",
			"status", campaign.Status, "recheck_in", pauseRecheck)

		return e.queue.Enqueue(ctx, job, pauseRecheck)
	}

	state, err := e.persistence.RecipientStates().Find(ctx, job.CampaignID, job.RecipientEmail)
	if err != nil {
		if persistence.IsRecipientStateNotFound(err) {
			logger.WarnContext(ctx, "Dropping job for unknown recipient")

			return nil
		}

		return fmt.Errorf("failed to load recipient state: %w", err)
	}

	f, err := e.persistence.Flows().GetByIDAndVersion(ctx, campaign.FlowID, campaign.FlowVersion)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			logger.ErrorContext(ctx, "Dropping job, pinned flow version is gone",
				"flow_id", campaign.FlowID, "flow_version", campaign.FlowVersion)

			return nil
		}

		return fmt.Errorf("failed to load flow: %w", err)
	}

	node, ok := f.NodeByID(job.NodeID)
	if !ok {
		logger.ErrorContext(ctx, "Dropping job, node not in flow",
			"flow_id", f.ID, "flow_version", f.Version)

		return nil
	}

	state.CurrentNodeID = node.ID

	switch node.Type {
	case models.NodeTypeSendEmail:
		return e.executeSendEmail(ctx, logger, campaign, node, state)
	case models.NodeTypeWait:
		return e.executeWait(ctx, logger, node, state)
	case models.NodeTypeCondition:
		return e.executeCondition(ctx, logger, campaign, node, state)
	case models.NodeTypeEnd:
		return e.completeRecipient(ctx, logger, campaign.ID, node.ID, state)
	default:
		logger.ErrorContext(ctx, "Dropping job, unknown node type", "type", node.Type)

		return nil
	}
}

func (e *Executor) executeSendEmail(
	ctx context.Context,
	logger *slog.Logger,
	campaign *models.Campaign,
	node *models.Node,
	state *models.RecipientState,
) error {
	content, err := e.resolveContent(ctx, campaign, node)
	if err != nil {
		return e.haltRecipient(ctx, logger, campaign.ID, node.ID, state, err)
	}

	vars, err := e.personalizationVars(ctx, campaign, state.RecipientEmail)
	if err != nil {
		return fmt.Errorf("failed to resolve personalization variables: %w", err)
	}

	rendered := template.Render(*content, vars)
	body := rendered.Body + e.trackingPixel(campaign.ID, state.RecipientEmail)

	messageID, err := e.sender.Send(ctx, mail.Message{
		FromName:  campaign.Name,
		FromEmail: campaign.Sender.FromEmail,
		To:        state.RecipientEmail,
		Subject:   rendered.Subject,
		HTMLBody:  body,
		ReplyTo:   campaign.Sender.ReplyTo,
	})
	if err != nil {
		return e.haltRecipient(ctx, logger, campaign.ID, node.ID, state, err)
	}

	state.LastMessageID = messageID
	state.AppendHistory(node.ID, models.HistoryEventSent, map[string]any{
		"messageId": messageID,
		"subject":   rendered.Subject,
	})

	err = e.persistence.RecipientStates().Update(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to update recipient state: %w", err)
	}

	err = e.persistence.Campaigns().IncrementStats(ctx, campaign.ID, models.StatsDelta{Sent: 1, Delivered: 1})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to increment sent counter", "error", err)
	}

	e.appendEvent(ctx, logger, &models.EmailEvent{
		CampaignID:     campaign.ID,
		RecipientEmail: state.RecipientEmail,
		Type:           models.EmailEventSent,
		MessageID:      messageID,
		Payload:        map[string]any{"nodeId": node.ID, "subject": rendered.Subject},
	})

	sent := events.EmailSent{
		BaseEvent:      events.NewBaseEvent(events.EmailSentEvent, campaign.ID),
		RecipientEmail: state.RecipientEmail,
		NodeID:         node.ID,
		MessageID:      messageID,
		Subject:        rendered.Subject,
	}
	sent.WorkerID = e.workerID
	e.notify(ctx, logger, campaign.ID, sent)
	e.notifyProgress(ctx, logger, campaign.ID, node.ID, state)

	logger.InfoContext(ctx, "Email sent", "message_id", messageID)

	return e.advance(ctx, logger, node, state, 0)
}

func (e *Executor) executeWait(
	ctx context.Context,
	logger *slog.Logger,
	node *models.Node,
	state *models.RecipientState,
) error {
	state.AppendHistory(node.ID, models.HistoryEventWait, map[string]any{
		"delayMs": node.DelayMs,
	})

	err := e.persistence.RecipientStates().Update(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to update recipient state: %w", err)
	}

	e.notifyProgress(ctx, logger, state.CampaignID, node.ID, state)

	logger.InfoContext(ctx, "Recipient waiting", "delay", node.Delay())

	return e.advance(ctx, logger, node, state, node.Delay())
}

func (e *Executor) executeCondition(
	ctx context.Context,
	logger *slog.Logger,
	campaign *models.Campaign,
	node *models.Node,
	state *models.RecipientState,
) error {
	event := models.HistoryEventSkipped
	if state.ReplyDetected {
		event = models.HistoryEventReplied
	}

	state.AppendHistory(node.ID, event, map[string]any{
		"replyDetected": state.ReplyDetected,
	})

	err := e.persistence.RecipientStates().Update(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to update recipient state: %w", err)
	}

	e.notifyProgress(ctx, logger, campaign.ID, node.ID, state)

	target, ok := flow.BranchTarget(node, state.ReplyDetected)
	if !ok {
		// Only an end node records a "completed" entry; a missing branch
		// just stops scheduling.
		logger.InfoContext(ctx, "Condition branch absent, nothing scheduled",
			"reply_detected", state.ReplyDetected)

		return nil
	}

	logger.InfoContext(ctx, "Condition evaluated",
		"reply_detected", state.ReplyDetected, "target", target)

	return e.enqueueNext(ctx, state, target, 0)
}

// advance fans out one continuation job per outgoing edge. Nodes without
// edges schedule nothing and the recipient's journey quietly stops there.
func (e *Executor) advance(
	ctx context.Context,
	logger *slog.Logger,
	node *models.Node,
	state *models.RecipientState,
	delay time.Duration,
) error {
	if len(node.Next) == 0 {
		logger.InfoContext(ctx, "No outgoing edges, nothing scheduled")

		return nil
	}

	for _, edge := range node.Next {
		err := e.enqueueNext(ctx, state, edge.To, delay)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Executor) enqueueNext(ctx context.Context, state *models.RecipientState, nodeID string, delay time.Duration) error {
	return e.queue.Enqueue(ctx, models.ContinuationJob{
		CampaignID:     state.CampaignID,
		RecipientEmail: state.RecipientEmail,
		NodeID:         nodeID,
	}, delay)
}

func (e *Executor) completeRecipient(
	ctx context.Context,
	logger *slog.Logger,
	campaignID, nodeID string,
	state *models.RecipientState,
) error {
	state.AppendHistory(nodeID, models.HistoryEventCompleted, nil)

	err := e.persistence.RecipientStates().Update(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to update recipient state: %w", err)
	}

	completed := events.RecipientCompleted{
		BaseEvent:      events.NewBaseEvent(events.RecipientCompletedEvent, campaignID),
		RecipientEmail: state.RecipientEmail,
		FinalNodeID:    nodeID,
	}
	completed.WorkerID = e.workerID
	e.notify(ctx, logger, campaignID, completed)

	logger.InfoContext(ctx, "Recipient completed flow", "final_node_id", nodeID)

	return nil
}

// haltRecipient records a permanent failure and stops the recipient's journey.
// Send failures are not retried: the message may have left the relay despite
// the error, and duplicate sends are worse than missed ones.
func (e *Executor) haltRecipient(
	ctx context.Context,
	logger *slog.Logger,
	campaignID, nodeID string,
	state *models.RecipientState,
	cause error,
) error {
	state.AppendHistory(nodeID, models.HistoryEventError, map[string]any{
		"error": cause.Error(),
	})

	err := e.persistence.RecipientStates().Update(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to update recipient state: %w", err)
	}

	err = e.persistence.Campaigns().IncrementStats(ctx, campaignID, models.StatsDelta{Errors: 1})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to increment error counter", "error", err)
	}

	e.appendEvent(ctx, logger, &models.EmailEvent{
		CampaignID:     campaignID,
		RecipientEmail: state.RecipientEmail,
		Type:           models.EmailEventError,
		Payload:        map[string]any{"nodeId": nodeID, "error": cause.Error()},
	})

	failed := events.RecipientFailed{
		BaseEvent:      events.NewBaseEvent(events.RecipientFailedEvent, campaignID),
		RecipientEmail: state.RecipientEmail,
		NodeID:         nodeID,
		Error:          cause.Error(),
	}
	failed.WorkerID = e.workerID
	e.notify(ctx, logger, campaignID, failed)

	logger.ErrorContext(ctx, "Recipient halted", "error", cause)

	return nil
}

// resolveContent picks the email content for a send node: campaign-level
// template overrides win, then the node's bound template, then its inline
// content.
func (e *Executor) resolveContent(ctx context.Context, campaign *models.Campaign, node *models.Node) (*models.EmailContent, error) {
	templateID := node.TemplateID
	if override, ok := campaign.TemplateOverrides[node.ID]; ok && override != "" {
		templateID = override
	}

	if templateID != "" {
		tpl, err := e.persistence.Templates().GetByID(ctx, templateID)
		if err != nil {
			return nil, fmt.Errorf("failed to load template %s for node %s: %w", templateID, node.ID, err)
		}

		return &models.EmailContent{Subject: tpl.Subject, Body: tpl.Body}, nil
	}

	if node.Template != nil {
		return node.Template, nil
	}

	return nil, fmt.Errorf("send node %s has no template", node.ID)
}

func (e *Executor) personalizationVars(ctx context.Context, campaign *models.Campaign, recipientEmail string) (map[string]any, error) {
	vars := map[string]any{"email": recipientEmail}

	audience, err := e.persistence.Audiences().GetByID(ctx, campaign.AudienceID)
	if err != nil {
		if persistence.IsAudienceNotFound(err) {
			return vars, nil
		}

		return nil, err
	}

	for _, recipient := range audience.Recipients {
		if recipient.Email == recipientEmail {
			vars["name"] = recipient.Name

			break
		}
	}

	return vars, nil
}

// trackingPixel builds the invisible open-tracking image appended to every
// outgoing body. The recipient address is query-escaped into the path so the
// tracking endpoint can recover it verbatim.
func (e *Executor) trackingPixel(campaignID, recipientEmail string) string {
	src := fmt.Sprintf("%s/api/campaigns/track/open/%s/%s",
		e.trackingBaseURL, campaignID, url.QueryEscape(recipientEmail))

	return fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" alt="">`, src)
}

// appendEvent writes to the email event log best-effort; the log is an audit
// trail, not the source of truth for flow progress.
func (e *Executor) appendEvent(ctx context.Context, logger *slog.Logger, event *models.EmailEvent) {
	err := e.persistence.EmailEvents().Append(ctx, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to append email event", "error", err)
	}
}

// notifyProgress publishes the campaign-updated notification fired by every
// branch that moves a recipient forward, after the state update has been
// persisted.
func (e *Executor) notifyProgress(
	ctx context.Context,
	logger *slog.Logger,
	campaignID, nodeID string,
	state *models.RecipientState,
) {
	updated := events.CampaignUpdated{
		BaseEvent:      events.NewBaseEvent(events.CampaignUpdatedEvent, campaignID),
		RecipientEmail: state.RecipientEmail,
		NodeID:         nodeID,
	}
	updated.WorkerID = e.workerID
	e.notify(ctx, logger, campaignID, updated)
}

// notify publishes a notification event best-effort. A nil publisher disables
// notifications entirely.
func (e *Executor) notify(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
