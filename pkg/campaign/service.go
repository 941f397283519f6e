// Package campaign implements the campaign lifecycle: creation, start and
// seeding, pause/resume, deletion, engagement tracking and stats.
package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/mailflow/pkg/eventbus"
	"github.com/dukex/mailflow/pkg/events"
	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/dukex/mailflow/pkg/queue"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Service owns campaign state transitions. The executor only ever reads
// campaigns; every write path goes through here or the tracking endpoints.
type Service struct {
	persistence persistence.Persistence
	queue       queue.JobQueue
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewService(
	logger *slog.Logger,
	persistence persistence.Persistence,
	jobQueue queue.JobQueue,
	publisher eventbus.EventPublisher,
) *Service {
	return &Service{
		persistence: persistence,
		queue:       jobQueue,
		publisher:   publisher,
		validator:   validator.New(),
		logger:      logger.With("module", "campaign_service"),
	}
}

var ErrInvalidTransition = fmt.Errorf("invalid campaign status transition")

// Create validates and stores a new campaign in draft status. The flow version
// is pinned at creation time: when the caller leaves it zero, the latest
// published version is captured so later flow edits cannot affect this
// campaign.
func (s *Service) Create(ctx context.Context, campaign *models.Campaign) error {
	err := s.validator.Struct(campaign)
	if err != nil {
		return fmt.Errorf("invalid campaign: %w", err)
	}

	f, err := s.persistence.Flows().GetByID(ctx, campaign.FlowID)
	if err != nil {
		return fmt.Errorf("failed to resolve flow %s: %w", campaign.FlowID, err)
	}

	if f.Status != models.FlowStatusPublished {
		return fmt.Errorf("flow %s version %d is not published", f.ID, f.Version)
	}

	if campaign.FlowVersion == 0 {
		campaign.FlowVersion = f.Version
	}

	audience, err := s.persistence.Audiences().GetByID(ctx, campaign.AudienceID)
	if err != nil {
		return fmt.Errorf("failed to resolve audience %s: %w", campaign.AudienceID, err)
	}

	if campaign.ID == "" {
		campaign.ID = uuid.New().String()
	}

	campaign.Status = models.CampaignStatusDraft
	if campaign.ScheduledAt != nil {
		campaign.Status = models.CampaignStatusScheduled
	}

	campaign.Stats = models.CampaignStats{
		Total:       len(audience.Recipients),
		LastUpdated: time.Now().UTC(),
	}

	err = s.persistence.Campaigns().Create(ctx, campaign)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.InfoContext(ctx, "Campaign created",
		"campaign_id", campaign.ID, "flow_id", campaign.FlowID, "flow_version", campaign.FlowVersion)

	return nil
}

// Start transitions a draft or scheduled campaign to running and seeds one
// recipient state plus one start-node job per audience member. Seeding uses
// upsert-if-absent, so starting twice never resets recipient progress; the
// extra jobs are harmless because the executor re-reads state on delivery.
func (s *Service) Start(ctx context.Context, campaignID string) error {
	campaign, err := s.persistence.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return fmt.Errorf("%w: cannot start campaign in status %s", ErrInvalidTransition, campaign.Status)
	}

	f, err := s.persistence.Flows().GetByIDAndVersion(ctx, campaign.FlowID, campaign.FlowVersion)
	if err != nil {
		return fmt.Errorf("failed to load flow %s version %d: %w", campaign.FlowID, campaign.FlowVersion, err)
	}

	audience, err := s.persistence.Audiences().GetByID(ctx, campaign.AudienceID)
	if err != nil {
		return fmt.Errorf("failed to load audience %s: %w", campaign.AudienceID, err)
	}

	now := time.Now().UTC()
	campaign.Status = models.CampaignStatusRunning
	campaign.StartedAt = &now

	err = s.persistence.Campaigns().Update(ctx, campaign)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	for _, recipient := range audience.Recipients {
		state := &models.RecipientState{
			CampaignID:     campaign.ID,
			RecipientEmail: recipient.Email,
			CurrentNodeID:  f.StartNodeID,
		}
		state.AppendHistory(f.StartNodeID, models.HistoryEventQueued, nil)

		err = s.persistence.RecipientStates().UpsertIfAbsent(ctx, state)
		if err != nil {
			return fmt.Errorf("failed to seed state for %s: %w", recipient.Email, err)
		}

		err = s.queue.Enqueue(ctx, models.ContinuationJob{
			CampaignID:     campaign.ID,
			RecipientEmail: recipient.Email,
			NodeID:         f.StartNodeID,
		}, 0)
		if err != nil {
			return fmt.Errorf("failed to enqueue job for %s: %w", recipient.Email, err)
		}
	}

	started := events.CampaignStarted{
		BaseEvent:      events.NewBaseEvent(events.CampaignStartedEvent, campaign.ID),
		FlowID:         campaign.FlowID,
		FlowVersion:    campaign.FlowVersion,
		RecipientCount: len(audience.Recipients),
	}
	s.notify(ctx, campaign.ID, started)

	s.logger.InfoContext(ctx, "Campaign started",
		"campaign_id", campaign.ID, "recipients", len(audience.Recipients))

	return nil
}

// Pause stops a running campaign. In-flight jobs are not drained; the executor
// reschedules them until the campaign runs again.
func (s *Service) Pause(ctx context.Context, campaignID string) error {
	campaign, err := s.persistence.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	if campaign.Status != models.CampaignStatusRunning {
		return fmt.Errorf("%w: cannot pause campaign in status %s", ErrInvalidTransition, campaign.Status)
	}

	err = s.persistence.Campaigns().UpdateStatus(ctx, campaignID, models.CampaignStatusPaused)
	if err != nil {
		return err
	}

	s.notify(ctx, campaignID, events.CampaignPaused{
		BaseEvent: events.NewBaseEvent(events.CampaignPausedEvent, campaignID),
	})

	s.logger.InfoContext(ctx, "Campaign paused", "campaign_id", campaignID)

	return nil
}

// Resume puts a paused campaign back to running. No jobs are enqueued; the
// circulating rescheduled jobs pick the recipients up within one recheck
// interval.
func (s *Service) Resume(ctx context.Context, campaignID string) error {
	campaign, err := s.persistence.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	if campaign.Status != models.CampaignStatusPaused {
		return fmt.Errorf("%w: cannot resume campaign in status %s", ErrInvalidTransition, campaign.Status)
	}

	err = s.persistence.Campaigns().UpdateStatus(ctx, campaignID, models.CampaignStatusRunning)
	if err != nil {
		return err
	}

	s.notify(ctx, campaignID, events.CampaignResumed{
		BaseEvent: events.NewBaseEvent(events.CampaignResumedEvent, campaignID),
	})

	s.logger.InfoContext(ctx, "Campaign resumed", "campaign_id", campaignID)

	return nil
}

// Delete removes a campaign and cascades to its recipient states and email
// events. Jobs still referencing the campaign become no-ops on delivery.
func (s *Service) Delete(ctx context.Context, campaignID string) error {
	_, err := s.persistence.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	err = s.persistence.RecipientStates().DeleteByCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to delete recipient states: %w", err)
	}

	err = s.persistence.EmailEvents().DeleteByCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to delete email events: %w", err)
	}

	err = s.persistence.Campaigns().Delete(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	s.notify(ctx, campaignID, events.CampaignDeleted{
		BaseEvent: events.NewBaseEvent(events.CampaignDeletedEvent, campaignID),
	})

	s.logger.InfoContext(ctx, "Campaign deleted", "campaign_id", campaignID)

	return nil
}

// TrackOpen records a tracking pixel hit. Only the first open per recipient
// counts toward the opened counter; later hits are logged but do not move the
// stats.
func (s *Service) TrackOpen(ctx context.Context, campaignID, recipientEmail string) error {
	campaign, err := s.persistence.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	opened, err := s.persistence.EmailEvents().HasOpenEvent(ctx, campaignID, recipientEmail)
	if err != nil {
		return fmt.Errorf("failed to check open events: %w", err)
	}

	err = s.persistence.EmailEvents().Append(ctx, &models.EmailEvent{
		CampaignID:     campaignID,
		RecipientEmail: recipientEmail,
		Type:           models.EmailEventOpened,
	})
	if err != nil {
		return fmt.Errorf("failed to append open event: %w", err)
	}

	if !opened {
		err = s.persistence.Campaigns().IncrementStats(ctx, campaignID, models.StatsDelta{Opened: 1})
		if err != nil {
			return fmt.Errorf("failed to increment opened counter: %w", err)
		}

		err = s.refreshRates(ctx, campaignID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to refresh rates", "campaign_id", campaignID, "error", err)
		}
	}

	openedEvent := events.EmailOpened{
		BaseEvent:      events.NewBaseEvent(events.EmailOpenedEvent, campaign.ID),
		RecipientEmail: recipientEmail,
		FirstOpen:      !opened,
	}
	s.notify(ctx, campaignID, openedEvent)

	s.logger.InfoContext(ctx, "Open tracked",
		"campaign_id", campaignID, "recipient", recipientEmail, "first_open", !opened)

	return nil
}

// TrackReply records an inbound reply for a recipient. The reply flag is
// flipped atomically; the next condition node the recipient reaches takes the
// replied branch. Repeated replies from the same recipient are idempotent.
func (s *Service) TrackReply(ctx context.Context, campaignID, recipientEmail, messageID string) error {
	state, err := s.persistence.RecipientStates().Find(ctx, campaignID, recipientEmail)
	if err != nil {
		return err
	}

	if state.ReplyDetected {
		s.logger.InfoContext(ctx, "Reply already recorded",
			"campaign_id", campaignID, "recipient", recipientEmail)

		return nil
	}

	entry := models.HistoryEntry{
		NodeID:    state.CurrentNodeID,
		Event:     models.HistoryEventReplied,
		Timestamp: time.Now().UTC(),
	}
	if messageID != "" {
		entry.Details = map[string]any{"messageId": messageID}
	}

	err = s.persistence.RecipientStates().MarkReplied(ctx, campaignID, recipientEmail, entry)
	if err != nil {
		return fmt.Errorf("failed to mark reply: %w", err)
	}

	err = s.persistence.EmailEvents().Append(ctx, &models.EmailEvent{
		CampaignID:     campaignID,
		RecipientEmail: recipientEmail,
		Type:           models.EmailEventReplied,
		MessageID:      messageID,
	})
	if err != nil {
		return fmt.Errorf("failed to append reply event: %w", err)
	}

	err = s.persistence.Campaigns().IncrementStats(ctx, campaignID, models.StatsDelta{Replied: 1})
	if err != nil {
		return fmt.Errorf("failed to increment replied counter: %w", err)
	}

	err = s.refreshRates(ctx, campaignID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to refresh rates", "campaign_id", campaignID, "error", err)
	}

	replied := events.EmailReplied{
		BaseEvent:      events.NewBaseEvent(events.EmailRepliedEvent, campaignID),
		RecipientEmail: recipientEmail,
		MessageID:      messageID,
	}
	s.notify(ctx, campaignID, replied)

	s.logger.InfoContext(ctx, "Reply tracked", "campaign_id", campaignID, "recipient", recipientEmail)

	return nil
}

// RebuildStats re-derives campaign counters from the email event log and
// overwrites the incrementally maintained ones. Opened and replied counts come
// out deduplicated per recipient through the tracking endpoints, so totals can
// shrink when duplicate increments had crept in.
func (s *Service) RebuildStats(ctx context.Context, campaignID string) (*models.CampaignStats, error) {
	campaign, err := s.persistence.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	counts, err := s.persistence.EmailEvents().CountByType(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate email events: %w", err)
	}

	states, err := s.persistence.RecipientStates().ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipient states: %w", err)
	}

	replied := 0

	for _, state := range states {
		if state.ReplyDetected {
			replied++
		}
	}

	stats := campaign.Stats
	stats.Sent = counts[models.EmailEventSent]
	// Delivered moves in lockstep with Sent; there is no separate event kind.
	stats.Delivered = counts[models.EmailEventSent]
	stats.Bounced = counts[models.EmailEventBounced]
	stats.Errors = counts[models.EmailEventError]
	stats.Replied = replied
	stats.Opened = s.distinctOpens(ctx, campaignID, states)
	stats.OpenRate = rate(stats.Opened, stats.Sent)
	stats.ResponseRate = rate(stats.Replied, stats.Sent)
	stats.LastUpdated = time.Now().UTC()

	err = s.persistence.Campaigns().UpdateStats(ctx, campaignID, stats)
	if err != nil {
		return nil, fmt.Errorf("failed to store rebuilt stats: %w", err)
	}

	s.logger.InfoContext(ctx, "Stats rebuilt", "campaign_id", campaignID,
		"sent", stats.Sent, "opened", stats.Opened, "replied", stats.Replied)

	return &stats, nil
}

func (s *Service) distinctOpens(ctx context.Context, campaignID string, states []*models.RecipientState) int {
	opens := 0

	for _, state := range states {
		opened, err := s.persistence.EmailEvents().HasOpenEvent(ctx, campaignID, state.RecipientEmail)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to check open events",
				"campaign_id", campaignID, "recipient", state.RecipientEmail, "error", err)

			continue
		}

		if opened {
			opens++
		}
	}

	return opens
}

// StartDue starts every scheduled campaign whose scheduled time has passed.
// Returns how many campaigns were started; individual failures are logged and
// do not stop the sweep.
func (s *Service) StartDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.persistence.Campaigns().ListScheduledDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due campaigns: %w", err)
	}

	started := 0

	for _, campaign := range due {
		err = s.Start(ctx, campaign.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to start due campaign",
				"campaign_id", campaign.ID, "error", err)

			continue
		}

		started++
	}

	return started, nil
}

func (s *Service) refreshRates(ctx context.Context, campaignID string) error {
	campaign, err := s.persistence.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	return s.persistence.Campaigns().UpdateRates(ctx, campaignID,
		rate(campaign.Stats.Opened, campaign.Stats.Sent),
		rate(campaign.Stats.Replied, campaign.Stats.Sent))
}

func rate(part, total int) float64 {
	if total <= 0 {
		return 0
	}

	return float64(part) / float64(total)
}

func (s *Service) notify(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.Publish(ctx, key, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
