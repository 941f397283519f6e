package campaign

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/mailflow/pkg/mocks"
	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/dukex/mailflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func seedFlow(t *testing.T, p persistence.Persistence) {
	t.Helper()

	require.NoError(t, p.Flows().Save(context.Background(), &models.Flow{
		ID:          "flow-1",
		Name:        "Welcome sequence",
		Version:     1,
		Status:      models.FlowStatusPublished,
		StartNodeID: "A",
		Nodes: []models.Node{
			{ID: "A", Type: models.NodeTypeSendEmail, Template: &models.EmailContent{
				Subject: "Hi", Body: "<p>Hi</p>",
			}, Next: []models.Edge{{To: "B"}}},
			{ID: "B", Type: models.NodeTypeEnd},
		},
	}))
}

func seedAudience(t *testing.T, p persistence.Persistence) {
	t.Helper()

	require.NoError(t, p.Audiences().Save(context.Background(), &models.Audience{
		ID:   "aud-1",
		Name: "Leads",
		Recipients: []models.Recipient{
			{Email: "ana@example.com", Name: "Ana"},
			{Email: "bob@example.com", Name: "Bob"},
		},
	}))
}

func seedCampaign(t *testing.T, p persistence.Persistence, status models.CampaignStatus) {
	t.Helper()

	require.NoError(t, p.Campaigns().Create(context.Background(), &models.Campaign{
		ID:          "camp-1",
		Name:        "Launch",
		FlowID:      "flow-1",
		FlowVersion: 1,
		AudienceID:  "aud-1",
		Status:      status,
		Sender:      models.Sender{FromEmail: "hello@mailflow.dev"},
	}))
}

func newService(t *testing.T) (*Service, persistence.Persistence, *mocks.MockJobQueue) {
	t.Helper()

	p := memory.NewPersistence()
	seedFlow(t, p)
	seedAudience(t, p)

	q := &mocks.MockJobQueue{}

	return NewService(slog.Default(), p, q, nil), p, q
}

func TestCreatePinsFlowVersionAndTotal(t *testing.T) {
	service, p, _ := newService(t)
	ctx := context.Background()

	created := &models.Campaign{
		Name:       "Launch",
		FlowID:     "flow-1",
		AudienceID: "aud-1",
		Sender:     models.Sender{FromEmail: "hello@mailflow.dev"},
	}

	require.NoError(t, service.Create(ctx, created))

	stored, err := p.Campaigns().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusDraft, stored.Status)
	assert.Equal(t, 1, stored.FlowVersion)
	assert.Equal(t, 2, stored.Stats.Total)
}

func TestCreateRejectsUnpublishedFlow(t *testing.T) {
	service, p, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, p.Flows().Save(ctx, &models.Flow{
		ID: "draft-flow", Name: "Draft only", Version: 1,
		Status: models.FlowStatusDraft, StartNodeID: "A",
		Nodes: []models.Node{{ID: "A", Type: models.NodeTypeEnd}},
	}))

	err := service.Create(ctx, &models.Campaign{
		Name:       "Launch",
		FlowID:     "draft-flow",
		AudienceID: "aud-1",
		Sender:     models.Sender{FromEmail: "hello@mailflow.dev"},
	})
	assert.ErrorContains(t, err, "not published")
}

func TestStartSeedsRecipientsAndJobs(t *testing.T) {
	service, p, q := newService(t)
	ctx := context.Background()

	seedCampaign(t, p, models.CampaignStatusDraft)

	q.On("Enqueue", mock.Anything, mock.AnythingOfType("models.ContinuationJob"), time.Duration(0)).
		Return(nil)

	require.NoError(t, service.Start(ctx, "camp-1"))

	campaign, err := p.Campaigns().GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, campaign.Status)
	require.NotNil(t, campaign.StartedAt)

	states, err := p.RecipientStates().ListByCampaign(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, states, 2)

	for _, state := range states {
		assert.Equal(t, "A", state.CurrentNodeID)
		require.Len(t, state.History, 1)
		assert.Equal(t, models.HistoryEventQueued, state.History[0].Event)
	}

	q.AssertNumberOfCalls(t, "Enqueue", 2)
}

func TestStartDoesNotResetExistingProgress(t *testing.T) {
	service, p, q := newService(t)
	ctx := context.Background()

	seedCampaign(t, p, models.CampaignStatusDraft)

	// Ana already advanced to node B before a restart.
	progressed := &models.RecipientState{
		CampaignID:     "camp-1",
		RecipientEmail: "ana@example.com",
		CurrentNodeID:  "B",
	}
	progressed.AppendHistory("A", models.HistoryEventSent, nil)
	require.NoError(t, p.RecipientStates().UpsertIfAbsent(ctx, progressed))

	q.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, service.Start(ctx, "camp-1"))

	state, err := p.RecipientStates().Find(ctx, "camp-1", "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "B", state.CurrentNodeID)
	assert.Equal(t, models.HistoryEventSent, state.History[0].Event)
}

func TestStartRejectsRunningCampaign(t *testing.T) {
	service, p, _ := newService(t)

	seedCampaign(t, p, models.CampaignStatusRunning)

	err := service.Start(context.Background(), "camp-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPauseAndResume(t *testing.T) {
	service, p, _ := newService(t)
	ctx := context.Background()

	seedCampaign(t, p, models.CampaignStatusRunning)

	require.NoError(t, service.Pause(ctx, "camp-1"))

	campaign, err := p.Campaigns().GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusPaused, campaign.Status)

	require.NoError(t, service.Resume(ctx, "camp-1"))

	campaign, err = p.Campaigns().GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, campaign.Status)

	// Resuming a running campaign is a conflict.
	assert.ErrorIs(t, service.Resume(ctx, "camp-1"), ErrInvalidTransition)
}

func TestDeleteCascades(t *testing.T) {
	service, p, _ := newService(t)
	ctx := context.Background()

	seedCampaign(t, p, models.CampaignStatusRunning)

	require.NoError(t, p.RecipientStates().UpsertIfAbsent(ctx, &models.RecipientState{
		CampaignID: "camp-1", RecipientEmail: "ana@example.com", CurrentNodeID: "A",
	}))
	require.NoError(t, p.EmailEvents().Append(ctx, &models.EmailEvent{
		CampaignID: "camp-1", RecipientEmail: "ana@example.com", Type: models.EmailEventSent,
	}))

	require.NoError(t, service.Delete(ctx, "camp-1"))

	_, err := p.Campaigns().GetByID(ctx, "camp-1")
	assert.True(t, persistence.IsCampaignNotFound(err))

	states, err := p.RecipientStates().ListByCampaign(ctx, "camp-1")
	require.NoError(t, err)
	assert.Empty(t, states)

	eventLog, err := p.EmailEvents().ListByCampaign(ctx, "camp-1", 10)
	require.NoError(t, err)
	assert.Empty(t, eventLog)
}

func TestTrackOpenDeduplicates(t *testing.T) {
	service, p, _ := newService(t)
	ctx := context.Background()

	seedCampaign(t, p, models.CampaignStatusRunning)
	require.NoError(t, p.Campaigns().IncrementStats(ctx, "camp-1", models.StatsDelta{Sent: 2}))

	require.NoError(t, service.TrackOpen(ctx, "camp-1", "ana@example.com"))
	require.NoError(t, service.TrackOpen(ctx, "camp-1", "ana@example.com"))

	campaign, err := p.Campaigns().GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, campaign.Stats.Opened)
	assert.InDelta(t, 0.5, campaign.Stats.OpenRate, 1e-9)

	// Both hits land in the log even though only one counts.
	eventLog, err := p.EmailEvents().ListByCampaign(ctx, "camp-1", 10)
	require.NoError(t, err)
	assert.Len(t, eventLog, 2)
}

func TestTrackOpenDistinctRecipients(t *testing.T) {
	service, p, _ := newService(t)
	ctx := context.Background()

	seedCampaign(t, p, models.CampaignStatusRunning)
	require.NoError(t, p.Campaigns().IncrementStats(ctx, "camp-1", models.StatsDelta{Sent: 2}))

	require.NoError(t, service.TrackOpen(ctx, "camp-1", "ana@example.com"))
	require.NoError(t, service.TrackOpen(ctx, "camp-1", "bob@example.com"))

	campaign, err := p.Campaigns().GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, campaign.Stats.Opened)
	assert.InDelta(t, 1.0, campaign.Stats.OpenRate, 1e-9)
}

func TestTrackReplyFlipsFlagOnce(t *testing.T) {
	service, p, _ := newService(t)
	ctx := context.Background()

	seedCampaign(t, p, models.CampaignStatusRunning)
	require.NoError(t, p.Campaigns().IncrementStats(ctx, "camp-1", models.StatsDelta{Sent: 2}))
	require.NoError(t, p.RecipientStates().UpsertIfAbsent(ctx, &models.RecipientState{
		CampaignID: "camp-1", RecipientEmail: "ana@example.com", CurrentNodeID: "A",
	}))

	require.NoError(t, service.TrackReply(ctx, "camp-1", "ana@example.com", "msg-1"))
	require.NoError(t, service.TrackReply(ctx, "camp-1", "ana@example.com", "msg-2"))

	state, err := p.RecipientStates().Find(ctx, "camp-1", "ana@example.com")
	require.NoError(t, err)
	assert.True(t, state.ReplyDetected)

	campaign, err := p.Campaigns().GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, campaign.Stats.Replied)
	assert.InDelta(t, 0.5, campaign.Stats.ResponseRate, 1e-9)
}

func TestTrackReplyUnknownRecipient(t *testing.T) {
	service, p, _ := newService(t)

	seedCampaign(t, p, models.CampaignStatusRunning)

	err := service.TrackReply(context.Background(), "camp-1", "ghost@example.com", "")
	assert.True(t, persistence.IsRecipientStateNotFound(err))
}

func TestRebuildStats(t *testing.T) {
	service, p, _ := newService(t)
	ctx := context.Background()

	seedCampaign(t, p, models.CampaignStatusRunning)

	// Drifted counters: sent was double-counted at some point.
	require.NoError(t, p.Campaigns().IncrementStats(ctx, "camp-1", models.StatsDelta{Sent: 5, Delivered: 5}))

	for _, email := range []string{"ana@example.com", "bob@example.com"} {
		require.NoError(t, p.RecipientStates().UpsertIfAbsent(ctx, &models.RecipientState{
			CampaignID: "camp-1", RecipientEmail: email, CurrentNodeID: "A",
		}))
		require.NoError(t, p.EmailEvents().Append(ctx, &models.EmailEvent{
			CampaignID: "camp-1", RecipientEmail: email, Type: models.EmailEventSent,
		}))
	}

	require.NoError(t, p.EmailEvents().Append(ctx, &models.EmailEvent{
		CampaignID: "camp-1", RecipientEmail: "ana@example.com", Type: models.EmailEventOpened,
	}))
	require.NoError(t, p.RecipientStates().MarkReplied(ctx, "camp-1", "ana@example.com",
		models.HistoryEntry{NodeID: "A", Event: models.HistoryEventReplied, Timestamp: time.Now().UTC()}))

	stats, err := service.RebuildStats(ctx, "camp-1")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 2, stats.Delivered)
	assert.Equal(t, 1, stats.Opened)
	assert.Equal(t, 1, stats.Replied)
	assert.InDelta(t, 0.5, stats.OpenRate, 1e-9)
	assert.InDelta(t, 0.5, stats.ResponseRate, 1e-9)

	stored, err := p.Campaigns().GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Stats.Sent)
}

func TestStartDue(t *testing.T) {
	service, p, q := newService(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	require.NoError(t, p.Campaigns().Create(ctx, &models.Campaign{
		ID: "due", Name: "Due", FlowID: "flow-1", FlowVersion: 1, AudienceID: "aud-1",
		Status: models.CampaignStatusScheduled, ScheduledAt: &past,
		Sender: models.Sender{FromEmail: "hello@mailflow.dev"},
	}))
	require.NoError(t, p.Campaigns().Create(ctx, &models.Campaign{
		ID: "later", Name: "Later", FlowID: "flow-1", FlowVersion: 1, AudienceID: "aud-1",
		Status: models.CampaignStatusScheduled, ScheduledAt: &future,
		Sender: models.Sender{FromEmail: "hello@mailflow.dev"},
	}))

	q.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	started, err := service.StartDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	dueCampaign, err := p.Campaigns().GetByID(ctx, "due")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, dueCampaign.Status)

	laterCampaign, err := p.Campaigns().GetByID(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusScheduled, laterCampaign.Status)
}
