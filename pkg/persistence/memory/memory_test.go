package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertIfAbsentKeepsExistingState(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	first := &models.RecipientState{
		CampaignID: "c1", RecipientEmail: "ana@example.com", CurrentNodeID: "A",
	}
	require.NoError(t, p.RecipientStates().UpsertIfAbsent(ctx, first))

	second := &models.RecipientState{
		CampaignID: "c1", RecipientEmail: "ana@example.com", CurrentNodeID: "Z",
	}
	require.NoError(t, p.RecipientStates().UpsertIfAbsent(ctx, second))

	stored, err := p.RecipientStates().Find(ctx, "c1", "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "A", stored.CurrentNodeID)
}

func TestStoredValuesAreIsolatedFromCallers(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	campaign := &models.Campaign{
		ID: "c1", Name: "Launch", FlowID: "f1", AudienceID: "a1",
		Status: models.CampaignStatusDraft,
		Sender: models.Sender{FromEmail: "hello@mailflow.dev"},
	}
	require.NoError(t, p.Campaigns().Create(ctx, campaign))

	// Mutating the caller's copy must not leak into the store.
	campaign.Name = "mutated"

	stored, err := p.Campaigns().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Launch", stored.Name)

	state := &models.RecipientState{CampaignID: "c1", RecipientEmail: "ana@example.com"}
	state.AppendHistory("A", models.HistoryEventQueued, nil)
	require.NoError(t, p.RecipientStates().UpsertIfAbsent(ctx, state))

	loaded, err := p.RecipientStates().Find(ctx, "c1", "ana@example.com")
	require.NoError(t, err)

	loaded.History[0].NodeID = "hacked"

	reloaded, err := p.RecipientStates().Find(ctx, "c1", "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "A", reloaded.History[0].NodeID)
}

func TestNotFoundSentinels(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	_, err := p.Campaigns().GetByID(ctx, "ghost")
	assert.True(t, persistence.IsCampaignNotFound(err))

	_, err = p.Flows().GetByIDAndVersion(ctx, "ghost", 1)
	assert.True(t, persistence.IsFlowNotFound(err))

	_, err = p.RecipientStates().Find(ctx, "ghost", "ghost@example.com")
	assert.True(t, persistence.IsRecipientStateNotFound(err))

	_, err = p.Audiences().GetByID(ctx, "ghost")
	assert.True(t, persistence.IsAudienceNotFound(err))

	_, err = p.Templates().GetByID(ctx, "ghost")
	assert.True(t, persistence.IsTemplateNotFound(err))
}

func TestListScheduledDueFiltersStatusAndTime(t *testing.T) {
	p := NewPersistence()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, p.Campaigns().Create(ctx, &models.Campaign{
		ID: "due", Name: "Due", FlowID: "f", AudienceID: "a",
		Status: models.CampaignStatusScheduled, ScheduledAt: &past,
		Sender: models.Sender{FromEmail: "x@example.com"},
	}))
	require.NoError(t, p.Campaigns().Create(ctx, &models.Campaign{
		ID: "draft", Name: "Draft", FlowID: "f", AudienceID: "a",
		Status: models.CampaignStatusDraft, ScheduledAt: &past,
		Sender: models.Sender{FromEmail: "x@example.com"},
	}))

	due, err := p.Campaigns().ListScheduledDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)
}
