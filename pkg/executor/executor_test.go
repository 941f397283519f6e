package executor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/mailflow/pkg/events"
	"github.com/dukex/mailflow/pkg/mail"
	"github.com/dukex/mailflow/pkg/mocks"
	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/dukex/mailflow/pkg/persistence/memory"
	"github.com/dukex/mailflow/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type capturedJob struct {
	job   models.ContinuationJob
	delay time.Duration
}

// captureQueue records enqueued jobs so tests can drive delivery themselves.
type captureQueue struct {
	mu   sync.Mutex
	jobs []capturedJob
}

func (q *captureQueue) Enqueue(_ context.Context, job models.ContinuationJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, capturedJob{job: job, delay: delay})

	return nil
}

func (q *captureQueue) RegisterHandler(_ queue.Handler) {}

func (q *captureQueue) Start(_ context.Context) error { return nil }

func (q *captureQueue) Close() error { return nil }

func (q *captureQueue) pop() (capturedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return capturedJob{}, false
	}

	job := q.jobs[0]
	q.jobs = q.jobs[1:]

	return job, true
}

func (q *captureQueue) all() []capturedJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]capturedJob(nil), q.jobs...)
}

// testFlow is the journey used across these tests:
//
//	A sendEmail -> B wait 1h -> C conditionReply -> D sendEmail (replied)
//	                                             -> E end      (not replied)
func testFlow() *models.Flow {
	return &models.Flow{
		ID:          "flow-1",
		Name:        "Cold outreach",
		Version:     1,
		Status:      models.FlowStatusPublished,
		StartNodeID: "A",
		Nodes: []models.Node{
			{ID: "A", Type: models.NodeTypeSendEmail, Template: &models.EmailContent{
				Subject: "Hi {{name}}",
				Body:    "<p>Hello {{email}}</p>",
			}, Next: []models.Edge{{To: "B"}}},
			{ID: "B", Type: models.NodeTypeWait, DelayMs: time.Hour.Milliseconds(), Next: []models.Edge{{To: "C"}}},
			{ID: "C", Type: models.NodeTypeCondition, Next: []models.Edge{{To: "D"}, {To: "E"}}},
			{ID: "D", Type: models.NodeTypeSendEmail, Template: &models.EmailContent{
				Subject: "Thanks {{name}}",
				Body:    "<p>Great to hear from you</p>",
			}},
			{ID: "E", Type: models.NodeTypeEnd},
		},
	}
}

type fixture struct {
	persistence persistence.Persistence
	queue       *captureQueue
	sender      *mocks.MockSender
	executor    *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	p := memory.NewPersistence()

	require.NoError(t, p.Flows().Save(ctx, testFlow()))
	require.NoError(t, p.Audiences().Save(ctx, &models.Audience{
		ID:   "aud-1",
		Name: "Leads",
		Recipients: []models.Recipient{
			{Email: "ana@example.com", Name: "Ana"},
		},
	}))
	require.NoError(t, p.Campaigns().Create(ctx, &models.Campaign{
		ID:          "camp-1",
		Name:        "Launch",
		FlowID:      "flow-1",
		FlowVersion: 1,
		AudienceID:  "aud-1",
		Status:      models.CampaignStatusRunning,
		Sender:      models.Sender{FromEmail: "hello@mailflow.dev", ReplyTo: "reply@mailflow.dev"},
	}))

	state := &models.RecipientState{
		CampaignID:     "camp-1",
		RecipientEmail: "ana@example.com",
		CurrentNodeID:  "A",
	}
	require.NoError(t, p.RecipientStates().UpsertIfAbsent(ctx, state))

	q := &captureQueue{}
	sender := &mocks.MockSender{}

	exec := NewExecutor(slog.Default(), p, q, sender, nil, "https://track.example.com")

	return &fixture{persistence: p, queue: q, sender: sender, executor: exec}
}

func (f *fixture) state(t *testing.T) *models.RecipientState {
	t.Helper()

	state, err := f.persistence.RecipientStates().Find(context.Background(), "camp-1", "ana@example.com")
	require.NoError(t, err)

	return state
}

func (f *fixture) campaign(t *testing.T) *models.Campaign {
	t.Helper()

	campaign, err := f.persistence.Campaigns().GetByID(context.Background(), "camp-1")
	require.NoError(t, err)

	return campaign
}

func job(nodeID string) models.ContinuationJob {
	return models.ContinuationJob{CampaignID: "camp-1", RecipientEmail: "ana@example.com", NodeID: nodeID}
}

func TestProcessDropsJobForMissingCampaign(t *testing.T) {
	f := newFixture(t)

	err := f.executor.Process(context.Background(), models.ContinuationJob{
		CampaignID: "ghost", RecipientEmail: "ana@example.com", NodeID: "A",
	})
	require.NoError(t, err)
	assert.Empty(t, f.queue.all())
}

func TestProcessDropsJobForMissingRecipient(t *testing.T) {
	f := newFixture(t)

	err := f.executor.Process(context.Background(), models.ContinuationJob{
		CampaignID: "camp-1", RecipientEmail: "ghost@example.com", NodeID: "A",
	})
	require.NoError(t, err)
	assert.Empty(t, f.queue.all())
}

func TestProcessReschedulesWhenCampaignNotRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.persistence.Campaigns().UpdateStatus(ctx, "camp-1", models.CampaignStatusPaused))

	require.NoError(t, f.executor.Process(ctx, job("A")))

	jobs := f.queue.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, job("A"), jobs[0].job)
	assert.Equal(t, pauseRecheck, jobs[0].delay)

	// No side effects while paused.
	f.sender.AssertNotCalled(t, "Send")
	assert.Equal(t, 0, f.campaign(t).Stats.Sent)
}

func TestProcessSendEmailSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var sent mail.Message

	f.sender.On("Send", mock.Anything, mock.AnythingOfType("mail.Message")).
		Run(func(args mock.Arguments) {
			sent = args.Get(1).(mail.Message)
		}).
		Return("msg-1", nil)

	require.NoError(t, f.executor.Process(ctx, job("A")))

	assert.Equal(t, "Hi Ana", sent.Subject)
	assert.Equal(t, "ana@example.com", sent.To)
	assert.Equal(t, "hello@mailflow.dev", sent.FromEmail)
	assert.Equal(t, "reply@mailflow.dev", sent.ReplyTo)
	assert.Contains(t, sent.HTMLBody, "<p>Hello ana@example.com</p>")
	assert.Contains(t, sent.HTMLBody,
		`<img src="https://track.example.com/api/campaigns/track/open/camp-1/ana%40example.com"`)

	state := f.state(t)
	assert.Equal(t, "msg-1", state.LastMessageID)
	require.NotEmpty(t, state.History)
	assert.Equal(t, models.HistoryEventSent, state.History[len(state.History)-1].Event)

	campaign := f.campaign(t)
	assert.Equal(t, 1, campaign.Stats.Sent)
	assert.Equal(t, 1, campaign.Stats.Delivered)

	eventLog, err := f.persistence.EmailEvents().ListByCampaign(ctx, "camp-1", 10)
	require.NoError(t, err)
	require.Len(t, eventLog, 1)
	assert.Equal(t, models.EmailEventSent, eventLog[0].Type)
	assert.Equal(t, "msg-1", eventLog[0].MessageID)

	jobs := f.queue.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, "B", jobs[0].job.NodeID)
	assert.Equal(t, time.Duration(0), jobs[0].delay)
}

func TestProcessSendEmailFailureHaltsRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sender.On("Send", mock.Anything, mock.Anything).Return("", errors.New("relay refused"))

	// nil: the failure is permanent, the queue must not redeliver.
	require.NoError(t, f.executor.Process(ctx, job("A")))

	state := f.state(t)
	require.NotEmpty(t, state.History)
	last := state.History[len(state.History)-1]
	assert.Equal(t, models.HistoryEventError, last.Event)
	assert.Contains(t, last.Details["error"], "relay refused")

	campaign := f.campaign(t)
	assert.Equal(t, 0, campaign.Stats.Sent)
	assert.Equal(t, 0, campaign.Stats.Delivered)
	assert.Equal(t, 1, campaign.Stats.Errors)

	assert.Empty(t, f.queue.all())
}

func TestProcessWaitSchedulesDelayedJob(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.executor.Process(context.Background(), job("B")))

	state := f.state(t)
	assert.Equal(t, "B", state.CurrentNodeID)
	assert.Equal(t, models.HistoryEventWait, state.History[len(state.History)-1].Event)

	jobs := f.queue.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, "C", jobs[0].job.NodeID)
	assert.Equal(t, time.Hour, jobs[0].delay)
}

func TestProcessSendEmailFansOutToAllEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fanned := testFlow()
	fanned.Nodes[0].Next = []models.Edge{{To: "B"}, {To: "E"}}
	require.NoError(t, f.persistence.Flows().Save(ctx, fanned))

	f.sender.On("Send", mock.Anything, mock.Anything).Return("msg-1", nil)

	require.NoError(t, f.executor.Process(ctx, job("A")))

	jobs := f.queue.all()
	require.Len(t, jobs, 2)
	assert.Equal(t, "B", jobs[0].job.NodeID)
	assert.Equal(t, "E", jobs[1].job.NodeID)

	for _, j := range jobs {
		assert.Equal(t, time.Duration(0), j.delay)
	}
}

func TestProcessWaitFansOutToAllEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fanned := testFlow()
	fanned.Nodes[1].Next = []models.Edge{{To: "C"}, {To: "E"}}
	require.NoError(t, f.persistence.Flows().Save(ctx, fanned))

	require.NoError(t, f.executor.Process(ctx, job("B")))

	jobs := f.queue.all()
	require.Len(t, jobs, 2)
	assert.Equal(t, "C", jobs[0].job.NodeID)
	assert.Equal(t, "E", jobs[1].job.NodeID)

	for _, j := range jobs {
		assert.Equal(t, time.Hour, j.delay)
	}

	// One wait entry regardless of how many edges fan out.
	state := f.state(t)
	require.Len(t, state.History, 1)
	assert.Equal(t, models.HistoryEventWait, state.History[0].Event)
}

func TestProcessSendEmailWithoutEdgesStopsSilently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sender.On("Send", mock.Anything, mock.Anything).Return("msg-1", nil)

	// D has no outgoing edges; the journey just ends after the send.
	require.NoError(t, f.executor.Process(ctx, job("D")))

	state := f.state(t)
	require.Len(t, state.History, 1)
	assert.Equal(t, models.HistoryEventSent, state.History[0].Event)
	assert.Empty(t, f.queue.all())
}

func TestProcessConditionTakesNotRepliedBranch(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.executor.Process(context.Background(), job("C")))

	state := f.state(t)
	assert.Equal(t, models.HistoryEventSkipped, state.History[len(state.History)-1].Event)

	jobs := f.queue.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, "E", jobs[0].job.NodeID)
	assert.Equal(t, time.Duration(0), jobs[0].delay)
}

func TestProcessConditionTakesRepliedBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.persistence.RecipientStates().MarkReplied(ctx, "camp-1", "ana@example.com",
		models.HistoryEntry{NodeID: "B", Event: models.HistoryEventReplied, Timestamp: time.Now().UTC()}))

	require.NoError(t, f.executor.Process(ctx, job("C")))

	state := f.state(t)
	assert.Equal(t, models.HistoryEventReplied, state.History[len(state.History)-1].Event)

	jobs := f.queue.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, "D", jobs[0].job.NodeID)
}

func TestProcessConditionMissingBranchStopsSilently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trimmed := testFlow()
	trimmed.Nodes[2].Next = []models.Edge{{To: "D"}}
	require.NoError(t, f.persistence.Flows().Save(ctx, trimmed))

	// Not replied selects edge[1], which is absent: no job, no "completed"
	// entry, just the "skipped" record.
	require.NoError(t, f.executor.Process(ctx, job("C")))

	state := f.state(t)
	require.Len(t, state.History, 1)
	assert.Equal(t, models.HistoryEventSkipped, state.History[0].Event)
	assert.Empty(t, f.queue.all())
}

func TestProcessEndCompletesRecipient(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.executor.Process(context.Background(), job("E")))

	state := f.state(t)
	assert.Equal(t, "E", state.CurrentNodeID)
	assert.Equal(t, models.HistoryEventCompleted, state.History[len(state.History)-1].Event)
	assert.Empty(t, f.queue.all())
}

func TestProgressNotificationsOnEveryAdvancingBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	publisher := &mocks.MockEventPublisher{}
	publisher.On("Publish", mock.Anything, "camp-1", mock.Anything).Return(nil)

	exec := NewExecutor(slog.Default(), f.persistence, f.queue, f.sender, publisher, "https://track.example.com")

	f.sender.On("Send", mock.Anything, mock.Anything).Return("msg-1", nil)

	require.NoError(t, exec.Process(ctx, job("A")))
	require.NoError(t, exec.Process(ctx, job("B")))
	require.NoError(t, exec.Process(ctx, job("C")))

	updates := 0

	for _, call := range publisher.Calls {
		if event, ok := call.Arguments.Get(2).(events.CampaignUpdated); ok {
			updates++
			assert.Equal(t, "ana@example.com", event.RecipientEmail)
		}
	}

	// sendEmail success, wait, and the condition branch each publish one.
	assert.Equal(t, 3, updates)
}

func TestProcessDropsUnknownNode(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.executor.Process(context.Background(), job("ghost")))
	assert.Empty(t, f.queue.all())
}

func TestEndToEndNoReplyJourney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sender.On("Send", mock.Anything, mock.Anything).Return("msg-1", nil)

	require.NoError(t, f.executor.Process(ctx, job("A")))

	for {
		next, ok := f.queue.pop()
		if !ok {
			break
		}

		require.NoError(t, f.executor.Process(ctx, next.job))
	}

	state := f.state(t)

	var visited []string
	for _, entry := range state.History {
		visited = append(visited, entry.NodeID+":"+string(entry.Event))
	}

	assert.Equal(t, []string{"A:sent", "B:wait", "C:skipped", "E:completed"}, visited)

	campaign := f.campaign(t)
	assert.Equal(t, 1, campaign.Stats.Sent)
	assert.Equal(t, 1, campaign.Stats.Delivered)
	assert.Equal(t, 0, campaign.Stats.Errors)
}

func TestDuplicateDeliveryCountsTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sender.On("Send", mock.Anything, mock.Anything).Return("msg-1", nil)

	// At-least-once delivery: the same job arriving twice sends twice.
	require.NoError(t, f.executor.Process(ctx, job("A")))
	require.NoError(t, f.executor.Process(ctx, job("A")))

	campaign := f.campaign(t)
	assert.Equal(t, 2, campaign.Stats.Sent)
	assert.Equal(t, 2, campaign.Stats.Delivered)

	eventLog, err := f.persistence.EmailEvents().ListByCampaign(ctx, "camp-1", 10)
	require.NoError(t, err)
	assert.Len(t, eventLog, 2)
	f.sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestProcessUsesTemplateOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.persistence.Templates().Save(ctx, &models.EmailTemplate{
		ID:      "tpl-1",
		Name:    "Override",
		Subject: "Override for {{name}}",
		Body:    "<p>override body</p>",
	}))

	campaign := f.campaign(t)
	campaign.TemplateOverrides = map[string]string{"A": "tpl-1"}
	require.NoError(t, f.persistence.Campaigns().Update(ctx, campaign))

	var sent mail.Message

	f.sender.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sent = args.Get(1).(mail.Message)
		}).
		Return("msg-2", nil)

	require.NoError(t, f.executor.Process(ctx, job("A")))

	assert.Equal(t, "Override for Ana", sent.Subject)
	assert.True(t, strings.HasPrefix(sent.HTMLBody, "<p>override body</p>"))
}
