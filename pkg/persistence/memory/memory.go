// Package memory provides an in-memory persistence implementation used by
// tests and local development. All repositories share one mutex, which keeps
// the counter increments and history appends atomic the same way the SQL
// implementation does.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/google/uuid"
)

type stateKey struct {
	campaignID string
	email      string
}

type flowKey struct {
	id      string
	version int
}

// Persistence implements persistence.Persistence backed by maps.
type Persistence struct {
	mu sync.Mutex

	campaigns map[string]*models.Campaign
	flows     map[flowKey]*models.Flow
	states    map[stateKey]*models.RecipientState
	events    []*models.EmailEvent
	audiences map[string]*models.Audience
	templates map[string]*models.EmailTemplate
}

func NewPersistence() *Persistence {
	return &Persistence{
		campaigns: make(map[string]*models.Campaign),
		flows:     make(map[flowKey]*models.Flow),
		states:    make(map[stateKey]*models.RecipientState),
		audiences: make(map[string]*models.Audience),
		templates: make(map[string]*models.EmailTemplate),
	}
}

var _ persistence.Persistence = (*Persistence)(nil)

func (p *Persistence) Campaigns() persistence.CampaignRepository           { return (*campaignRepo)(p) }
func (p *Persistence) Flows() persistence.FlowRepository                   { return (*flowRepo)(p) }
func (p *Persistence) RecipientStates() persistence.RecipientStateRepository { return (*stateRepo)(p) }
func (p *Persistence) EmailEvents() persistence.EmailEventRepository       { return (*eventRepo)(p) }
func (p *Persistence) Audiences() persistence.AudienceRepository           { return (*audienceRepo)(p) }
func (p *Persistence) Templates() persistence.TemplateRepository           { return (*templateRepo)(p) }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

// campaigns

type campaignRepo Persistence

func (r *campaignRepo) Create(_ context.Context, campaign *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if campaign.ID == "" {
		campaign.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	clone := cloneCampaign(campaign)
	r.campaigns[campaign.ID] = clone

	return nil
}

func (r *campaignRepo) GetByID(_ context.Context, id string) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.campaigns[id]
	if !ok {
		return nil, persistence.ErrCampaignNotFound
	}

	return cloneCampaign(campaign), nil
}

func (r *campaignRepo) Update(_ context.Context, campaign *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.campaigns[campaign.ID]; !ok {
		return persistence.ErrCampaignNotFound
	}

	campaign.UpdatedAt = time.Now().UTC()
	r.campaigns[campaign.ID] = cloneCampaign(campaign)

	return nil
}

func (r *campaignRepo) UpdateStatus(_ context.Context, id string, status models.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.campaigns[id]
	if !ok {
		return persistence.ErrCampaignNotFound
	}

	campaign.Status = status
	campaign.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *campaignRepo) IncrementStats(_ context.Context, id string, delta models.StatsDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.campaigns[id]
	if !ok {
		return persistence.ErrCampaignNotFound
	}

	campaign.Stats.Sent += delta.Sent
	campaign.Stats.Delivered += delta.Delivered
	campaign.Stats.Opened += delta.Opened
	campaign.Stats.Replied += delta.Replied
	campaign.Stats.Bounced += delta.Bounced
	campaign.Stats.Errors += delta.Errors
	campaign.Stats.LastUpdated = time.Now().UTC()

	return nil
}

func (r *campaignRepo) UpdateRates(_ context.Context, id string, openRate, responseRate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.campaigns[id]
	if !ok {
		return persistence.ErrCampaignNotFound
	}

	campaign.Stats.OpenRate = openRate
	campaign.Stats.ResponseRate = responseRate
	campaign.Stats.LastUpdated = time.Now().UTC()

	return nil
}

func (r *campaignRepo) UpdateStats(_ context.Context, id string, stats models.CampaignStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.campaigns[id]
	if !ok {
		return persistence.ErrCampaignNotFound
	}

	stats.LastUpdated = time.Now().UTC()
	campaign.Stats = stats

	return nil
}

func (r *campaignRepo) ListScheduledDue(_ context.Context, before time.Time) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*models.Campaign

	for _, campaign := range r.campaigns {
		if campaign.Status == models.CampaignStatusScheduled &&
			campaign.ScheduledAt != nil && !campaign.ScheduledAt.After(before) {
			due = append(due, cloneCampaign(campaign))
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	return due, nil
}

func (r *campaignRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.campaigns, id)

	return nil
}

// flows

type flowRepo Persistence

func (r *flowRepo) Save(_ context.Context, flow *models.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	r.flows[flowKey{id: flow.ID, version: flow.Version}] = cloneFlow(flow)

	return nil
}

func (r *flowRepo) GetByID(_ context.Context, id string) (*models.Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.Flow

	for key, flow := range r.flows {
		if key.id != id {
			continue
		}

		if latest == nil || flow.Version > latest.Version {
			latest = flow
		}
	}

	if latest == nil {
		return nil, persistence.ErrFlowNotFound
	}

	return cloneFlow(latest), nil
}

func (r *flowRepo) GetByIDAndVersion(_ context.Context, id string, version int) (*models.Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flow, ok := r.flows[flowKey{id: id, version: version}]
	if !ok {
		return nil, persistence.ErrFlowNotFound
	}

	return cloneFlow(flow), nil
}

func (r *flowRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.flows {
		if key.id == id {
			delete(r.flows, key)
		}
	}

	return nil
}

// recipient states

type stateRepo Persistence

func (r *stateRepo) UpsertIfAbsent(_ context.Context, state *models.RecipientState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stateKey{campaignID: state.CampaignID, email: state.RecipientEmail}
	if _, exists := r.states[key]; exists {
		return nil
	}

	now := time.Now().UTC()
	state.CreatedAt = now
	state.UpdatedAt = now

	r.states[key] = cloneState(state)

	return nil
}

func (r *stateRepo) Find(_ context.Context, campaignID, recipientEmail string) (*models.RecipientState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[stateKey{campaignID: campaignID, email: recipientEmail}]
	if !ok {
		return nil, persistence.ErrRecipientStateNotFound
	}

	return cloneState(state), nil
}

func (r *stateRepo) Update(_ context.Context, state *models.RecipientState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := stateKey{campaignID: state.CampaignID, email: state.RecipientEmail}
	if _, ok := r.states[key]; !ok {
		return persistence.ErrRecipientStateNotFound
	}

	state.UpdatedAt = time.Now().UTC()
	r.states[key] = cloneState(state)

	return nil
}

func (r *stateRepo) MarkReplied(_ context.Context, campaignID, recipientEmail string, entry models.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[stateKey{campaignID: campaignID, email: recipientEmail}]
	if !ok {
		return persistence.ErrRecipientStateNotFound
	}

	state.ReplyDetected = true
	state.History = append(state.History, entry)
	state.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *stateRepo) ListByCampaign(_ context.Context, campaignID string) ([]*models.RecipientState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var states []*models.RecipientState

	for key, state := range r.states {
		if key.campaignID == campaignID {
			states = append(states, cloneState(state))
		}
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].RecipientEmail < states[j].RecipientEmail
	})

	return states, nil
}

func (r *stateRepo) DeleteByCampaign(_ context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.states {
		if key.campaignID == campaignID {
			delete(r.states, key)
		}
	}

	return nil
}

// email events

type eventRepo Persistence

func (r *eventRepo) Append(_ context.Context, event *models.EmailEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *event
	if clone.ID == "" {
		clone.ID = uuid.New().String()
	}

	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}

	r.events = append(r.events, &clone)

	return nil
}

func (r *eventRepo) ListByCampaign(_ context.Context, campaignID string, limit int) ([]*models.EmailEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	var events []*models.EmailEvent

	// Newest first, matching the SQL implementation.
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].CampaignID != campaignID {
			continue
		}

		clone := *r.events[i]
		events = append(events, &clone)

		if len(events) >= limit {
			break
		}
	}

	return events, nil
}

func (r *eventRepo) CountByType(_ context.Context, campaignID string) (map[models.EmailEventType]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[models.EmailEventType]int)

	for _, event := range r.events {
		if event.CampaignID == campaignID {
			counts[event.Type]++
		}
	}

	return counts, nil
}

func (r *eventRepo) HasOpenEvent(_ context.Context, campaignID, recipientEmail string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, event := range r.events {
		if event.CampaignID == campaignID &&
			event.RecipientEmail == recipientEmail &&
			event.Type == models.EmailEventOpened {
			return true, nil
		}
	}

	return false, nil
}

func (r *eventRepo) DeleteByCampaign(_ context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]

	for _, event := range r.events {
		if event.CampaignID != campaignID {
			kept = append(kept, event)
		}
	}

	r.events = kept

	return nil
}

// audiences

type audienceRepo Persistence

func (r *audienceRepo) Save(_ context.Context, audience *models.Audience) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if audience.ID == "" {
		audience.ID = uuid.New().String()
	}

	if audience.CreatedAt.IsZero() {
		audience.CreatedAt = time.Now().UTC()
	}

	clone := *audience
	clone.Recipients = append([]models.Recipient(nil), audience.Recipients...)
	r.audiences[audience.ID] = &clone

	return nil
}

func (r *audienceRepo) GetByID(_ context.Context, id string) (*models.Audience, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	audience, ok := r.audiences[id]
	if !ok {
		return nil, persistence.ErrAudienceNotFound
	}

	clone := *audience
	clone.Recipients = append([]models.Recipient(nil), audience.Recipients...)

	return &clone, nil
}

func (r *audienceRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.audiences, id)

	return nil
}

// templates

type templateRepo Persistence

func (r *templateRepo) Save(_ context.Context, tpl *models.EmailTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}

	tpl.UpdatedAt = now

	clone := *tpl
	r.templates[tpl.ID] = &clone

	return nil
}

func (r *templateRepo) GetByID(_ context.Context, id string) (*models.EmailTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tpl, ok := r.templates[id]
	if !ok {
		return nil, persistence.ErrTemplateNotFound
	}

	clone := *tpl

	return &clone, nil
}

func (r *templateRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.templates, id)

	return nil
}

// clone helpers keep stored values isolated from caller mutation.

func cloneCampaign(c *models.Campaign) *models.Campaign {
	clone := *c

	if c.TemplateOverrides != nil {
		clone.TemplateOverrides = make(map[string]string, len(c.TemplateOverrides))
		for k, v := range c.TemplateOverrides {
			clone.TemplateOverrides[k] = v
		}
	}

	return &clone
}

func cloneFlow(f *models.Flow) *models.Flow {
	clone := *f
	clone.Nodes = append([]models.Node(nil), f.Nodes...)

	for i := range clone.Nodes {
		clone.Nodes[i].Next = append([]models.Edge(nil), f.Nodes[i].Next...)
	}

	return &clone
}

func cloneState(s *models.RecipientState) *models.RecipientState {
	clone := *s
	clone.History = append([]models.HistoryEntry(nil), s.History...)

	return &clone
}
