package queue

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/mailflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobRecorder struct {
	mu   sync.Mutex
	jobs []models.ContinuationJob
	seen chan models.ContinuationJob
}

func newJobRecorder() *jobRecorder {
	return &jobRecorder{seen: make(chan models.ContinuationJob, 64)}
}

func (r *jobRecorder) handle(_ context.Context, job models.ContinuationJob) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()

	r.seen <- job

	return nil
}

func (r *jobRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.jobs)
}

func waitFor(t *testing.T, ch <-chan models.ContinuationJob, timeout time.Duration) models.ContinuationJob {
	t.Helper()

	select {
	case job := <-ch:
		return job
	case <-time.After(timeout):
		t.Fatal("timed out waiting for job delivery")

		return models.ContinuationJob{}
	}
}

func TestMemoryQueueDeliversImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue(slog.Default(), 2)
	recorder := newJobRecorder()
	q.RegisterHandler(recorder.handle)

	require.NoError(t, q.Start(ctx))

	job := models.ContinuationJob{CampaignID: "c1", RecipientEmail: "ana@example.com", NodeID: "a"}
	require.NoError(t, q.Enqueue(ctx, job, 0))

	delivered := waitFor(t, recorder.seen, time.Second)
	assert.Equal(t, job, delivered)
}

func TestMemoryQueueHonorsDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue(slog.Default(), 1)
	recorder := newJobRecorder()
	q.RegisterHandler(recorder.handle)

	require.NoError(t, q.Start(ctx))

	job := models.ContinuationJob{CampaignID: "c1", RecipientEmail: "ana@example.com", NodeID: "b"}
	start := time.Now()
	require.NoError(t, q.Enqueue(ctx, job, 80*time.Millisecond))

	waitFor(t, recorder.seen, time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestMemoryQueueDeliversDuplicatePayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue(slog.Default(), 2)
	recorder := newJobRecorder()
	q.RegisterHandler(recorder.handle)

	require.NoError(t, q.Start(ctx))

	// Identical payloads must both survive; the queue never collapses them.
	job := models.ContinuationJob{CampaignID: "c1", RecipientEmail: "ana@example.com", NodeID: "a"}
	require.NoError(t, q.Enqueue(ctx, job, 20*time.Millisecond))
	require.NoError(t, q.Enqueue(ctx, job, 20*time.Millisecond))

	waitFor(t, recorder.seen, time.Second)
	waitFor(t, recorder.seen, time.Second)
	assert.Equal(t, 2, recorder.count())
}

func TestMemoryQueueCloseRejectsEnqueue(t *testing.T) {
	q := NewMemoryQueue(slog.Default(), 1)
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), models.ContinuationJob{CampaignID: "c1"}, 0)
	assert.Error(t, err)

	// Closing twice is fine.
	assert.NoError(t, q.Close())
}
