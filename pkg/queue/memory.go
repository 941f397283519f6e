package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/mailflow/pkg/models"
	"github.com/google/uuid"
)

// MemoryQueue is an in-process JobQueue for tests and local development.
// Delayed jobs are parked on timers; ready jobs flow through one buffered
// channel drained by a fixed worker pool.
type MemoryQueue struct {
	logger  *slog.Logger
	workers int

	mu      sync.Mutex
	handler Handler
	timers  map[string]*time.Timer
	closed  bool

	ready chan envelope
	wg    sync.WaitGroup
}

// NewMemoryQueue creates an in-memory queue with the given worker count
// (DefaultWorkers when zero or negative).
func NewMemoryQueue(logger *slog.Logger, workers int) *MemoryQueue {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &MemoryQueue{
		logger:  logger.With("module", "memory_queue"),
		workers: workers,
		timers:  make(map[string]*time.Timer),
		ready:   make(chan envelope, 1024),
	}
}

var _ JobQueue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(ctx context.Context, job models.ContinuationJob, delay time.Duration) error {
	return q.enqueue(ctx, envelope{ID: uuid.New().String(), Job: job}, delay)
}

func (q *MemoryQueue) enqueue(ctx context.Context, env envelope, delay time.Duration) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return context.Canceled
	}

	if delay <= 0 {
		q.mu.Unlock()

		select {
		case q.ready <- env:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	defer q.mu.Unlock()

	timer := time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, env.ID)
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return
		}

		q.ready <- env
	})

	q.timers[env.ID] = timer

	return nil
}

func (q *MemoryQueue) RegisterHandler(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handler = handler
}

func (q *MemoryQueue) Start(ctx context.Context) error {
	for range q.workers {
		q.wg.Add(1)

		go q.work(ctx)
	}

	return nil
}

func (q *MemoryQueue) work(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-q.ready:
			q.deliver(ctx, env)
		}
	}
}

func (q *MemoryQueue) deliver(ctx context.Context, env envelope) {
	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()

	if handler == nil {
		return
	}

	err := handler(ctx, env.Job)
	if err == nil {
		return
	}

	env.Attempts++
	if env.Attempts >= maxAttempts {
		q.logger.ErrorContext(ctx, "Dropping job after repeated failures",
			"campaign_id", env.Job.CampaignID,
			"recipient", env.Job.RecipientEmail,
			"node_id", env.Job.NodeID,
			"attempts", env.Attempts,
			"error", err)

		return
	}

	q.logger.WarnContext(ctx, "Job failed, scheduling redelivery",
		"campaign_id", env.Job.CampaignID,
		"recipient", env.Job.RecipientEmail,
		"node_id", env.Job.NodeID,
		"attempts", env.Attempts,
		"error", err)

	enqueueErr := q.enqueue(ctx, env, retryBackoff)
	if enqueueErr != nil {
		q.logger.ErrorContext(ctx, "Failed to re-enqueue job", "error", enqueueErr)
	}
}

// Close stops accepting jobs and cancels pending timers. Jobs already picked
// up by workers run to completion.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return nil
	}

	q.closed = true

	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}

	q.mu.Unlock()

	return nil
}
