package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/mailflow/pkg/models"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	readySuffix   = "jobs:ready"
	delayedSuffix = "jobs:delayed"

	// popTimeout bounds each BRPOP so workers notice context cancellation.
	popTimeout = time.Second

	// moverInterval is how often due delayed jobs are promoted to the
	// ready list.
	moverInterval = 500 * time.Millisecond

	moverBatchSize = 100
)

// RedisQueue is a Redis-backed JobQueue. Ready jobs live on a list consumed
// with BRPOP; delayed jobs are parked in a sorted set scored by their due
// time and promoted by a mover loop. Promotion pushes before removing, so a
// crash between the two can duplicate a job — at-least-once, never lost.
type RedisQueue struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	workers int
	prefix  string

	mu      sync.Mutex
	handler Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisQueue constructs a Redis-backed queue. The prefix namespaces keys
// (e.g. "mailflow:"); worker count falls back to DefaultWorkers.
func NewRedisQueue(client redis.UniversalClient, logger *slog.Logger, prefix string, workers int) *RedisQueue {
	if prefix == "" {
		prefix = "mailflow:"
	}

	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &RedisQueue{
		client:  client,
		logger:  logger.With("module", "redis_queue"),
		workers: workers,
		prefix:  prefix,
	}
}

var _ JobQueue = (*RedisQueue)(nil)

func (q *RedisQueue) readyKey() string { return q.prefix + readySuffix }

func (q *RedisQueue) delayedKey() string { return q.prefix + delayedSuffix }

func (q *RedisQueue) Enqueue(ctx context.Context, job models.ContinuationJob, delay time.Duration) error {
	return q.enqueue(ctx, envelope{ID: uuid.New().String(), Job: job}, delay)
}

func (q *RedisQueue) enqueue(ctx context.Context, env envelope, delay time.Duration) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if delay <= 0 {
		err = q.client.LPush(ctx, q.readyKey(), payload).Err()
		if err != nil {
			return fmt.Errorf("failed to push job: %w", err)
		}

		return nil
	}

	due := float64(time.Now().Add(delay).UnixMilli())

	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: payload}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule delayed job: %w", err)
	}

	return nil
}

func (q *RedisQueue) RegisterHandler(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handler = handler
}

func (q *RedisQueue) Start(ctx context.Context) error {
	q.mu.Lock()

	if q.handler == nil {
		q.mu.Unlock()

		return errors.New("no handler registered")
	}

	q.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)

	go q.moveDue(runCtx)

	for range q.workers {
		q.wg.Add(1)

		go q.work(runCtx)
	}

	return nil
}

// moveDue promotes delayed jobs whose due time has passed onto the ready list.
func (q *RedisQueue) moveDue(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(moverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := fmt.Sprintf("%d", time.Now().UnixMilli())

		due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   now,
			Count: moverBatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.logger.ErrorContext(ctx, "Failed to read delayed jobs", "error", err)
			}

			continue
		}

		for _, member := range due {
			err = q.client.LPush(ctx, q.readyKey(), member).Err()
			if err != nil {
				q.logger.ErrorContext(ctx, "Failed to promote delayed job", "error", err)

				continue
			}

			err = q.client.ZRem(ctx, q.delayedKey(), member).Err()
			if err != nil {
				q.logger.ErrorContext(ctx, "Failed to remove promoted job", "error", err)
			}
		}
	}
}

func (q *RedisQueue) work(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := q.client.BRPop(ctx, popTimeout, q.readyKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}

			q.logger.ErrorContext(ctx, "Failed to pop job", "error", err)
			time.Sleep(popTimeout)

			continue
		}

		if len(result) != 2 {
			continue
		}

		var env envelope

		err = json.Unmarshal([]byte(result[1]), &env)
		if err != nil {
			q.logger.ErrorContext(ctx, "Dropping undecodable job", "error", err)

			continue
		}

		q.deliver(ctx, env)
	}
}

func (q *RedisQueue) deliver(ctx context.Context, env envelope) {
	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()

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

// Close stops the workers and the mover loop and waits for in-flight jobs.
func (q *RedisQueue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}

	q.wg.Wait()

	return q.client.Close()
}
