// Package queue provides the durable, delay-capable job queue that advances
// recipients through automation flows. Delivery is at-least-once with no
// ordering guarantee across recipients; handler errors cause redelivery
// after a fixed backoff until the attempt limit is reached.
package queue

import (
	"context"
	"time"

	"github.com/dukex/mailflow/pkg/models"
)

// Handler processes one continuation job. Returning an error requests
// redelivery; nil acknowledges the job.
type Handler func(ctx context.Context, job models.ContinuationJob) error

// JobQueue transports continuation jobs between executor instances.
type JobQueue interface {
	// Enqueue schedules a job to become deliverable after the given delay.
	Enqueue(ctx context.Context, job models.ContinuationJob, delay time.Duration) error

	// RegisterHandler sets the handler invoked for delivered jobs. Must be
	// called before Start.
	RegisterHandler(handler Handler)

	// Start launches the worker pool and begins delivering jobs. It returns
	// once the workers are running; delivery stops when ctx is cancelled.
	Start(ctx context.Context) error

	Close() error
}

const (
	// DefaultWorkers bounds how many jobs are processed concurrently.
	DefaultWorkers = 4

	// retryBackoff is applied before a failed job is redelivered.
	retryBackoff = 5 * time.Second

	// maxAttempts caps redeliveries of a single job. Beyond it the job is
	// dropped and logged; the campaign-level error accounting has already
	// happened by then or never will.
	maxAttempts = 10
)

// envelope wraps a job with queue bookkeeping. The ID keeps otherwise
// identical payloads distinct in storage backends that need unique members.
type envelope struct {
	ID       string                 `json:"id"`
	Job      models.ContinuationJob `json:"job"`
	Attempts int                    `json:"attempts"`
}
