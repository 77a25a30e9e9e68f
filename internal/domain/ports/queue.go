package ports

import (
	"context"
	"time"

	"github.com/Rifat79/renewal-service/internal/domain/models"
)

// EnqueueOptions controls delayed delivery and deduplication of a job
type EnqueueOptions struct {
	// Delay postpones delivery; zero means deliver on the next poll.
	Delay time.Duration
	// JobID is the deduplication key. While a job with the same id is
	// pending or running, a second Enqueue is a no-op.
	JobID            string
	RemoveOnComplete bool
	RemoveOnFail     bool
}

// JobHandler processes one delivered renewal job. A nil return completes the
// job; an error marks it failed and fires the worker's failed hook.
type JobHandler func(ctx context.Context, job *models.RenewalJob) error

// JobQueue is a named delayed queue with per-job deduplication and a
// bounded-concurrency worker host. Queue-level retries are disabled; failure
// handling is the caller's explicit re-queue policy.
type JobQueue interface {
	Enqueue(ctx context.Context, queue string, job *models.RenewalJob, opts EnqueueOptions) error
	// RegisterWorker attaches a handler to a queue. At most concurrency
	// deliveries execute in parallel per worker.
	RegisterWorker(queue string, concurrency int, handler JobHandler) error
}
