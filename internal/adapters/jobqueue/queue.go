package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
	pkgerrors "github.com/Rifat79/renewal-service/pkg/errors"
)

const (
	// DefaultPollInterval gives second-level delivery accuracy
	DefaultPollInterval = 1 * time.Second
	// claimBatchSize bounds how many due jobs one poll claims
	claimBatchSize = 64
)

// envelope is the stored form of a scheduled job
type envelope struct {
	Job              *models.RenewalJob `json:"job"`
	RemoveOnComplete bool               `json:"remove_on_complete"`
	RemoveOnFail     bool               `json:"remove_on_fail"`
}

type worker struct {
	queue       string
	concurrency int
	handler     ports.JobHandler
	sem         chan struct{}
}

// DelayedQueue is a Redis-backed delayed job queue with per-job
// deduplication and bounded-concurrency workers.
//
// Layout per queue name:
//
//	queue:<name>:scheduled   ZSET  member = job id, score = due unix ms
//	queue:<name>:job:<id>    STRING serialized envelope; doubles as the
//	                         dedup guard while the job is pending or running
//	queue:<name>:failed      LIST  envelopes kept when RemoveOnFail is false
//
// A job is claimed by ZREM: exactly one poller wins the member. Queue-level
// retries are deliberately absent; failure handling is the caller's explicit
// re-queue policy.
type DelayedQueue struct {
	client       *redis.Client
	logger       *zap.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	workers map[string]*worker
	started bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDelayedQueue creates a queue host on the shared Redis client
func NewDelayedQueue(client *redis.Client, logger *zap.Logger) *DelayedQueue {
	return &DelayedQueue{
		client:       client,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		workers:      make(map[string]*worker),
	}
}

func scheduledKey(queue string) string { return "queue:" + queue + ":scheduled" }
func jobKey(queue, id string) string   { return "queue:" + queue + ":job:" + id }
func failedKey(queue string) string    { return "queue:" + queue + ":failed" }

// Enqueue schedules a job for delivery after opts.Delay. While a job with the
// same JobID is pending or running the call is a no-op.
func (q *DelayedQueue) Enqueue(ctx context.Context, queue string, job *models.RenewalJob, opts ports.EnqueueOptions) error {
	if opts.JobID == "" {
		return pkgerrors.NewValidationError("job_id", "required")
	}

	env := envelope{
		Job:              job,
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("enqueue: marshal job %s: %w", opts.JobID, err)
	}

	// The job key is the dedup guard: only the first enqueue wins.
	ok, err := q.client.SetNX(ctx, jobKey(queue, opts.JobID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("enqueue: reserve job %s: %w", opts.JobID, err)
	}
	if !ok {
		q.logger.Debug("Duplicate enqueue ignored",
			zap.String("queue", queue),
			zap.String("job_id", opts.JobID),
		)
		return nil
	}

	due := time.Now().Add(opts.Delay)
	if err := q.client.ZAdd(ctx, scheduledKey(queue), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: opts.JobID,
	}).Err(); err != nil {
		// Roll the guard back so a later enqueue can retry.
		_ = q.client.Del(ctx, jobKey(queue, opts.JobID)).Err()
		return fmt.Errorf("enqueue: schedule job %s: %w", opts.JobID, err)
	}

	return nil
}

// RegisterWorker attaches a handler to a queue with bounded concurrency.
// Must be called before Start.
func (q *DelayedQueue) RegisterWorker(queue string, concurrency int, handler ports.JobHandler) error {
	if concurrency <= 0 {
		return fmt.Errorf("register worker %s: concurrency must be positive", queue)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return fmt.Errorf("register worker %s: queue host already started", queue)
	}
	if _, exists := q.workers[queue]; exists {
		return fmt.Errorf("register worker %s: already registered", queue)
	}

	q.workers[queue] = &worker{
		queue:       queue,
		concurrency: concurrency,
		handler:     handler,
		sem:         make(chan struct{}, concurrency),
	}
	return nil
}

// Start launches one poll loop per registered queue
func (q *DelayedQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for _, w := range q.workers {
		q.wg.Add(1)
		go q.pollLoop(runCtx, w)
		q.logger.Info("Queue worker started",
			zap.String("queue", w.queue),
			zap.Int("concurrency", w.concurrency),
		)
	}
}

// Stop halts polling and waits for in-flight jobs up to the context deadline
func (q *DelayedQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: in-flight jobs did not finish: %w", ctx.Err())
	}
}

func (q *DelayedQueue) pollLoop(ctx context.Context, w *worker) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.deliverDue(ctx, w)
		}
	}
}

// deliverDue claims due jobs and hands them to the worker's handler under
// the concurrency bound
func (q *DelayedQueue) deliverDue(ctx context.Context, w *worker) {
	now := time.Now().UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey(w.queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: claimBatchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("Queue poll failed",
				zap.String("queue", w.queue),
				zap.Error(err),
			)
		}
		return
	}

	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, scheduledKey(w.queue), id).Result()
		if err != nil || removed == 0 {
			// Lost the claim or transient error; the next poll retries.
			continue
		}

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			// Give the claim back; shutdown is in progress.
			_ = q.client.ZAdd(context.Background(), scheduledKey(w.queue), redis.Z{
				Score:  float64(now),
				Member: id,
			}).Err()
			return
		}

		q.wg.Add(1)
		go func(id string) {
			defer q.wg.Done()
			defer func() { <-w.sem }()
			q.runJob(ctx, w, id)
		}(id)
	}
}

func (q *DelayedQueue) runJob(ctx context.Context, w *worker, id string) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Job handler panicked",
				zap.String("queue", w.queue),
				zap.String("job_id", id),
				zap.Any("panic", r),
			)
			_ = q.client.Del(context.Background(), jobKey(w.queue, id)).Err()
		}
	}()

	raw, err := q.client.Get(ctx, jobKey(w.queue, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Guard already released; nothing to run.
			return
		}
		// The claim is won but the payload could not be read. Hand the
		// member back so a later poll retries; dropping it here would
		// orphan the guard key and swallow every future enqueue for
		// this id.
		q.logger.Error("Job payload fetch failed, rescheduling",
			zap.String("queue", w.queue),
			zap.String("job_id", id),
			zap.Error(err),
		)
		_ = q.client.ZAdd(context.Background(), scheduledKey(w.queue), redis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: id,
		}).Err()
		return
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		q.logger.Error("Job payload malformed",
			zap.String("queue", w.queue),
			zap.String("job_id", id),
			zap.Error(err),
		)
		_ = q.client.Del(context.Background(), jobKey(w.queue, id)).Err()
		return
	}

	if err := w.handler(ctx, env.Job); err != nil {
		// Failed hook: log with the job identifier, keep the record when asked.
		q.logger.Error("Job failed",
			zap.String("queue", w.queue),
			zap.String("job_id", id),
			zap.Error(err),
		)
		if !env.RemoveOnFail {
			_ = q.client.RPush(context.Background(), failedKey(w.queue), raw).Err()
		}
	}

	// Release the dedup guard so the subscription can be scheduled again.
	_ = q.client.Del(context.Background(), jobKey(w.queue, id)).Err()
}
