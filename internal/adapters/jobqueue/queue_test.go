package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
	pkgerrors "github.com/Rifat79/renewal-service/pkg/errors"
)

func setupQueue(t *testing.T) (*DelayedQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewDelayedQueue(client, zap.NewNop())
	q.pollInterval = 20 * time.Millisecond
	return q, mr
}

func testJob(id string) *models.RenewalJob {
	return &models.RenewalJob{
		SubscriptionID: id,
		Snapshot:       models.Subscription{SubscriptionID: id, MSISDN: "8801700000001"},
	}
}

func TestEnqueue_DeduplicatesByJobID(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	opts := ports.EnqueueOptions{JobID: "sub-1", RemoveOnComplete: true}
	require.NoError(t, q.Enqueue(ctx, "renewal_gp", testJob("sub-1"), opts))
	require.NoError(t, q.Enqueue(ctx, "renewal_gp", testJob("sub-1"), opts))

	// Only one scheduled member exists for the id
	members, err := mr.ZMembers(scheduledKey("renewal_gp"))
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1"}, members)
}

func TestEnqueue_RequiresJobID(t *testing.T) {
	q, _ := setupQueue(t)
	err := q.Enqueue(context.Background(), "renewal_gp", testJob("sub-1"), ports.EnqueueOptions{})

	var verr *pkgerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "job_id", verr.Field)
}

func TestRunJob_PayloadFetchFailureReschedules(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "renewal_gp", testJob("sub-1"), ports.EnqueueOptions{JobID: "sub-1"}))

	// Simulate a poller winning the claim, then losing Redis before the
	// payload fetch.
	removed, err := q.client.ZRem(ctx, scheduledKey("renewal_gp"), "sub-1").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	q.runJob(cancelled, &worker{queue: "renewal_gp"}, "sub-1")

	// The member is back on the schedule and the guard still holds the
	// payload, so the job runs on a later poll instead of vanishing.
	members, err := mr.ZMembers(scheduledKey("renewal_gp"))
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1"}, members)
	assert.True(t, mr.Exists(jobKey("renewal_gp", "sub-1")))
}

func TestRunJob_MissingPayloadNotRescheduled(t *testing.T) {
	q, mr := setupQueue(t)

	q.runJob(context.Background(), &worker{queue: "renewal_gp"}, "ghost")

	assert.False(t, mr.Exists(scheduledKey("renewal_gp")))
	assert.False(t, mr.Exists(jobKey("renewal_gp", "ghost")))
}

func TestWorker_DeliversImmediateJob(t *testing.T) {
	q, _ := setupQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	delivered := make(chan string, 1)
	require.NoError(t, q.RegisterWorker("renewal_gp", 2, func(ctx context.Context, job *models.RenewalJob) error {
		delivered <- job.SubscriptionID
		return nil
	}))
	q.Start(ctx)

	require.NoError(t, q.Enqueue(ctx, "renewal_gp", testJob("sub-1"), ports.EnqueueOptions{
		JobID:            "sub-1",
		RemoveOnComplete: true,
	}))

	select {
	case got := <-delivered:
		assert.Equal(t, "sub-1", got)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, q.Stop(stopCtx))
}

func TestWorker_HonorsDelay(t *testing.T) {
	q, mr := setupQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	delivered := make(chan struct{}, 1)
	require.NoError(t, q.RegisterWorker("renewal_gp", 1, func(ctx context.Context, job *models.RenewalJob) error {
		delivered <- struct{}{}
		return nil
	}))
	q.Start(ctx)

	require.NoError(t, q.Enqueue(ctx, "renewal_gp", testJob("sub-1"), ports.EnqueueOptions{
		JobID: "sub-1",
		Delay: time.Hour,
	}))

	select {
	case <-delivered:
		t.Fatal("delayed job delivered early")
	case <-time.After(150 * time.Millisecond):
	}

	// Time travel: miniredis does not tick, so shift the schedule instead.
	mr.ZAdd(scheduledKey("renewal_gp"), float64(time.Now().UnixMilli()), "sub-1")

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered after becoming due")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, q.Stop(stopCtx))
}

func TestWorker_BoundedConcurrency(t *testing.T) {
	q, _ := setupQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	var processed atomic.Int32

	require.NoError(t, q.RegisterWorker("renewal_gp", 2, func(ctx context.Context, job *models.RenewalJob) error {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		processed.Add(1)
		return nil
	}))
	q.Start(ctx)

	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		require.NoError(t, q.Enqueue(ctx, "renewal_gp", testJob(id), ports.EnqueueOptions{JobID: id}))
	}

	require.Eventually(t, func() bool { return processed.Load() == 6 }, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2, "concurrency bound exceeded")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, q.Stop(stopCtx))
}

func TestWorker_FailedJobKeptWhenRequested(t *testing.T) {
	q, mr := setupQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 1)
	require.NoError(t, q.RegisterWorker("renewal_gp", 1, func(ctx context.Context, job *models.RenewalJob) error {
		defer func() { done <- struct{}{} }()
		return errors.New("gateway exploded")
	}))
	q.Start(ctx)

	require.NoError(t, q.Enqueue(ctx, "renewal_gp", testJob("sub-1"), ports.EnqueueOptions{
		JobID:        "sub-1",
		RemoveOnFail: false,
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered")
	}

	// Failed record lands on the failed list and the dedup guard is released
	require.Eventually(t, func() bool {
		if mr.Exists(jobKey("renewal_gp", "sub-1")) {
			return false
		}
		items, err := mr.List(failedKey("renewal_gp"))
		return err == nil && len(items) == 1
	}, 2*time.Second, 20*time.Millisecond)

	// A fresh enqueue for the same id is accepted again
	require.NoError(t, q.Enqueue(ctx, "renewal_gp", testJob("sub-1"), ports.EnqueueOptions{JobID: "sub-1"}))
	members, err := mr.ZMembers(scheduledKey("renewal_gp"))
	require.NoError(t, err)
	assert.Contains(t, members, "sub-1")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, q.Stop(stopCtx))
}
