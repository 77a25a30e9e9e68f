package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
	"github.com/Rifat79/renewal-service/pkg/observability"
	"github.com/Rifat79/renewal-service/pkg/timeutil"
)

// Per-operator queue names. Workers register under the same names.
const (
	QueueGP   = "renewal_gp"
	QueueRobi = "renewal_robi"
)

const (
	// DefaultPageSize is the keyset page pulled per store round trip
	DefaultPageSize = 10_000
	// pageYield is the pause between pages so a multi-million row day does
	// not monopolize the pool
	pageYield = 50 * time.Millisecond
)

// QueueForOperator maps a payment channel code onto its worker queue
func QueueForOperator(code models.OperatorCode) (string, bool) {
	switch code {
	case models.OperatorGP:
		return QueueGP, true
	case models.OperatorRobi, models.OperatorRobiMife:
		return QueueRobi, true
	default:
		return "", false
	}
}

// Dispatcher walks every subscription due today and enqueues one delayed
// renewal job per row on the operator's queue. Runs once per day; the
// scheduler guarantees no overlapping executions.
type Dispatcher struct {
	repo     ports.SubscriptionRepository
	queue    ports.JobQueue
	logger   *zap.Logger
	pageSize int

	// cursor survives a failed run so the next invocation resumes where
	// the failure happened instead of re-reading the whole day.
	cursor *int64

	now func() time.Time
}

// NewDispatcher creates the daily dispatcher
func NewDispatcher(repo ports.SubscriptionRepository, queue ports.JobQueue, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		queue:    queue,
		logger:   logger,
		pageSize: DefaultPageSize,
		now:      timeutil.Now,
	}
}

// Run pages through today's renewable subscriptions and enqueues jobs.
// On error the cursor is preserved; a clean completion resets it.
func (d *Dispatcher) Run(ctx context.Context) error {
	start := d.now()
	var dispatched, skipped int

	for {
		rows, err := d.repo.FindRenewable(ctx, d.pageSize, d.cursor)
		if err != nil {
			return fmt.Errorf("dispatch: find renewable: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		now := d.now()
		for i := range rows {
			row := &rows[i]

			queue, ok := QueueForOperator(row.PaymentChannel.Code)
			if !ok {
				d.logger.Warn("Unknown operator, skipping subscription",
					zap.String("subscription_id", row.SubscriptionID),
					zap.String("operator", string(row.PaymentChannel.Code)),
				)
				observability.JobsSkipped.WithLabelValues("unknown_operator").Inc()
				skipped++
				continue
			}

			delay := row.NextBillingAt.Sub(now)
			if delay < 0 {
				d.logger.Warn("Subscription overdue, dispatching immediately",
					zap.String("subscription_id", row.SubscriptionID),
					zap.Time("next_billing_at", row.NextBillingAt),
				)
				delay = 0
			}

			job := &models.RenewalJob{SubscriptionID: row.SubscriptionID, Snapshot: *row}
			err := d.queue.Enqueue(ctx, queue, job, ports.EnqueueOptions{
				Delay:            delay,
				JobID:            row.SubscriptionID,
				RemoveOnComplete: true,
				RemoveOnFail:     false,
			})
			if err != nil {
				return fmt.Errorf("dispatch: enqueue %s on %s: %w", row.SubscriptionID, queue, err)
			}

			observability.JobsDispatched.WithLabelValues(string(row.PaymentChannel.Code)).Inc()
			dispatched++
		}

		lastID := rows[len(rows)-1].ID
		d.cursor = &lastID

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pageYield):
		}
	}

	d.cursor = nil
	d.logger.Info("Dispatch run complete",
		zap.Int("dispatched", dispatched),
		zap.Int("skipped", skipped),
		zap.Duration("took", d.now().Sub(start)),
	)
	return nil
}
