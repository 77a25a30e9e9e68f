package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
	pkgerrors "github.com/Rifat79/renewal-service/pkg/errors"
	"github.com/Rifat79/renewal-service/pkg/observability"
	"github.com/Rifat79/renewal-service/pkg/timeutil"
)

// requeueDelay is how long a failed GP charge waits before its same-day
// retry. A retry that would land after local midnight is not scheduled;
// the next daily dispatch picks the subscription up instead.
const requeueDelay = 8 * time.Hour

// Worker handles one operator queue: charge, optional same-day re-queue,
// ledger append. One Worker instance serves one queue; its concurrency is
// set at registration time.
type Worker struct {
	gateway   ports.ChargeGateway
	queue     ports.JobQueue
	ledger    ports.ResultLedger
	queueName string
	// requeue enables the same-day retry policy. GP uses it; ROBI does not.
	requeue bool
	loc     *time.Location
	logger  *zap.Logger

	now func() time.Time
}

// NewWorker creates a worker for one operator queue
func NewWorker(gateway ports.ChargeGateway, queue ports.JobQueue, ledger ports.ResultLedger, queueName string, requeue bool, logger *zap.Logger) *Worker {
	return &Worker{
		gateway:   gateway,
		queue:     queue,
		ledger:    ledger,
		queueName: queueName,
		requeue:   requeue,
		loc:       timeutil.LoadDhaka(),
		logger:    logger,
		now:       timeutil.Now,
	}
}

// Register attaches the worker to its queue with the given concurrency
func (w *Worker) Register(concurrency int) error {
	return w.queue.RegisterWorker(w.queueName, concurrency, w.Handle)
}

// Handle processes one delivered renewal job: mint a payment reference,
// charge, apply the re-queue policy, append the outcome to the ledger.
func (w *Worker) Handle(ctx context.Context, job *models.RenewalJob) error {
	snapshot := &job.Snapshot
	operator := string(w.gateway.Operator())
	paymentRef := uuid.NewString()

	req := &ports.ChargeRequest{
		SubscriptionID:     job.SubscriptionID,
		PaymentReferenceID: paymentRef,
		MSISDN:             snapshot.MSISDN,
		Amount:             snapshot.Amount(),
		Currency:           snapshot.Currency(),
		Description:        fmt.Sprintf("%s subscription renewal", snapshot.Product.Name),
		ReferenceCode:      snapshot.MerchantTransactionID,
		BillingCycleDays:   snapshot.ProductPlan.BillingCycleDays,
		ProductID:          snapshot.Product.ID,
		ProductName:        snapshot.Product.Name,
		ChargingConfig:     snapshot.ChargingConfig,
		ConsentID:          snapshot.ConsentID,
	}

	result, err := w.gateway.Charge(ctx, req)
	if err != nil {
		var chargeErr *pkgerrors.ChargeError
		if errors.As(err, &chargeErr) && chargeErr.Category == pkgerrors.CategoryConfigMissing {
			// No charging configuration for this operator. The subscription
			// is left untouched; tomorrow's dispatch reconsiders it.
			w.logger.Warn("Charging configuration missing, skipping job",
				zap.String("subscription_id", job.SubscriptionID),
				zap.String("operator", operator),
			)
			observability.JobsSkipped.WithLabelValues("missing_config").Inc()
			return nil
		}
		return fmt.Errorf("charge %s: %w", job.SubscriptionID, err)
	}

	outcomeLabel := "failure"
	if result.Success {
		outcomeLabel = "success"
	}
	observability.ChargeAttempts.WithLabelValues(operator, outcomeLabel).Inc()
	observability.ChargeDuration.WithLabelValues(operator).Observe(float64(result.DurationMS) / 1000)

	if !result.Success && w.requeue {
		w.maybeRequeue(ctx, job)
	}

	outcome := &models.ChargeOutcome{
		SubscriptionID:     job.SubscriptionID,
		Snapshot:           *snapshot,
		Timestamp:          w.now(),
		Success:            result.Success,
		PaymentReferenceID: paymentRef,
		HTTPStatus:         result.HTTPStatus,
		RequestPayload:     result.RequestPayload,
		ResponsePayload:    result.ResponsePayload,
		ResponseDurationMS: result.DurationMS,
		Error:              result.Error,
		Message:            result.Message,
	}
	entry, err := outcome.Marshal()
	if err != nil {
		return fmt.Errorf("marshal outcome %s: %w", job.SubscriptionID, err)
	}
	if err := w.ledger.PushTail(ctx, entry); err != nil {
		return fmt.Errorf("ledger append %s: %w", job.SubscriptionID, err)
	}

	return nil
}

// maybeRequeue schedules a single same-day retry when the delay still fits
// before the next Dhaka midnight. The retry carries its own job id so the
// dedup guard of the in-flight delivery does not swallow it. A re-queue
// failure is logged, never surfaced; the outcome append must still happen.
func (w *Worker) maybeRequeue(ctx context.Context, job *models.RenewalJob) {
	now := w.now()
	if !timeutil.FitsBeforeLocalMidnight(now, requeueDelay, w.loc) {
		w.logger.Info("Retry would cross local midnight, leaving to next dispatch",
			zap.String("subscription_id", job.SubscriptionID),
		)
		return
	}

	err := w.queue.Enqueue(ctx, w.queueName, job, ports.EnqueueOptions{
		Delay:            requeueDelay,
		JobID:            job.SubscriptionID + ":retry",
		RemoveOnComplete: true,
		RemoveOnFail:     true,
	})
	if err != nil {
		w.logger.Error("Same-day re-queue failed",
			zap.String("subscription_id", job.SubscriptionID),
			zap.Error(err),
		)
		return
	}

	observability.Requeues.WithLabelValues(string(w.gateway.Operator())).Inc()
	w.logger.Info("Scheduled same-day retry",
		zap.String("subscription_id", job.SubscriptionID),
		zap.Duration("delay", requeueDelay),
	)
}
