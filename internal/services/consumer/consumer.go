package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/adapters/redisstore"
	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
	"github.com/Rifat79/renewal-service/pkg/observability"
	"github.com/Rifat79/renewal-service/pkg/resilience"
	"github.com/Rifat79/renewal-service/pkg/timeutil"
)

const (
	// MaxBatchSize bounds one drain so a deep backlog is worked off in
	// successive ticks instead of one giant transaction
	MaxBatchSize = 250
	// notifyConcurrency bounds the notification fan-out per chunk
	notifyConcurrency = 10
)

// Consumer drains the result ledger every tick, applies the bulk store
// mutations and fans the notifications out to the broker. Failed batches
// are pushed back to the ledger tail; duplicate processing downstream is
// absorbed by the merchant transaction id.
type Consumer struct {
	ledger   ports.ResultLedger
	subs     ports.SubscriptionRepository
	events   ports.BillingEventRepository
	broker   ports.NotificationBroker
	fallback ports.FallbackStore
	logger   *zap.Logger

	timeouts *resilience.TimeoutConfig
	now      func() time.Time
}

// NewConsumer creates the ledger drain consumer
func NewConsumer(
	ledger ports.ResultLedger,
	subs ports.SubscriptionRepository,
	events ports.BillingEventRepository,
	broker ports.NotificationBroker,
	fallback ports.FallbackStore,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		ledger:   ledger,
		subs:     subs,
		events:   events,
		broker:   broker,
		fallback: fallback,
		logger:   logger,
		timeouts: resilience.DefaultTimeoutConfig(),
		now:      timeutil.Now,
	}
}

// Run performs one bounded drain. Returns nil on an empty ledger.
func (c *Consumer) Run(ctx context.Context) error {
	raw := c.drain(ctx)
	if len(raw) == 0 {
		return nil
	}
	observability.DrainBatchSize.Observe(float64(len(raw)))

	now := c.now()
	updates := make([]ports.SubscriptionBulkUpdate, 0, len(raw))
	events := make([]models.BillingEvent, 0, len(raw))
	notifications := make([]*models.NotificationPayload, 0, len(raw))

	for _, entry := range raw {
		outcome, err := models.UnmarshalChargeOutcome(entry)
		if err != nil {
			c.logger.Error("Malformed ledger entry skipped",
				zap.Error(err),
				zap.ByteString("entry", entry),
			)
			continue
		}

		updates = append(updates, buildUpdate(outcome, now))
		events = append(events, buildEvent(outcome))
		notifications = append(notifications, buildNotification(outcome, now))
	}

	if len(updates) == 0 {
		return nil
	}

	if err := c.bulkWrite(ctx, func(writeCtx context.Context) error {
		return c.subs.BulkUpdate(writeCtx, updates)
	}); err != nil {
		return c.pushBack(ctx, raw, fmt.Errorf("bulk update: %w", err))
	}
	if err := c.bulkWrite(ctx, func(writeCtx context.Context) error {
		return c.events.CreateMany(writeCtx, events)
	}); err != nil {
		return c.pushBack(ctx, raw, fmt.Errorf("create billing events: %w", err))
	}

	c.sendBatch(ctx, notifications)

	c.logger.Info("Drain complete",
		zap.Int("outcomes", len(raw)),
		zap.Int("applied", len(updates)),
	)
	return nil
}

// bulkWrite bounds one store mutation inside the drain tick
func (c *Consumer) bulkWrite(ctx context.Context, fn func(context.Context) error) error {
	writeCtx, cancel := c.timeouts.BulkWriteContext(ctx)
	defer cancel()
	return fn(writeCtx)
}

// drain pops up to MaxBatchSize entries, stopping at the first empty pop
func (c *Consumer) drain(ctx context.Context) [][]byte {
	var raw [][]byte
	for len(raw) < MaxBatchSize {
		entry, err := c.ledger.PopHead(ctx)
		if err != nil {
			c.logger.Error("Ledger pop failed, processing partial batch", zap.Error(err))
			break
		}
		if entry == nil {
			break
		}
		raw = append(raw, entry)
	}
	return raw
}

// pushBack returns unprocessed entries to the ledger tail so the next tick
// retries them. Entries that cannot be pushed back are logged and lost.
func (c *Consumer) pushBack(ctx context.Context, raw [][]byte, cause error) error {
	observability.DrainFailures.Inc()

	var lost int
	for _, entry := range raw {
		if err := c.ledger.PushTail(ctx, entry); err != nil {
			lost++
			c.logger.Error("Failed to return entry to ledger",
				zap.Error(err),
				zap.ByteString("entry", entry),
			)
		}
	}
	if lost > 0 {
		c.logger.Error("Ledger entries lost during batch recovery", zap.Int("lost", lost))
	}

	return fmt.Errorf("drain batch of %d: %w", len(raw), cause)
}

// sendBatch publishes notifications with bounded fan-out. A payload the
// broker refuses, or any payload while the broker is down, is parked in
// the fallback store for the retrier.
func (c *Consumer) sendBatch(ctx context.Context, notifications []*models.NotificationPayload) {
	sem := make(chan struct{}, notifyConcurrency)
	var wg sync.WaitGroup

	for _, payload := range notifications {
		wg.Add(1)
		sem <- struct{}{}
		go func(p *models.NotificationPayload) {
			defer wg.Done()
			defer func() { <-sem }()
			c.sendOne(ctx, p)
		}(payload)
	}

	wg.Wait()
}

func (c *Consumer) sendOne(ctx context.Context, payload *models.NotificationPayload) {
	if c.broker.IsConnected() {
		err := c.broker.Publish(ctx, payload, 0)
		if err == nil {
			observability.NotificationsPublished.WithLabelValues("success").Inc()
			return
		}
		c.logger.Warn("Notification publish failed, parking in fallback",
			zap.String("notification_id", payload.ID),
			zap.Error(err),
		)
	}

	observability.NotificationsPublished.WithLabelValues("fallback").Inc()
	msg := &models.FallbackMessage{
		NotificationPayload: *payload,
		FailedAt:            c.now(),
		RetryCount:          0,
	}
	value, err := msg.Marshal()
	if err != nil {
		c.logger.Error("Failed to serialize fallback message",
			zap.String("notification_id", payload.ID),
			zap.Error(err),
		)
		return
	}
	if err := c.fallback.Set(ctx, redisstore.FallbackKey(payload.ID), value); err != nil {
		c.logger.Error("Failed to park notification in fallback",
			zap.String("notification_id", payload.ID),
			zap.Error(err),
		)
	}
}

func buildUpdate(o *models.ChargeOutcome, now time.Time) ports.SubscriptionBulkUpdate {
	cycle := o.Snapshot.ProductPlan.BillingCycleDays
	return ports.SubscriptionBulkUpdate{
		SubscriptionID: o.SubscriptionID,
		Success:        o.Success,
		NextBillingAt:  now.Add(time.Duration(cycle) * 24 * time.Hour),
	}
}

func buildEvent(o *models.ChargeOutcome) models.BillingEvent {
	status := models.BillingFailed
	if o.Success {
		status = models.BillingSuccess
	}

	responseCode := ""
	if o.Error != nil {
		responseCode = o.Error.Code
	}

	return models.BillingEvent{
		SubscriptionID:     o.SubscriptionID,
		MerchantID:         o.Snapshot.Merchant.ID,
		ProductID:          o.Snapshot.Product.ID,
		PlanID:             o.Snapshot.ProductPlan.ID,
		PaymentChannelID:   o.Snapshot.PaymentChannel.ID,
		MSISDN:             o.Snapshot.MSISDN,
		PaymentReferenceID: o.PaymentReferenceID,
		EventType:          models.EventTypeRenewal,
		Status:             status,
		Amount:             o.Snapshot.Amount(),
		Currency:           o.Snapshot.Currency(),
		RequestPayload:     o.RequestPayload,
		ResponsePayload:    o.ResponsePayload,
		ResponseMessage:    o.Message,
		DurationMS:         o.ResponseDurationMS,
		ResponseCode:       responseCode,
	}
}

func buildNotification(o *models.ChargeOutcome, now time.Time) *models.NotificationPayload {
	eventType := models.EventRenewFail
	if o.Success {
		eventType = models.EventRenewSuccess
	}

	return &models.NotificationPayload{
		ID:                    uuid.NewString(),
		Source:                models.NotificationSource,
		SubscriptionID:        o.SubscriptionID,
		MerchantTransactionID: o.Snapshot.MerchantTransactionID,
		Keyword:               o.Snapshot.Product.Name,
		MSISDN:                o.Snapshot.MSISDN,
		PaymentProvider:       string(o.Snapshot.PaymentChannel.Code),
		EventType:             eventType,
		Amount:                o.Snapshot.Amount(),
		Currency:              o.Snapshot.Currency(),
		BillingCycleDays:      o.Snapshot.ProductPlan.BillingCycleDays,
		Timestamp:             now,
	}
}
