package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/domain/models"
)

// BillingEventRepository implements ports.BillingEventRepository on pgx
type BillingEventRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewBillingEventRepository creates a new billing event repository
func NewBillingEventRepository(pool *pgxpool.Pool, logger *zap.Logger) *BillingEventRepository {
	return &BillingEventRepository{pool: pool, logger: logger}
}

var billingEventColumns = []string{
	"subscription_id",
	"merchant_id",
	"product_id",
	"plan_id",
	"payment_channel_id",
	"msisdn",
	"payment_reference_id",
	"event_type",
	"status",
	"amount",
	"currency",
	"request_payload",
	"response_payload",
	"response_message",
	"duration_ms",
	"response_code",
}

// CreateMany appends the rows inside one transaction using COPY. A constraint
// violation on any row aborts the whole batch.
func (r *BillingEventRepository) CreateMany(ctx context.Context, events []models.BillingEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin billing event insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"billing_events"},
		billingEventColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{
				e.SubscriptionID,
				e.MerchantID,
				e.ProductID,
				e.PlanID,
				e.PaymentChannelID,
				e.MSISDN,
				e.PaymentReferenceID,
				e.EventType,
				string(e.Status),
				e.Amount,
				e.Currency,
				e.RequestPayload,
				e.ResponsePayload,
				e.ResponseMessage,
				e.DurationMS,
				e.ResponseCode,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy billing events: %w", err)
	}
	if copied != int64(len(events)) {
		return fmt.Errorf("copy billing events: wrote %d of %d rows", copied, len(events))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit billing events: %w", err)
	}

	r.logger.Debug("Inserted billing events", zap.Int("count", len(events)))
	return nil
}
