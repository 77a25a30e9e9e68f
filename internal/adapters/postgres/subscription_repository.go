package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
	"github.com/Rifat79/renewal-service/pkg/timeutil"
)

// DefaultPageSize is the page size used by the dispatcher when paging
// through due subscriptions
const DefaultPageSize = 10000

// SubscriptionRepository implements ports.SubscriptionRepository on pgx
type SubscriptionRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(pool *pgxpool.Pool, logger *zap.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool, logger: logger}
}

const findRenewableSQL = `
SELECT
    s.id,
    s.subscription_id,
    s.msisdn,
    s.status,
    s.auto_renew,
    s.next_billing_at,
    s.payment_channel_reference,
    s.consent_id,
    s.merchant_transaction_id,
    pc.id,
    pc.code,
    pc.name,
    cc.config,
    pp.id,
    pp.name,
    pp.billing_cycle_days,
    pr.id,
    pr.base_amount,
    pr.currency,
    p.id,
    p.name,
    m.id,
    m.name
FROM subscriptions s
JOIN payment_channels pc ON pc.id = s.payment_channel_id
LEFT JOIN charging_configurations cc ON cc.subscription_id = s.id
JOIN product_plans pp ON pp.id = s.product_plan_id
JOIN plan_pricings pr ON pr.id = pp.plan_pricing_id
JOIN products p ON p.id = pp.product_id
JOIN merchants m ON m.id = p.merchant_id
WHERE s.auto_renew = true
  AND s.status = ANY($1)
  AND s.next_billing_at BETWEEN $2 AND $3
  AND ($4::bigint IS NULL OR s.id > $4)
ORDER BY s.id ASC
LIMIT $5`

// FindRenewable returns due subscriptions ordered strictly ascending by id,
// starting after the cursor when one is supplied. The dispatch window is the
// current UTC calendar day.
func (r *SubscriptionRepository) FindRenewable(ctx context.Context, limit int, cursor *int64) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	now := timeutil.Now()
	statuses := []string{string(models.StatusActive), string(models.StatusSuspendedPaymentFailed)}

	rows, err := r.pool.Query(ctx, findRenewableSQL,
		statuses, timeutil.StartOfDay(now), timeutil.EndOfDay(now), cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("find renewable subscriptions: %w", err)
	}
	defer rows.Close()

	var subscriptions []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription row: %w", err)
		}
		subscriptions = append(subscriptions, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate renewable subscriptions: %w", err)
	}

	return subscriptions, nil
}

func scanSubscription(rows pgx.Rows) (models.Subscription, error) {
	var (
		sub       models.Subscription
		status    string
		operator  string
		rawConfig []byte
		amount    decimal.Decimal
	)

	err := rows.Scan(
		&sub.ID,
		&sub.SubscriptionID,
		&sub.MSISDN,
		&status,
		&sub.AutoRenew,
		&sub.NextBillingAt,
		&sub.PaymentChannelReference,
		&sub.ConsentID,
		&sub.MerchantTransactionID,
		&sub.PaymentChannel.ID,
		&operator,
		&sub.PaymentChannel.Name,
		&rawConfig,
		&sub.ProductPlan.ID,
		&sub.ProductPlan.Name,
		&sub.ProductPlan.BillingCycleDays,
		&sub.PlanPricing.ID,
		&amount,
		&sub.PlanPricing.Currency,
		&sub.Product.ID,
		&sub.Product.Name,
		&sub.Merchant.ID,
		&sub.Merchant.Name,
	)
	if err != nil {
		return sub, err
	}

	sub.Status = models.SubscriptionStatus(status)
	sub.PaymentChannel.Code = models.OperatorCode(operator)
	sub.PlanPricing.BaseAmount = amount
	sub.ChargingConfig = models.ParseChargingConfig(sub.PaymentChannel.Code, json.RawMessage(rawConfig))
	return sub, nil
}

// BulkUpdate applies every entry in one atomic UPDATE ... FROM (VALUES ...)
// statement. On success status flips to ACTIVE and last_payment_succeed_at is
// stamped; on failure status flips to SUSPENDED_PAYMENT_FAILED and
// last_payment_failed_at is stamped. The opposite timestamp is nulled.
func (r *SubscriptionRepository) BulkUpdate(ctx context.Context, updates []ports.SubscriptionBulkUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	sql, args := buildBulkUpdateSQL(updates, timeutil.Now())

	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("bulk update subscriptions: %w", err)
	}

	r.logger.Debug("Applied subscription bulk update",
		zap.Int("requested", len(updates)),
		zap.Int64("updated", tag.RowsAffected()),
	)
	return nil
}

// buildBulkUpdateSQL renders the single-statement fan-in update. Exposed at
// package level so the statement shape is unit-testable without a database.
func buildBulkUpdateSQL(updates []ports.SubscriptionBulkUpdate, now time.Time) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(updates)*3+1)

	sb.WriteString(`UPDATE subscriptions AS s SET
    status = CASE WHEN v.success THEN 'ACTIVE' ELSE 'SUSPENDED_PAYMENT_FAILED' END,
    last_payment_succeed_at = CASE WHEN v.success THEN $1 ELSE NULL END,
    last_payment_failed_at = CASE WHEN v.success THEN NULL ELSE $1 END,
    next_billing_at = v.next_billing_at,
    updated_at = $1
FROM (VALUES `)
	args = append(args, now)

	for i, u := range updates {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := len(args)
		fmt.Fprintf(&sb, "($%d, $%d::boolean, $%d::timestamptz)", base+1, base+2, base+3)
		args = append(args, u.SubscriptionID, u.Success, u.NextBillingAt)
	}

	sb.WriteString(`) AS v(subscription_id, success, next_billing_at)
WHERE s.subscription_id = v.subscription_id`)

	return sb.String(), args
}
