package ports

import (
	"context"
	"time"

	"github.com/Rifat79/renewal-service/internal/domain/models"
)

// SubscriptionBulkUpdate is the narrow write the renewal pipeline applies to
// a subscription after a charge attempt has been consumed
type SubscriptionBulkUpdate struct {
	SubscriptionID string
	Success        bool
	NextBillingAt  time.Time
}

// SubscriptionRepository reads due subscriptions and applies renewal results.
// FindRenewable pages with a keyset cursor on the integer id: rows are
// returned strictly ascending and only rows with id > cursor are included
// when cursor is non-nil.
type SubscriptionRepository interface {
	FindRenewable(ctx context.Context, limit int, cursor *int64) ([]models.Subscription, error)
	// BulkUpdate applies status, last payment timestamps and next_billing_at
	// for every entry in a single atomic statement. Partial application is
	// forbidden; the statement either commits for all rows or for none.
	BulkUpdate(ctx context.Context, updates []SubscriptionBulkUpdate) error
}

// BillingEventRepository appends terminal charge outcomes
type BillingEventRepository interface {
	// CreateMany inserts the rows atomically; a constraint violation fails
	// the whole batch.
	CreateMany(ctx context.Context, events []models.BillingEvent) error
}
