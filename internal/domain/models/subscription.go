package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents the lifecycle state of a subscription
type SubscriptionStatus string

const (
	StatusActive                 SubscriptionStatus = "ACTIVE"
	StatusSuspendedPaymentFailed SubscriptionStatus = "SUSPENDED_PAYMENT_FAILED"
	StatusCancelled              SubscriptionStatus = "CANCELLED"
	StatusExpired                SubscriptionStatus = "EXPIRED"
)

// OperatorCode identifies the carrier payment channel
type OperatorCode string

const (
	OperatorGP       OperatorCode = "GP"
	OperatorRobi     OperatorCode = "ROBI"
	OperatorRobiMife OperatorCode = "ROBI_MIFE"
)

// PaymentChannel is the carrier the subscription bills through
type PaymentChannel struct {
	ID   int64        `json:"id"`
	Code OperatorCode `json:"code"`
	Name string       `json:"name"`
}

// ProductPlan carries the billing cadence of the subscribed plan
type ProductPlan struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	BillingCycleDays int    `json:"billing_cycle_days"`
}

// PlanPricing carries the renewal price of the subscribed plan
type PlanPricing struct {
	ID         int64           `json:"id"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	Currency   string          `json:"currency"`
}

// Product is the content product the subscription grants access to
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Merchant owns the product being billed
type Merchant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Subscription is the fully joined row read from the subscription store.
// The renewal pipeline only reads these fields and writes back the narrow
// bulk update in ports.SubscriptionBulkUpdate; everything else is owned by
// the provisioning side.
type Subscription struct {
	// ID is the monotone integer primary key used as the paging cursor.
	ID int64 `json:"id"`
	// SubscriptionID is the opaque, globally unique business identifier.
	SubscriptionID          string             `json:"subscription_id"`
	MSISDN                  string             `json:"msisdn"`
	Status                  SubscriptionStatus `json:"status"`
	AutoRenew               bool               `json:"auto_renew"`
	NextBillingAt           time.Time          `json:"next_billing_at"`
	PaymentChannel          PaymentChannel     `json:"payment_channel"`
	ChargingConfig          ChargingConfig     `json:"charging_configurations"`
	ProductPlan             ProductPlan        `json:"product_plan"`
	PlanPricing             PlanPricing        `json:"plan_pricing"`
	Product                 Product            `json:"product"`
	Merchant                Merchant           `json:"merchant"`
	PaymentChannelReference string             `json:"payment_channel_reference"`
	ConsentID               string             `json:"consent_id"`
	MerchantTransactionID   string             `json:"merchant_transaction_id"`
	LastPaymentSucceedAt    *time.Time         `json:"last_payment_succeed_at,omitempty"`
	LastPaymentFailedAt     *time.Time         `json:"last_payment_failed_at,omitempty"`
}

// Amount returns the renewal amount, zero when pricing is absent
func (s *Subscription) Amount() decimal.Decimal {
	return s.PlanPricing.BaseAmount
}

// Currency returns the pricing currency, defaulting to BDT
func (s *Subscription) Currency() string {
	if s.PlanPricing.Currency == "" {
		return "BDT"
	}
	return s.PlanPricing.Currency
}
