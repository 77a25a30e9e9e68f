package models

import "github.com/shopspring/decimal"

// BillingEventStatus is the terminal state recorded for a charge attempt
type BillingEventStatus string

const (
	BillingSuccess BillingEventStatus = "SUCCESS"
	BillingFailed  BillingEventStatus = "FAILED"
)

// EventTypeRenewal is the only event type this service appends
const EventTypeRenewal = "RENEWAL"

// BillingEvent is an append-only audit row for one charge attempt
type BillingEvent struct {
	SubscriptionID     string             `json:"subscription_id"`
	MerchantID         string             `json:"merchant_id"`
	ProductID          string             `json:"product_id"`
	PlanID             int64              `json:"plan_id"`
	PaymentChannelID   int64              `json:"payment_channel_id"`
	MSISDN             string             `json:"msisdn"`
	PaymentReferenceID string             `json:"payment_reference_id"`
	EventType          string             `json:"event_type"`
	Status             BillingEventStatus `json:"status"`
	Amount             decimal.Decimal    `json:"amount"`
	Currency           string             `json:"currency"`
	RequestPayload     string             `json:"request_payload"`
	ResponsePayload    string             `json:"response_payload"`
	ResponseMessage    string             `json:"response_message"`
	DurationMS         int64              `json:"duration_ms"`
	ResponseCode       string             `json:"response_code"`
}
