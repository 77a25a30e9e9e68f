package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// NotificationEventType classifies the downstream notification
type NotificationEventType string

const (
	EventRenewSuccess NotificationEventType = "renew.success"
	EventRenewFail    NotificationEventType = "renew.fail"
)

// NotificationSource tags every payload emitted by this service
const NotificationSource = "dcb-renewal-service"

// NotificationPayload is the envelope body published to the broker after a
// charge attempt has been persisted
type NotificationPayload struct {
	ID                    string                `json:"id"`
	Source                string                `json:"source"`
	SubscriptionID        string                `json:"subscription_id"`
	MerchantTransactionID string                `json:"merchant_transaction_id"`
	Keyword               string                `json:"keyword"`
	MSISDN                string                `json:"msisdn"`
	PaymentProvider       string                `json:"payment_provider"`
	EventType             NotificationEventType `json:"event_type"`
	Amount                decimal.Decimal       `json:"amount"`
	Currency              string                `json:"currency"`
	BillingCycleDays      int                   `json:"billing_cycle_days"`
	Metadata              map[string]string     `json:"metadata,omitempty"`
	Timestamp             time.Time             `json:"timestamp"`
}

// FallbackMessage wraps a notification that could not be handed to the
// broker, parked in the fallback KV until the retrier redelivers it
type FallbackMessage struct {
	NotificationPayload
	FailedAt   time.Time `json:"failed_at"`
	RetryCount int       `json:"retry_count"`
}

// Marshal serializes the fallback message for the KV store
func (m *FallbackMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalFallbackMessage parses a fallback KV value
func UnmarshalFallbackMessage(data []byte) (*FallbackMessage, error) {
	var m FallbackMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
