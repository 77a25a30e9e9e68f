package models

import (
	"encoding/json"
	"time"
)

// RenewalJob is the payload delivered through the per-operator job queue.
// The snapshot is the full joined subscription row at dispatch time so the
// worker never re-reads the database on the hot path.
type RenewalJob struct {
	SubscriptionID string       `json:"subscription_id"`
	Snapshot       Subscription `json:"snapshot"`
}

// OutcomeError carries the gateway-declared or transport-level failure detail
type OutcomeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChargeOutcome is the terminal record of a single charge attempt, appended
// to the result ledger by workers and drained by the result consumer.
type ChargeOutcome struct {
	SubscriptionID     string        `json:"subscription_id"`
	Snapshot           Subscription  `json:"snapshot"`
	Timestamp          time.Time     `json:"timestamp"`
	Success            bool          `json:"success"`
	PaymentReferenceID string        `json:"payment_reference_id"`
	HTTPStatus         int           `json:"http_status"`
	RequestPayload     string        `json:"request_payload"`
	ResponsePayload    string        `json:"response_payload"`
	ResponseDurationMS int64         `json:"response_duration_ms"`
	Error              *OutcomeError `json:"error,omitempty"`
	Message            string        `json:"message"`
}

// Marshal serializes the outcome for the ledger
func (o *ChargeOutcome) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

// UnmarshalChargeOutcome parses a ledger entry
func UnmarshalChargeOutcome(data []byte) (*ChargeOutcome, error) {
	var o ChargeOutcome
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
