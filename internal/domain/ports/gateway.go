package ports

import (
	"context"

	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/shopspring/decimal"
)

// ChargeRequest is the canonical charge attempt handed to a carrier gateway.
// Operator-specific request shaping happens inside the adapter.
type ChargeRequest struct {
	SubscriptionID     string
	PaymentReferenceID string
	MSISDN             string
	Amount             decimal.Decimal
	Currency           string
	Description        string
	ReferenceCode      string
	BillingCycleDays   int
	ProductID          string
	ProductName        string
	ChargingConfig     models.ChargingConfig
	ConsentID          string
}

// ChargeResult is the uniform result every gateway adapter returns. A
// gateway-declared failure (non-2xx, rejected operation status) is reported
// here with Success=false, not as a Go error; Charge only returns an error
// for programmer mistakes such as an unserializable request.
type ChargeResult struct {
	Success         bool
	HTTPStatus      int
	RequestPayload  string
	ResponsePayload string
	DurationMS      int64
	Error           *models.OutcomeError
	Message         string
}

// ChargeGateway invokes one carrier's renewal charge API
type ChargeGateway interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
	// Operator reports which payment channel this gateway serves
	Operator() models.OperatorCode
}
