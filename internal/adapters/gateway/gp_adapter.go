package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/config"
	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
)

// gpChannel tags every renewal charge initiated by this service
const gpChannel = "SelfWeb"

// gameProductIDs are the products GP requires a purchase category code for
var gameProductIDs = map[string]bool{
	"XPGames":  true,
	"GameApex": true,
}

// GPAdapter implements ports.ChargeGateway for the Grameenphone partner
// payment API
type GPAdapter struct {
	cfg        config.GatewayConfig
	httpClient ports.HTTPClient
	logger     *zap.Logger
}

// NewGPAdapter creates a new GP gateway adapter
func NewGPAdapter(cfg config.GatewayConfig, httpClient ports.HTTPClient, logger *zap.Logger) *GPAdapter {
	return &GPAdapter{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Operator implements ports.ChargeGateway
func (a *GPAdapter) Operator() models.OperatorCode { return models.OperatorGP }

// gpChargingInformation is the inner amount block of a GP charge
type gpChargingInformation struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// gpChargingMetaData carries the subscription context of a GP charge
type gpChargingMetaData struct {
	SubscriptionPeriod   string `json:"subscriptionPeriod"`
	PurchaseCategoryCode string `json:"purchaseCategoryCode,omitempty"`
	OnBehalfOf           string `json:"onBehalfOf,omitempty"`
}

// gpAmountTransaction is the GP charge request body
type gpAmountTransaction struct {
	AmountTransaction struct {
		EndUserID     string `json:"endUserId"`
		PaymentAmount struct {
			ChargingInformation gpChargingInformation `json:"chargingInformation"`
			ChargingMetaData    gpChargingMetaData    `json:"chargingMetaData"`
		} `json:"paymentAmount"`
		ReferenceCode string `json:"referenceCode"`
		Channel       string `json:"channel"`
	} `json:"amountTransaction"`
}

// Charge implements ports.ChargeGateway. Success is HTTP 200; any other
// status is a gateway-declared failure carried in the result.
func (a *GPAdapter) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResult, error) {
	body := gpAmountTransaction{}
	body.AmountTransaction.EndUserID = req.MSISDN
	body.AmountTransaction.PaymentAmount.ChargingInformation = gpChargingInformation{
		Amount:      req.Amount.String(),
		Currency:    req.Currency,
		Description: req.Description,
	}
	meta := gpChargingMetaData{
		SubscriptionPeriod: SubscriptionPeriod(req.BillingCycleDays),
	}
	if gameProductIDs[req.ProductID] {
		meta.PurchaseCategoryCode = "Game"
	}
	body.AmountTransaction.PaymentAmount.ChargingMetaData = meta
	body.AmountTransaction.ReferenceCode = req.ReferenceCode
	body.AmountTransaction.Channel = gpChannel

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gp charge: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/partner/payment/v1/%s/transactions/amount", a.cfg.BaseURL, req.MSISDN)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gp charge: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(a.cfg.BasicAuthUser, a.cfg.BasicAuthPass)

	start := time.Now()
	httpResp, err := a.httpClient.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		a.logger.Warn("GP charge transport failure",
			zap.String("subscription_id", req.SubscriptionID),
			zap.Error(err),
		)
		return &ports.ChargeResult{
			Success:        false,
			HTTPStatus:     http.StatusGatewayTimeout,
			RequestPayload: string(payload),
			DurationMS:     duration.Milliseconds(),
			Error: &models.OutcomeError{
				Code:    "GATEWAY_UNREACHABLE",
				Message: err.Error(),
			},
			Message: "no response from gateway",
		}, nil
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("gp charge: read response: %w", err)
	}

	result := &ports.ChargeResult{
		Success:         httpResp.StatusCode == http.StatusOK,
		HTTPStatus:      httpResp.StatusCode,
		RequestPayload:  string(payload),
		ResponsePayload: string(respBody),
		DurationMS:      duration.Milliseconds(),
	}
	if result.Success {
		result.Message = "charged"
	} else {
		result.Message = fmt.Sprintf("gateway returned HTTP %d", httpResp.StatusCode)
		result.Error = &models.OutcomeError{
			Code:    fmt.Sprintf("HTTP_%d", httpResp.StatusCode),
			Message: result.Message,
		}
	}

	return result, nil
}
