package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/config"
	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
	pkgerrors "github.com/Rifat79/renewal-service/pkg/errors"
)

// robiChargedStatus is the operation status Robi reports on success
const robiChargedStatus = "charged"

// RobiAdapter implements ports.ChargeGateway for the Robi renewal API
type RobiAdapter struct {
	cfg        config.GatewayConfig
	httpClient ports.HTTPClient
	logger     *zap.Logger
}

// NewRobiAdapter creates a new Robi gateway adapter
func NewRobiAdapter(cfg config.GatewayConfig, httpClient ports.HTTPClient, logger *zap.Logger) *RobiAdapter {
	return &RobiAdapter{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Operator implements ports.ChargeGateway
func (a *RobiAdapter) Operator() models.OperatorCode { return models.OperatorRobi }

// robiRenewRequest is the renewSubscription request body
type robiRenewRequest struct {
	APIKey               string `json:"apiKey"`
	Username             string `json:"username"`
	SPTransID            string `json:"spTransID"`
	Description          string `json:"description"`
	Currency             string `json:"currency"`
	Amount               string `json:"amount"`
	OnBehalfOf           string `json:"onBehalfOf"`
	PurchaseCategoryCode string `json:"purchaseCategoryCode"`
	ReferenceCode        string `json:"referenceCode"`
	Channel              string `json:"channel"`
	TaxAmount            int    `json:"taxAmount"`
	MSISDN               string `json:"msisdn"`
	Operator             string `json:"operator"`
	SubscriptionID       string `json:"subscriptionID"`
	UnSubURL             string `json:"unSubURL"`
	ContactInfo          string `json:"contactInfo"`
}

// robiRenewResponse is the subset of the response this service inspects
type robiRenewResponse struct {
	TransactionOperationStatus string `json:"transactionOperationStatus"`
	ServerReferenceCode        string `json:"serverReferenceCode"`
	Description                string `json:"description"`
}

// Charge implements ports.ChargeGateway. Success iff the response's
// transactionOperationStatus equals "charged", case-insensitively; the HTTP
// status alone decides nothing.
func (a *RobiAdapter) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResult, error) {
	robiCfg, ok := req.ChargingConfig.Robi()
	if !ok {
		return nil, pkgerrors.NewChargeError(
			"ROBI_CONFIG_MISSING",
			"robi charging configuration is required",
			pkgerrors.CategoryConfigMissing,
			false,
		)
	}

	currency := req.Currency
	if currency == "" {
		currency = "BDT"
	}

	body := robiRenewRequest{
		APIKey:               robiCfg.APIKey,
		Username:             robiCfg.Username,
		SPTransID:            req.PaymentReferenceID,
		Description:          req.Description,
		Currency:             currency,
		Amount:               req.Amount.String(),
		OnBehalfOf:           robiCfg.OnBehalfOf,
		PurchaseCategoryCode: robiCfg.PurchaseCategoryCode,
		ReferenceCode:        req.ReferenceCode,
		Channel:              robiCfg.Channel,
		TaxAmount:            0,
		MSISDN:               req.MSISDN,
		Operator:             "ROBI",
		SubscriptionID:       robiCfg.SubscriptionID,
		UnSubURL:             robiCfg.UnSubURL,
		ContactInfo:          robiCfg.ContactInfo,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("robi charge: marshal request: %w", err)
	}

	url := a.cfg.BaseURL + "/api/renewSubscription"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("robi charge: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := a.httpClient.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		a.logger.Warn("Robi charge transport failure",
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
		return nil, fmt.Errorf("robi charge: read response: %w", err)
	}

	var resp robiRenewResponse
	// A non-JSON body is simply a failed charge, not a transport error.
	_ = json.Unmarshal(respBody, &resp)

	success := strings.EqualFold(resp.TransactionOperationStatus, robiChargedStatus)

	result := &ports.ChargeResult{
		Success:         success,
		HTTPStatus:      httpResp.StatusCode,
		RequestPayload:  string(payload),
		ResponsePayload: string(respBody),
		DurationMS:      duration.Milliseconds(),
	}
	if success {
		result.Message = "charged"
	} else {
		result.Message = fmt.Sprintf("transactionOperationStatus=%q", resp.TransactionOperationStatus)
		result.Error = &models.OutcomeError{
			Code:    "NOT_CHARGED",
			Message: result.Message,
		}
	}

	return result, nil
}
