package errors

import "fmt"

// ErrorCategory represents the category of a charge error for handling
type ErrorCategory string

const (
	CategoryDeclined       ErrorCategory = "declined"
	CategoryNetworkError   ErrorCategory = "network_error"
	CategoryGatewayError   ErrorCategory = "gateway_error"
	CategoryInvalidRequest ErrorCategory = "invalid_request"
	CategoryConfigMissing  ErrorCategory = "config_missing"
)

// ChargeError represents a carrier gateway failure with enough context for
// the outcome record and the logs
type ChargeError struct {
	Code           string
	Message        string
	GatewayMessage string
	IsRetriable    bool
	Category       ErrorCategory
}

func (e *ChargeError) Error() string {
	if e.GatewayMessage != "" {
		return fmt.Sprintf("%s: %s (gateway: %s)", e.Code, e.Message, e.GatewayMessage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewChargeError creates a new charge error
func NewChargeError(code, message string, category ErrorCategory, retriable bool) *ChargeError {
	return &ChargeError{
		Code:        code,
		Message:     message,
		Category:    category,
		IsRetriable: retriable,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
