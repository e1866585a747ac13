package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents client-caused errors (4xx); these never
	// count toward a provider's circuit breaker
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeRateLimit represents per-provider rate limiting (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeProvider represents upstream provider errors (502/503)
	ErrorTypeProvider ErrorType = "provider"
	// ErrorTypeTimeout represents per-attempt timeouts (504)
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeThermal represents a thermal safety shutdown (503)
	ErrorTypeThermal ErrorType = "thermal"
	// ErrorTypeExhausted represents exhaustion of every fallback candidate (502)
	ErrorTypeExhausted ErrorType = "exhausted"
	// ErrorTypeCancelled represents caller-initiated cancellation (499)
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeInternal represents internal errors (500)
	ErrorTypeInternal ErrorType = "internal"
)

// Stable error codes carried on AppError.Code.
const (
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeProviderTimeout       = "PROVIDER_TIMEOUT"
	CodeThermalShutdown       = "THERMAL_SHUTDOWN"
	CodeAllProvidersExhausted = "ALL_PROVIDERS_EXHAUSTED"
	CodeCancelled             = "CANCELLED"
	CodeCircuitOpen           = "CIRCUIT_BREAKER_OPEN"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitzero"`
	Provider   string    `json:"provider,omitzero"`
	StatusCode int       `json:"-"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows error unwrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether the next fallback candidate should be tried
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// GetStatusCode returns the HTTP status code for the error
func (e *AppError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeProvider, ErrorTypeExhausted:
		return http.StatusBadGateway
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeThermal:
		return http.StatusServiceUnavailable
	case ErrorTypeCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError creates a client-caused error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewProviderError creates an upstream provider error
func NewProviderError(provider, message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeProvider,
		Message:    fmt.Sprintf("provider %s error: %s", provider, message),
		Code:       fmt.Sprintf("PROVIDER_%s_ERROR", provider),
		Provider:   provider,
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewTimeoutError creates a per-attempt timeout error; timeouts count as
// provider failures for circuit breaker accounting
func NewTimeoutError(provider string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("provider %s timed out", provider),
		Code:       CodeProviderTimeout,
		Provider:   provider,
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewRateLimitError creates a rate limit error for a provider; the router
// treats this as a fallback trigger, not a hard failure
func NewRateLimitError(provider string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Message:    fmt.Sprintf("rate limit exceeded for provider %s", provider),
		Code:       CodeRateLimitExceeded,
		Provider:   provider,
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewThermalShutdownError creates the fatal thermal error: no further
// candidates are attempted for this request
func NewThermalShutdownError(temperature float64) *AppError {
	return &AppError{
		Type:       ErrorTypeThermal,
		Message:    fmt.Sprintf("thermal state critical (%.1fC) and no local provider available", temperature),
		Code:       CodeThermalShutdown,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  false,
	}
}

// NewExhaustedError creates the terminal error returned once every fallback
// candidate has been attempted
func NewExhaustedError(attempted int) *AppError {
	return &AppError{
		Type:       ErrorTypeExhausted,
		Message:    fmt.Sprintf("all %d providers exhausted", attempted),
		Code:       CodeAllProvidersExhausted,
		StatusCode: http.StatusBadGateway,
		Retryable:  false,
	}
}

// NewCancelledError creates a caller-cancellation error; cancelled attempts
// count as neither success nor failure in breaker and limiter accounting
func NewCancelledError(cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeCancelled,
		Message:    "request cancelled by caller",
		Code:       CodeCancelled,
		StatusCode: 499,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// ClassifyProviderStatus maps an upstream HTTP status to the router taxonomy.
// 4xx responses (other than 408 and 429) are client-caused and excluded from
// circuit breaker accounting.
func ClassifyProviderStatus(provider string, status int, cause error) *AppError {
	switch {
	case status == http.StatusTooManyRequests:
		return NewRateLimitError(provider, cause)
	case status == http.StatusRequestTimeout:
		return NewTimeoutError(provider, cause)
	case status >= 400 && status < 500:
		err := NewValidationError(fmt.Sprintf("provider %s rejected request (status %d)", provider, status), cause)
		err.Provider = provider
		return err
	default:
		return NewProviderError(provider, fmt.Sprintf("upstream status %d", status), cause)
	}
}

// CountsAsProviderFailure reports whether err should increment the provider's
// circuit breaker failure count. Client-caused and cancellation errors do not.
func CountsAsProviderFailure(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		// Unclassified errors are treated as provider-level failures.
		return true
	}
	switch appErr.Type {
	case ErrorTypeProvider, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// IsCancellation reports whether err stems from caller-initiated cancellation
// rather than an attempt timeout.
func IsCancellation(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeCancelled
	}
	return errors.Is(err, context.Canceled)
}

// SanitizeError sanitizes an error for external consumption
func SanitizeError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:       appErr.Type,
			Message:    appErr.Message,
			Code:       appErr.Code,
			Provider:   appErr.Provider,
			StatusCode: appErr.GetStatusCode(),
			Retryable:  appErr.Retryable,
		}
	}
	return NewInternalError("an unexpected error occurred", err)
}
