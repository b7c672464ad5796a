// Package errors provides unified error handling for the service layer
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Authentication errors (1xxx)
	ErrCodeUnauthorized     ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken     ErrorCode = "AUTH_1002"
	ErrCodeTokenExpired     ErrorCode = "AUTH_1003"
	ErrCodeInvalidSignature ErrorCode = "AUTH_1004"

	// Authorization errors (2xxx)
	ErrCodeForbidden         ErrorCode = "AUTHZ_2001"
	ErrCodeInsufficientFunds ErrorCode = "AUTHZ_2002"
	ErrCodeOwnershipRequired ErrorCode = "AUTHZ_2003"

	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_3003"
	ErrCodeOutOfRange       ErrorCode = "VAL_3004"

	// Resource errors (4xxx)
	ErrCodeNotFound      ErrorCode = "RES_4001"
	ErrCodeAlreadyExists ErrorCode = "RES_4002"
	ErrCodeConflict      ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeDatabaseError     ErrorCode = "SVC_5002"
	ErrCodeExternalAPI       ErrorCode = "SVC_5003"
	ErrCodeTimeout           ErrorCode = "SVC_5004"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5005"

	// Cryptographic errors (6xxx)
	ErrCodeEncryptionFailed   ErrorCode = "CRYPTO_6001"
	ErrCodeDecryptionFailed   ErrorCode = "CRYPTO_6002"
	ErrCodeVerificationFailed ErrorCode = "CRYPTO_6003"
	ErrCodeSigningFailed      ErrorCode = "CRYPTO_6004"
	ErrCodeAttestationFailed  ErrorCode = "CRYPTO_6005"

	// Investigation error taxonomy (8xxx) — spec.md §7
	ErrCodeComplianceBlocked    ErrorCode = "INV_8001"
	ErrCodeConsentExpired       ErrorCode = "INV_8002"
	ErrCodeBudgetExceeded       ErrorCode = "INV_8003"
	ErrCodeTransientProvider    ErrorCode = "INV_8004"
	ErrCodePermanentProvider    ErrorCode = "INV_8005"
	ErrCodeDataIntegrity        ErrorCode = "INV_8006"
	ErrCodeConcurrencyConflict  ErrorCode = "INV_8007"
	ErrCodeAIUnavailable        ErrorCode = "INV_8008"
	ErrCodeInternalInvariant    ErrorCode = "INV_8009"
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Authentication Errors

func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(ErrCodeInvalidToken, "Invalid authentication token", http.StatusUnauthorized, err)
}

func TokenExpired() *ServiceError {
	return New(ErrCodeTokenExpired, "Authentication token has expired", http.StatusUnauthorized)
}

func InvalidSignature(err error) *ServiceError {
	return Wrap(ErrCodeInvalidSignature, "Invalid signature", http.StatusUnauthorized, err)
}

// Authorization Errors

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

func InsufficientFunds(required, available string) *ServiceError {
	return New(ErrCodeInsufficientFunds, "Insufficient funds", http.StatusPaymentRequired).
		WithDetails("required", required).
		WithDetails("available", available)
}

func OwnershipRequired(resource string) *ServiceError {
	return New(ErrCodeOwnershipRequired, "Ownership verification required", http.StatusForbidden).
		WithDetails("resource", resource)
}

// Validation Errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "Invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "Missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "Invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "Value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Resource Errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "Resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "Resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Service Errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "Database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func ExternalAPIError(service string, err error) *ServiceError {
	return Wrap(ErrCodeExternalAPI, "External API call failed", http.StatusBadGateway, err).
		WithDetails("service", service)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "Operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Cryptographic Errors

func EncryptionFailed(err error) *ServiceError {
	return Wrap(ErrCodeEncryptionFailed, "Encryption failed", http.StatusInternalServerError, err)
}

func DecryptionFailed(err error) *ServiceError {
	return Wrap(ErrCodeDecryptionFailed, "Decryption failed", http.StatusInternalServerError, err)
}

func VerificationFailed(err error) *ServiceError {
	return Wrap(ErrCodeVerificationFailed, "Verification failed", http.StatusUnauthorized, err)
}

func SigningFailed(err error) *ServiceError {
	return Wrap(ErrCodeSigningFailed, "Signing failed", http.StatusInternalServerError, err)
}

func AttestationFailed(err error) *ServiceError {
	return Wrap(ErrCodeAttestationFailed, "Attestation failed", http.StatusInternalServerError, err)
}

// Investigation Errors (spec.md §7 taxonomy)

// ComplianceBlocked indicates a check or source is not permitted under the
// active compliance ruleset. Recoverable at planning time (the query is
// dropped, not attempted); fatal only if it excludes the entire tier.
func ComplianceBlocked(check string) *ServiceError {
	return New(ErrCodeComplianceBlocked, "check blocked by compliance ruleset", http.StatusForbidden).
		WithDetails("check", check)
}

// ConsentExpired is fatal for the in-flight request.
func ConsentExpired() *ServiceError {
	return New(ErrCodeConsentExpired, "consent has expired", http.StatusForbidden)
}

// BudgetExceeded is fatal; the current investigation is aborted cleanly
// with a partial profile preserved.
func BudgetExceeded(tenantID string, accumulated, limit float64) *ServiceError {
	return New(ErrCodeBudgetExceeded, "budget exceeded", http.StatusPaymentRequired).
		WithDetails("tenant_id", tenantID).
		WithDetails("cost_accumulated", accumulated).
		WithDetails("budget_limit", limit)
}

// TransientProvider covers timeout/5xx/rate-limited/network failures from a
// provider; the router retries locally and surfaces this only once
// unrecoverable.
func TransientProvider(providerID string, err error) *ServiceError {
	return Wrap(ErrCodeTransientProvider, "provider call failed transiently", http.StatusBadGateway, err).
		WithDetails("provider_id", providerID)
}

// PermanentProvider covers 4xx/auth/contract failures; no retry, the
// circuit opens and routing moves to a fallback.
func PermanentProvider(providerID string, err error) *ServiceError {
	return Wrap(ErrCodePermanentProvider, "provider call failed permanently", http.StatusBadGateway, err).
		WithDetails("provider_id", providerID)
}

// DataIntegrity covers corrupt cache rows or decryption failures; the row
// is discarded, logged, and refreshed from the provider.
func DataIntegrity(resource string, err error) *ServiceError {
	return Wrap(ErrCodeDataIntegrity, "data integrity check failed", http.StatusInternalServerError, err).
		WithDetails("resource", resource)
}

// ConcurrencyConflict covers a profile-version compare-and-set failure;
// retried with a fresh read, bounded attempts.
func ConcurrencyConflict(resource string) *ServiceError {
	return New(ErrCodeConcurrencyConflict, "concurrent modification conflict", http.StatusConflict).
		WithDetails("resource", resource)
}

// AIUnavailable signals the AI-model transport failed; callers fall back
// to the rule-based extractor/classifier and flag the result.
func AIUnavailable(operation string, err error) *ServiceError {
	return Wrap(ErrCodeAIUnavailable, "AI model unavailable, using fallback", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

// InternalInvariant is fatal; no partial publication, loud alert. Reserved
// for conditions that must never occur (e.g. a dense version sequence gap).
func InternalInvariant(message string) *ServiceError {
	return New(ErrCodeInternalInvariant, message, http.StatusInternalServerError)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
