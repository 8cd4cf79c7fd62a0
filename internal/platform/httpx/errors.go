package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors shared by the domain services. Services wrap these with
// context; the responder unwraps them into the documented error envelope.
var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("authentication required")
	ErrForbidden         = errors.New("insufficient permissions")
	ErrNotFound          = errors.New("resource not found")
	ErrConflict          = errors.New("conflict")
	ErrCreditCheckFailed = errors.New("credit check failed")
	ErrStockUnavailable  = errors.New("stock unavailable")
	ErrRentalConflict    = errors.New("rental conflict")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// Error codes exposed in the response envelope.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnauthorized      = "AUTHENTICATION_REQUIRED"
	CodeForbidden         = "INSUFFICIENT_PERMISSIONS"
	CodeNotFound          = "RESOURCE_NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeCreditCheckFailed = "CREDIT_CHECK_FAILED"
	CodeStockUnavailable  = "STOCK_UNAVAILABLE"
	CodeRentalConflict    = "RENTAL_CONFLICT"
	CodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	CodeInternal          = "INTERNAL_ERROR"
)

// ValidationError carries per-field violations for the details payload.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrValidation.Error()
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Message: message, Fields: map[string]string{field: message}}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, ErrCreditCheckFailed):
		return http.StatusUnprocessableEntity, CodeCreditCheckFailed
	case errors.Is(err, ErrStockUnavailable):
		return http.StatusUnprocessableEntity, CodeStockUnavailable
	case errors.Is(err, ErrRentalConflict):
		return http.StatusUnprocessableEntity, CodeRentalConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
