// Package errors defines the service error taxonomy and its HTTP mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors used by repositories for error classification.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrDatabaseError = errors.New("database error")
	ErrUnavailable   = errors.New("store unavailable")
)

// ServiceError is an error with an associated HTTP status and stable code.
type ServiceError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unauthorized creates an authentication/authorization failure error.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{
		Code:       "UNAUTHORIZED",
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// InvalidInput creates a validation failure error.
func InvalidInput(message string) *ServiceError {
	return &ServiceError{
		Code:       "INVALID_INPUT",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NotFound creates a missing-entity error.
func NotFound(message string) *ServiceError {
	return &ServiceError{
		Code:       "NOT_FOUND",
		Message:    message,
		HTTPStatus: http.StatusNotFound,
	}
}

// RateLimitExceeded creates a quota error distinct from validation failures.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// UpstreamUnavailable creates an error for a missing or unreachable store.
func UpstreamUnavailable(message string) *ServiceError {
	return &ServiceError{
		Code:       "UPSTREAM_UNAVAILABLE",
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Internal creates a generic server-side error. The message must not carry
// user secrets; handlers log details separately.
func Internal(message string) *ServiceError {
	return &ServiceError{
		Code:       "INTERNAL",
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}
