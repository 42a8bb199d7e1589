package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"errorCode"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
	Details    any    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// WithDetails attaches client-visible details.
func (e *AppError) WithDetails(details any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// ---- Webhooks (WHK) ----

func ErrSubscriptionNotFound() *AppError {
	return New("WHK_001", "Webhook subscription not found", http.StatusNotFound)
}

func ErrInvalidEvent(message string) *AppError {
	return New("WHK_002", message, http.StatusBadRequest)
}

func ErrQueueFull() *AppError {
	return New("WHK_003", "Dispatch queue is full, retry later", http.StatusServiceUnavailable)
}

func ErrQueueClosed() *AppError {
	return New("WHK_003", "Dispatch queue is shutting down", http.StatusServiceUnavailable)
}

func ErrDeliveryLogNotFound() *AppError {
	return New("WHK_004", "Delivery log entry not found", http.StatusNotFound)
}

func ErrDuplicateEvent() *AppError {
	return New("WHK_005", "Event with this idempotency key was already accepted", http.StatusConflict)
}

// ---- Search (SRCH) ----

func ErrInvalidSearch(message string) *AppError {
	return New("SRCH_001", message, http.StatusBadRequest)
}

// ---- Integrations (INT) ----

func ErrUnknownProvider(provider string) *AppError {
	return New("INT_001", fmt.Sprintf("Unknown integration provider %q", provider), http.StatusNotFound)
}

func ErrInvalidCredentials(details any) *AppError {
	return New("INT_002", "Invalid provider credentials", http.StatusUnprocessableEntity).WithDetails(details)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("SYS_002", message, http.StatusBadRequest)
}
