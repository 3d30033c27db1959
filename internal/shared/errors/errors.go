// Package errors defines the error envelope shared by every HTTP handler.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Every AppError wraps one of these so callers can branch
// with errors.Is without knowing the status code.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBadRequest          = errors.New("bad request")
	ErrConflict            = errors.New("resource conflict")
	ErrInternal            = errors.New("internal error")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstream            = errors.New("upstream failure")
)

// statusBySentinel orders the classes for GetStatusCode.
var statusBySentinel = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrBadRequest, http.StatusBadRequest},
	{ErrConflict, http.StatusConflict},
	{ErrInsufficientCredits, http.StatusPaymentRequired},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrUpstream, http.StatusBadGateway},
}

// AppError is an error with a stable code, a user-safe message and an HTTP
// status. Err is for logs only and is never rendered.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAppError creates a new application error.
func NewAppError(code string, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}

// NotFound creates a not found error for resource.
func NotFound(resource string) *AppError {
	return NewAppError("NOT_FOUND", resource+" not found", http.StatusNotFound, ErrNotFound)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	return NewAppError("UNAUTHORIZED", orDefault(message, "authentication required"), http.StatusUnauthorized, ErrUnauthorized)
}

// BadRequest reports malformed input.
func BadRequest(message string) *AppError {
	return NewAppError("BAD_REQUEST", message, http.StatusBadRequest, ErrBadRequest)
}

// ValidationError reports well-formed input that failed binding rules.
func ValidationError(message string) *AppError {
	return NewAppError("VALIDATION_ERROR", message, http.StatusUnprocessableEntity, ErrBadRequest)
}

// Conflict creates a conflict error.
func Conflict(message string) *AppError {
	return NewAppError("CONFLICT", message, http.StatusConflict, ErrConflict)
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	return NewAppError("INTERNAL_ERROR", orDefault(message, "internal error"), http.StatusInternalServerError, errors.Join(ErrInternal, err))
}

// InsufficientCredits reports a balance below the cost of the request.
func InsufficientCredits(message string) *AppError {
	return NewAppError("INSUFFICIENT_CREDITS", orDefault(message, "insufficient credits"), http.StatusPaymentRequired, ErrInsufficientCredits)
}

// Upstream reports a failed third-party dependency under the given code.
func Upstream(code, message string, err error) *AppError {
	return NewAppError(code, message, http.StatusBadGateway, errors.Join(ErrUpstream, err))
}

// BadGateway reports a failed enhancement provider.
func BadGateway(message string, err error) *AppError {
	return Upstream("ENHANCEMENT_FAILED", message, err)
}

// RateLimited creates a rate limited error.
func RateLimited(message string) *AppError {
	return NewAppError("RATE_LIMITED", orDefault(message, "too many requests"), http.StatusTooManyRequests, ErrRateLimited)
}

// ToResponse converts an AppError to ErrorResponse.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: e.Code, Message: e.Message}}
}

// GetStatusCode returns the HTTP status for err. Unclassified errors are 500.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
