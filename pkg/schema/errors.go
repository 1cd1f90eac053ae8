package schema

import (
	"fmt"
	"net/http"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeUpstream       = "UPSTREAM_ERROR"
	ErrCodeQuotaExceeded  = "QUOTA_EXCEEDED"
	ErrCodeCircuitOpen    = "CIRCUIT_OPEN"
	ErrCodeRender         = "RENDER_ERROR"
	ErrCodeStore          = "STORE_ERROR"
	ErrCodeVault          = "VAULT_ERROR"
	ErrCodeConfig         = "CONFIG_ERROR"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
)

// FlowsketchError is the structured error type shared by the services,
// the HTTP API and the MCP tools.
type FlowsketchError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowsketchError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowsketchError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowsketchError.
func NewError(code, message string) *FlowsketchError {
	return &FlowsketchError{Code: code, Message: message}
}

// NewErrorf creates a new FlowsketchError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowsketchError {
	return &FlowsketchError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *FlowsketchError) WithCause(err error) *FlowsketchError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowsketchError) WithDetails(details map[string]any) *FlowsketchError {
	e.Details = details
	return e
}

// IsRetryable reports whether an operation failing with this error may succeed
// when attempted again.
func (e *FlowsketchError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeUpstream, ErrCodeTimeout, ErrCodeStore:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the error code to the status code returned by the API.
func (e *FlowsketchError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeRender:
		return http.StatusUnprocessableEntity
	case ErrCodeQuotaExceeded:
		return http.StatusTooManyRequests
	case ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
