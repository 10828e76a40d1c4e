// Package apierror provides standardized API error handling.
// Every deny produced by the request guard is one of these errors, rendered as
// {"success":false,"message":...,"error_code":...,"retry_after":...}.
package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Code represents a machine-readable error code.
type Code string

// Standard error codes.
const (
	CodeBadRequest             Code = "BAD_REQUEST"
	CodeAuthRequired           Code = "AUTH_REQUIRED"
	CodeTokenExpired           Code = "TOKEN_EXPIRED"
	CodeTokenInvalid           Code = "TOKEN_INVALID"
	CodeInsufficientPermission Code = "INSUFFICIENT_PERMISSION"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeBlocked                Code = "BLOCKED"
	CodeConfigurationError     Code = "CONFIGURATION_ERROR"
	CodeNotFound               Code = "NOT_FOUND"
	CodeValidationFailed       Code = "VALIDATION_FAILED"
	CodeInternalError          Code = "INTERNAL_ERROR"
)

// Error represents a standardized API error.
type Error struct {
	// HTTP status code
	Status int `json:"-"`

	// Machine-readable error code
	Code Code `json:"error_code"`

	// Human-readable error message
	Message string `json:"message"`

	// RetryAfter is the number of seconds until the client may retry.
	// Only set for rate-limit and block denials.
	RetryAfter int `json:"retry_after,omitempty"`

	// Additional error details (optional)
	Details any `json:"details,omitempty"`

	// Internal error (not exposed to client)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Response is the wire shape of a denied or failed request.
type Response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ErrorCode  Code   `json:"error_code"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Details    any    `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// ToResponse converts the error to a response structure.
func (e *Error) ToResponse() Response {
	return Response{
		Success:    false,
		Message:    e.Message,
		ErrorCode:  e.Code,
		RetryAfter: e.RetryAfter,
		Details:    e.Details,
	}
}

// WriteJSON writes the error as JSON to the response writer.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e.ToResponse())
}

// WriteJSONWithRequestID writes the error as JSON with request ID.
func (e *Error) WriteJSONWithRequestID(w http.ResponseWriter, requestID string) {
	resp := e.ToResponse()
	resp.RequestID = requestID
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(resp)
}

// New creates a new API error.
func New(status int, code Code, message string) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with API error context.
func Wrap(err error, status int, code Code, message string) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithError adds an internal error.
func (e *Error) WithError(err error) *Error {
	e.Err = err
	return e
}

// WithRetryAfter sets the retry-after hint in seconds.
func (e *Error) WithRetryAfter(seconds int) *Error {
	if seconds < 1 {
		seconds = 1
	}
	e.RetryAfter = seconds
	return e
}

// Pre-defined error constructors

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

// AuthRequired creates a 401 error for missing or malformed credentials.
func AuthRequired() *Error {
	return New(http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
}

// TokenExpired creates a 401 error for expired tokens.
func TokenExpired() *Error {
	return New(http.StatusUnauthorized, CodeTokenExpired, "Token has expired")
}

// TokenInvalid creates a 401 error for malformed or revoked tokens.
func TokenInvalid() *Error {
	return New(http.StatusUnauthorized, CodeTokenInvalid, "Invalid token")
}

// InsufficientPermission creates a 403 error.
func InsufficientPermission() *Error {
	return New(http.StatusForbidden, CodeInsufficientPermission, "Insufficient permissions")
}

// RateLimited creates a 429 error with a retry-after hint.
func RateLimited(retryAfter int) *Error {
	return New(http.StatusTooManyRequests, CodeRateLimited, "Too many attempts, please slow down").
		WithRetryAfter(retryAfter)
}

// Blocked creates a 429 error for a progressive block.
func Blocked(retryAfter int) *Error {
	return New(http.StatusTooManyRequests, CodeBlocked, "Too many violations, access temporarily blocked").
		WithRetryAfter(retryAfter)
}

// ConfigurationError creates a 403 error for malformed route directives.
// Misconfiguration always denies; it never allows a request through.
func ConfigurationError(message string) *Error {
	if message == "" {
		message = "Route is misconfigured"
	}
	return New(http.StatusForbidden, CodeConfigurationError, message)
}

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *Error {
	message := "Resource not found"
	if resource != "" {
		message = fmt.Sprintf("%s not found", resource)
	}
	return New(http.StatusNotFound, CodeNotFound, message)
}

// ValidationFailed creates a 422 Unprocessable Entity error.
func ValidationFailed(message string, details any) *Error {
	return &Error{
		Status:  http.StatusUnprocessableEntity,
		Code:    CodeValidationFailed,
		Message: message,
		Details: details,
	}
}

// InternalError creates a 500 Internal Server Error.
func InternalError(err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternalError,
		Message: "An internal error occurred",
		Err:     err,
	}
}
