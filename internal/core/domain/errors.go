// Package domain provides the core types shared by the pipeline, the
// conversation router and the HTTP surface.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found_error"

	// ErrorTypeBackend indicates the generation backend failed or timed out.
	ErrorTypeBackend ErrorType = "backend_error"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server_error"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeEmptyMessages    ErrorCode = "empty_messages"
	ErrorCodeMissingProblem   ErrorCode = "missing_problem"
	ErrorCodeSchemaViolation  ErrorCode = "schema_violation"
	ErrorCodeRunNotFound      ErrorCode = "run_not_found"
	ErrorCodeBackendTimeout   ErrorCode = "backend_timeout"
	ErrorCodeBackendRejected  ErrorCode = "backend_rejected"
	ErrorCodeBackendMalformed ErrorCode = "backend_malformed_response"
)

// APIError is the error shape returned to HTTP clients.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the request field that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode overrides the status derived from Type
	StatusCode int `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithCause records the error that produced this one.
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrBackend creates a generation backend error.
func ErrBackend(message string) *APIError {
	return NewAPIError(ErrorTypeBackend, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// AsAPIError converts any error into an APIError. Errors that already carry
// an APIError in their chain keep its type; everything else becomes a server
// error that wraps the original.
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if err == error(apiErr) {
			return apiErr
		}
		out := *apiErr
		out.Message = err.Error()
		return &out
	}
	return ErrServer(err.Error()).WithCause(err)
}

// IsInvalidRequest reports whether err is an input validation error.
func IsInvalidRequest(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == ErrorTypeInvalidRequest
}
