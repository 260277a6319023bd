package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeRateLimit represents exhausted provider quota or a cancelled budget wait
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeNetwork represents timeouts, connection failures and 5xx responses
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeValidation represents caller mistakes detected before any I/O
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents a missing profile, connection set or bridge
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeProvider represents summarizer/embedder failures
	ErrorTypeProvider ErrorType = "provider"
	// ErrorTypePlatform represents non-retryable platform responses
	ErrorTypePlatform ErrorType = "platform"
	// ErrorTypeGraph represents graph database errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrType reports the category; promoted to every typed error below.
func (e *BaseError) ErrType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

type typed interface {
	error
	ErrType() ErrorType
}

// Platform Errors

// ErrRateLimitExceeded is returned when the provider keeps answering 429
// after every allowed attempt, or when a budget wait is cancelled.
type ErrRateLimitExceeded struct {
	*BaseError
	Endpoint string
	Attempts int
}

func NewRateLimitExceeded(endpoint string, attempts int, err error) *ErrRateLimitExceeded {
	return &ErrRateLimitExceeded{
		BaseError: NewBaseError(ErrorTypeRateLimit, fmt.Sprintf("rate limit exceeded for %s after %d attempts", endpoint, attempts), err),
		Endpoint:  endpoint,
		Attempts:  attempts,
	}
}

// ErrTransientNetwork is returned when timeouts or 5xx responses persist
// through every retry.
type ErrTransientNetwork struct {
	*BaseError
	Endpoint string
	Attempts int
}

func NewTransientNetwork(endpoint string, attempts int, err error) *ErrTransientNetwork {
	return &ErrTransientNetwork{
		BaseError: NewBaseError(ErrorTypeNetwork, fmt.Sprintf("request to %s failed after %d attempts", endpoint, attempts), err),
		Endpoint:  endpoint,
		Attempts:  attempts,
	}
}

// ErrPlatformRequest is returned for 4xx responses other than 404 and 429
type ErrPlatformRequest struct {
	*BaseError
	Endpoint   string
	StatusCode int
}

func NewPlatformRequest(endpoint string, statusCode int, body string) *ErrPlatformRequest {
	return &ErrPlatformRequest{
		BaseError:  NewBaseError(ErrorTypePlatform, fmt.Sprintf("%s returned %d: %s", endpoint, statusCode, body), nil),
		Endpoint:   endpoint,
		StatusCode: statusCode,
	}
}

// Validation Errors

// ErrValidation is returned when input can never succeed
type ErrValidation struct {
	*BaseError
	Field string
}

func NewValidation(field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
	}
}

// ErrNotFound is returned when a required record is absent
type ErrNotFound struct {
	*BaseError
	Resource string
	ID       string
}

func NewNotFound(resource, id string) *ErrNotFound {
	return &ErrNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil),
		Resource:  resource,
		ID:        id,
	}
}

// Provider Errors

// ErrProviderUnavailable is returned when the summarizer or embedder fails
type ErrProviderUnavailable struct {
	*BaseError
	Provider string
}

func NewProviderUnavailable(provider string, err error) *ErrProviderUnavailable {
	return &ErrProviderUnavailable{
		BaseError: NewBaseError(ErrorTypeProvider, fmt.Sprintf("%s unavailable", provider), err),
		Provider:  provider,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph query fails
type ErrGraphQueryFailed struct {
	*BaseError
	Operation string
}

func NewGraphQueryFailed(operation string, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("query failed: %s", operation), err),
		Operation: operation,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Helper functions

// TypeOf returns the category of the outermost typed error in the chain, or "".
func TypeOf(err error) ErrorType {
	var t typed
	if stderrors.As(err, &t) {
		return t.ErrType()
	}
	return ""
}

// IsErrorType checks whether any error in the chain has the given category
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if t, ok := err.(typed); ok && t.ErrType() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsNotFound reports whether err is a NotFound error
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsValidation reports whether err is a Validation error
func IsValidation(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	switch TypeOf(err) {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeGraph, ErrorTypeProvider:
		return true
	}
	return false
}
