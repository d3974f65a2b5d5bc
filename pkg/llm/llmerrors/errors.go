// Package llmerrors classifies model API failures so middleware can decide what to retry.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrorType is the retry category of a model error.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents 429s and quota errors.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents 5xx, resets and timeouts.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents a successful call with no content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents 401/403 and missing keys.
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed or oversized requests.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default.
	ErrorTypeUnknown
	// ErrorTypeServiceUnavailable is emitted after retries on a retryable class are exhausted.
	ErrorTypeServiceUnavailable
)

// String returns the label used in logs and metrics.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// RetryConfig is the exponential backoff schedule for one error type.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfigs holds the backoff schedule per error type.
//
//nolint:gochecknoglobals // Configuration map - acceptable for package defaults
var DefaultRetryConfigs = map[ErrorType]RetryConfig{
	ErrorTypeEmptyResponse: {MaxRetries: 3, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2.0},
	ErrorTypeRateLimit:     {MaxRetries: 6, InitialDelay: 1 * time.Second, MaxDelay: 60 * time.Second, BackoffFactor: 2.0},
	ErrorTypeTransient:     {MaxRetries: 4, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffFactor: 2.0},
	ErrorTypeUnknown:       {MaxRetries: 1, InitialDelay: 1 * time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0},
}

// Error is a classified model error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %s: %v", e.Type, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error class is worth retrying.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// GetRetryConfig returns the backoff schedule for this error.
func (e *Error) GetRetryConfig() RetryConfig {
	if cfg, ok := DefaultRetryConfigs[e.Type]; ok {
		return cfg
	}
	return DefaultRetryConfigs[ErrorTypeUnknown]
}

// Is reports whether err is a classified error of errorType.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the class of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a classified error carrying an HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string, cause error) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message, Err: cause}
}

// NewErrorWithCause creates a classified error wrapping cause.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// NewServiceUnavailableError marks a retryable error whose retries are exhausted.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts", attempts),
	}
}

// FromStatus classifies an HTTP status code. ok is false for codes with no specific class.
func FromStatus(statusCode int) (ErrorType, bool) {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth, true
	case statusCode == 429:
		return ErrorTypeRateLimit, true
	case statusCode == 400 || statusCode == 404 || statusCode == 413 || statusCode == 422:
		return ErrorTypeBadPrompt, true
	case statusCode >= 500 && statusCode <= 599:
		return ErrorTypeTransient, true
	default:
		return ErrorTypeUnknown, false
	}
}

// Classify turns a raw provider error into an *Error. statusCode may be 0 when the provider SDK
// did not expose one; it is then scraped from the message. Already-classified errors pass through.
func Classify(err error, statusCode int) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request canceled")
	}

	errStr := err.Error()
	if statusCode == 0 {
		statusCode = extractStatusCode(errStr)
	}
	if errType, ok := FromStatus(statusCode); ok {
		return NewErrorWithStatus(errType, statusCode, fmt.Sprintf("HTTP %d", statusCode), err)
	}

	lower := strings.ToLower(errStr)
	switch {
	case containsAny(lower, "timeout", "connection", "network", "temporary", "eof", "reset"):
		return NewErrorWithCause(ErrorTypeTransient, err, "network or connection error")
	case containsAny(lower, "rate", "quota", "limit"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case containsAny(lower, "unauthorized", "api key", "auth"):
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication error")
	case containsAny(lower, "invalid", "malformed", "too large", "too long"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "prompt or request error")
	default:
		return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func extractStatusCode(errStr string) int {
	lower := strings.ToLower(errStr)
	for _, pattern := range []string{"status code: ", "status: ", "http ", "code "} {
		idx := strings.Index(lower, pattern)
		if idx == -1 {
			continue
		}
		start := idx + len(pattern)
		if start+3 > len(errStr) {
			continue
		}
		if code, err := strconv.Atoi(errStr[start : start+3]); err == nil && code >= 100 && code <= 599 {
			return code
		}
	}
	return 0
}
