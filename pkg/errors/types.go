// Package errors provides structured errors with codes and retryability
// classification for the research pipeline.
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Cache errors
	ErrCodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeCacheOperation   ErrorCode = "CACHE_OPERATION"
	ErrCodeCacheCorrupt     ErrorCode = "CACHE_CORRUPT"

	// Worker errors
	ErrCodeWorkerTimeout       ErrorCode = "WORKER_TIMEOUT"
	ErrCodeWorkerTransient     ErrorCode = "WORKER_TRANSIENT"
	ErrCodeWorkerFatal         ErrorCode = "WORKER_FATAL"
	ErrCodeWorkerOutputInvalid ErrorCode = "WORKER_OUTPUT_INVALID"

	// Job errors
	ErrCodeJobCancelled ErrorCode = "JOB_CANCELLED"
	ErrCodeJobInvalid   ErrorCode = "JOB_INVALID"

	// Model errors
	ErrCodeModelAPIError  ErrorCode = "MODEL_API_ERROR"
	ErrCodeModelTimeout   ErrorCode = "MODEL_TIMEOUT"
	ErrCodeModelRateLimit ErrorCode = "MODEL_RATE_LIMIT"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured Scout error
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap wraps an existing error with Scout error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	scoutErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return scoutErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	scoutErr, ok := err.(*Error)
	if !ok {
		return ErrCodeInternal
	}

	return scoutErr.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	scoutErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return scoutErr.Retryable
}

// Transient builds a retryable worker error. Workers use this to signal
// failures that are expected to resolve on retry.
func Transient(message string, underlying error) *Error {
	e := New(ErrCodeWorkerTransient, message)
	e.Underlying = underlying
	e.Retryable = true
	return e
}

// Fatal builds a non-retryable worker error.
func Fatal(message string, underlying error) *Error {
	e := New(ErrCodeWorkerFatal, message)
	e.Underlying = underlying
	return e
}
