// Package errors provides the structured application error used across the engine.
//
// An AppError carries a stable Code. Job handlers report failures as AppErrors so
// that the code ends up verbatim in the job's error_code column, where callers
// polling job status can branch on it.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

// Generic codes.
const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// Job failure codes. These values are persisted and documented; do not rename.
const (
	// ErrCodeHandlerNotFound marks a job whose type has no registered handler.
	ErrCodeHandlerNotFound ErrorCode = "job.handler_not_found"
	// ErrCodeUnhandled marks a job whose handler panicked or failed without a code.
	ErrCodeUnhandled ErrorCode = "job.unhandled"
	// ErrCodeInvalidInput marks a job whose input could not be decoded or validated.
	ErrCodeInvalidInput ErrorCode = "job.invalid_input"
	// ErrCodeJobCanceled marks a job aborted by cooperative cancellation.
	ErrCodeJobCanceled ErrorCode = "job.canceled"
	// ErrCodeStale marks a job left running past the reaper threshold.
	ErrCodeStale ErrorCode = "job.stale"
	// ErrCodeAIProvider marks an upstream AI provider failure.
	ErrCodeAIProvider ErrorCode = "ai.provider_error"
	// ErrCodeAIResponse marks an AI response that did not match the requested shape.
	ErrCodeAIResponse ErrorCode = "ai.invalid_response"
	// ErrCodeCache marks a failure of the section score cache (hashing, lookup, upsert).
	ErrCodeCache ErrorCode = "scoring.cache_error"
	// ErrCodeMissingRubric marks a scoring job whose rubric does not exist.
	ErrCodeMissingRubric ErrorCode = "scoring.missing_rubric"
	// ErrCodeMissingSection marks a scoring job whose CV section does not exist.
	ErrCodeMissingSection ErrorCode = "scoring.missing_section"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return New(ErrCodeNotFound, message)
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return Newf(ErrCodeNotFound, format, args...)
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return Is(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return Is(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return Is(err, ErrCodeValidation)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
