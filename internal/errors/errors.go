// Package errors defines the structured error taxonomy used across scenesmith.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeInvalidInput indicates a malformed or incomplete submission.
	ErrCodeInvalidInput ErrorCode = "invalid_input"
	// ErrCodeQueueFull indicates the admission queue is at capacity.
	ErrCodeQueueFull ErrorCode = "queue_full"
	// ErrCodeNotFound indicates a job or artifact was not found (or has expired).
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeStage indicates a pipeline stage failed.
	ErrCodeStage ErrorCode = "stage"
	// ErrCodeTimeout indicates a stage or job deadline was exceeded.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeConflict indicates the operation conflicts with the job's current state.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError represents a structured application error with a code, message, and
// optional cause. It supports error wrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Stage is the pipeline stage that produced the error (optional, for stage errors)
	Stage string
	// Cause is the underlying error that caused this error (optional)
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Stage != "" && e.Cause != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	if e.Stage != "" {
		return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// InvalidInput creates a new InvalidInput error.
func InvalidInput(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message}
}

// InvalidInputf creates a new InvalidInput error with formatted message.
func InvalidInputf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// QueueFull creates a new QueueFull error.
func QueueFull(message string) *AppError {
	return &AppError{Code: ErrCodeQueueFull, Message: message}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Stage creates a new Stage error for the named pipeline stage.
func Stage(stage, message string) *AppError {
	return &AppError{Code: ErrCodeStage, Stage: stage, Message: message}
}

// Stagef creates a new Stage error with formatted message.
func Stagef(stage, format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeStage, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// StageWrap wraps an underlying executor error as a Stage error.
func StageWrap(stage string, err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: ErrCodeStage, Stage: stage, Message: "stage execution failed", Cause: err}
}

// Timeout creates a new Timeout error for the named pipeline stage.
func Timeout(stage, message string) *AppError {
	return &AppError{Code: ErrCodeTimeout, Stage: stage, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsInvalidInput checks if an error is an InvalidInput error.
func IsInvalidInput(err error) bool {
	return isCode(err, ErrCodeInvalidInput)
}

// IsQueueFull checks if an error is a QueueFull error.
func IsQueueFull(err error) bool {
	return isCode(err, ErrCodeQueueFull)
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsStage checks if an error is a Stage error.
func IsStage(err error) bool {
	return isCode(err, ErrCodeStage)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetStage returns the Stage from an error, or empty string if not an AppError
// or no stage is set.
func GetStage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Stage
	}
	return ""
}
