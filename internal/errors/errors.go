// Package errors defines the job orchestration core's error taxonomy (spec.md §7): a closed set
// of kinds, not concrete types, so the manager's retry-or-fail wrapper and metrics tagging can
// classify any error a collaborator returns without knowing its concrete type.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode is one of the seven kinds spec.md §7 names.
type ErrorCode string

const (
	// CodeCacheUnavailable: C1 transient. Polling loops log-and-continue; operations close
	// their ticket and exit.
	CodeCacheUnavailable ErrorCode = "cache_unavailable"
	// CodeExecutorUnavailable: C2 transient. Retryable by the wrapper.
	CodeExecutorUnavailable ErrorCode = "executor_unavailable"
	// CodeMetadataConflict: C3, stale id or duplicate. Fatal to the job.
	CodeMetadataConflict ErrorCode = "metadata_conflict"
	// CodeValidationGap: C4 or dispatcher mis-mapping. Fatal to the job.
	CodeValidationGap ErrorCode = "validation_gap"
	// CodeJobFailure: the executor returned FAILED/LOST or results were invalid. An expected
	// outcome, not a bug.
	CodeJobFailure ErrorCode = "job_failure"
	// CodeProcessingFailed: terminal classification once retries are exhausted or a fatal error
	// occurred.
	CodeProcessingFailed ErrorCode = "processing_failed"
	// CodeInternal: an invariant violation. Triggers the unknown-state branch; must not crash
	// the polling loop.
	CodeInternal ErrorCode = "internal"
)

// AppError is a structured error carrying one of the seven kinds plus an optional cause.
type AppError struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Retryable bool
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

func defaultRetryable(code ErrorCode) bool {
	switch code {
	case CodeCacheUnavailable, CodeExecutorUnavailable:
		return true
	default:
		return false
	}
}

func newErr(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Retryable: defaultRetryable(code)}
}

// CacheUnavailable constructs a CodeCacheUnavailable error.
func CacheUnavailable(message string) *AppError { return newErr(CodeCacheUnavailable, message) }

// CacheUnavailablef constructs a CodeCacheUnavailable error with a formatted message.
func CacheUnavailablef(format string, args ...any) *AppError {
	return newErr(CodeCacheUnavailable, fmt.Sprintf(format, args...))
}

// ExecutorUnavailable constructs a CodeExecutorUnavailable error.
func ExecutorUnavailable(message string) *AppError { return newErr(CodeExecutorUnavailable, message) }

// ExecutorUnavailablef constructs a CodeExecutorUnavailable error with a formatted message.
func ExecutorUnavailablef(format string, args ...any) *AppError {
	return newErr(CodeExecutorUnavailable, fmt.Sprintf(format, args...))
}

// MetadataConflict constructs a CodeMetadataConflict error.
func MetadataConflict(message string) *AppError { return newErr(CodeMetadataConflict, message) }

// MetadataConflictf constructs a CodeMetadataConflict error with a formatted message.
func MetadataConflictf(format string, args ...any) *AppError {
	return newErr(CodeMetadataConflict, fmt.Sprintf(format, args...))
}

// ValidationGap constructs a CodeValidationGap error.
func ValidationGap(message string) *AppError { return newErr(CodeValidationGap, message) }

// ValidationGapf constructs a CodeValidationGap error with a formatted message.
func ValidationGapf(format string, args ...any) *AppError {
	return newErr(CodeValidationGap, fmt.Sprintf(format, args...))
}

// JobFailure constructs a CodeJobFailure error.
func JobFailure(message string) *AppError { return newErr(CodeJobFailure, message) }

// JobFailuref constructs a CodeJobFailure error with a formatted message.
func JobFailuref(format string, args ...any) *AppError {
	return newErr(CodeJobFailure, fmt.Sprintf(format, args...))
}

// ProcessingFailed constructs a CodeProcessingFailed error.
func ProcessingFailed(message string) *AppError { return newErr(CodeProcessingFailed, message) }

// ProcessingFailedf constructs a CodeProcessingFailed error with a formatted message.
func ProcessingFailedf(format string, args ...any) *AppError {
	return newErr(CodeProcessingFailed, fmt.Sprintf(format, args...))
}

// Internal constructs a CodeInternal error.
func Internal(message string) *AppError { return newErr(CodeInternal, message) }

// Internalf constructs a CodeInternal error with a formatted message.
func Internalf(format string, args ...any) *AppError {
	return newErr(CodeInternal, fmt.Sprintf(format, args...))
}

// Wrap wraps err with an AppError carrying code, preserving err as the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err, Retryable: defaultRetryable(code)}
}

// Wrapf wraps err with an AppError carrying code and a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WrapRetryable wraps err overriding the code's default retryability, for transport-level
// errors (e.g. a postgres connection refused) whose code alone wouldn't mark them retryable.
func WrapRetryable(err error, code ErrorCode, message string, retryable bool) *AppError {
	wrapped := Wrap(err, code, message)
	if wrapped != nil {
		wrapped.Retryable = retryable
	}
	return wrapped
}

func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsCacheUnavailable reports whether err is a CodeCacheUnavailable error.
func IsCacheUnavailable(err error) bool { return isCode(err, CodeCacheUnavailable) }

// IsExecutorUnavailable reports whether err is a CodeExecutorUnavailable error.
func IsExecutorUnavailable(err error) bool { return isCode(err, CodeExecutorUnavailable) }

// IsMetadataConflict reports whether err is a CodeMetadataConflict error.
func IsMetadataConflict(err error) bool { return isCode(err, CodeMetadataConflict) }

// IsValidationGap reports whether err is a CodeValidationGap error.
func IsValidationGap(err error) bool { return isCode(err, CodeValidationGap) }

// IsJobFailure reports whether err is a CodeJobFailure error.
func IsJobFailure(err error) bool { return isCode(err, CodeJobFailure) }

// IsProcessingFailed reports whether err is a CodeProcessingFailed error.
func IsProcessingFailed(err error) bool { return isCode(err, CodeProcessingFailed) }

// IsInternal reports whether err is a CodeInternal error.
func IsInternal(err error) bool { return isCode(err, CodeInternal) }

// GetCode returns err's ErrorCode, or empty string if err is not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether the manager's retry-or-fail wrapper should treat err as
// retryable (spec.md §4.6): an AppError explicitly marked retryable, or one explicitly
// overridden via WrapRetryable (e.g. a transient metadata-store transport error).
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
