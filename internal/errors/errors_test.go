package errors

import (
	"errors"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    CodeValidationGap,
				Message: "unknown job type",
			},
			want: "unknown job type",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    CodeInternal,
				Message: "failed to process",
				Cause:   errors.New("underlying error"),
			},
			want: "failed to process: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &AppError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Cause:   cause,
	}

	if unwrapped := err.Unwrap(); !errors.Is(unwrapped, cause) {
		t.Errorf("AppError.Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestCacheUnavailable(t *testing.T) {
	err := CacheUnavailable("redis down")
	if err.Code != CodeCacheUnavailable {
		t.Errorf("CacheUnavailable().Code = %v, want %v", err.Code, CodeCacheUnavailable)
	}
	if !err.Retryable {
		t.Error("CacheUnavailable() should default to retryable")
	}
}

func TestExecutorUnavailablef(t *testing.T) {
	err := ExecutorUnavailablef("executor %s unreachable", "k8s")
	if err.Code != CodeExecutorUnavailable {
		t.Errorf("ExecutorUnavailablef().Code = %v, want %v", err.Code, CodeExecutorUnavailable)
	}
	if err.Message != "executor k8s unreachable" {
		t.Errorf("ExecutorUnavailablef().Message = %v", err.Message)
	}
	if !err.Retryable {
		t.Error("ExecutorUnavailablef() should default to retryable")
	}
}

func TestMetadataConflict(t *testing.T) {
	err := MetadataConflict("duplicate object id")
	if err.Code != CodeMetadataConflict {
		t.Errorf("MetadataConflict().Code = %v, want %v", err.Code, CodeMetadataConflict)
	}
	if err.Retryable {
		t.Error("MetadataConflict() must not default to retryable — it is fatal to the job")
	}
}

func TestValidationGap(t *testing.T) {
	err := ValidationGap("unknown job type RUN_NOTHING")
	if err.Code != CodeValidationGap {
		t.Errorf("ValidationGap().Code = %v, want %v", err.Code, CodeValidationGap)
	}
}

func TestJobFailure(t *testing.T) {
	err := JobFailure("executor reported LOST")
	if err.Code != CodeJobFailure {
		t.Errorf("JobFailure().Code = %v, want %v", err.Code, CodeJobFailure)
	}
}

func TestProcessingFailed(t *testing.T) {
	err := ProcessingFailed("retries exhausted")
	if err.Code != CodeProcessingFailed {
		t.Errorf("ProcessingFailed().Code = %v, want %v", err.Code, CodeProcessingFailed)
	}
}

func TestInternal(t *testing.T) {
	err := Internal("unreachable state reached")
	if err.Code != CodeInternal {
		t.Errorf("Internal().Code = %v, want %v", err.Code, CodeInternal)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, CodeInternal, "wrapped error")

	if err.Code != CodeInternal {
		t.Errorf("Wrap().Code = %v, want %v", err.Code, CodeInternal)
	}
	if err.Message != "wrapped error" {
		t.Errorf("Wrap().Message = %v, want %v", err.Message, "wrapped error")
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Wrap().Cause = %v, want %v", err.Cause, cause)
	}
}

func TestWrap_NilError(t *testing.T) {
	err := Wrap(nil, CodeInternal, "wrapped error")
	if err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapRetryable(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapRetryable(cause, CodeInternal, "metadata store unreachable", true)
	if !err.Retryable {
		t.Error("WrapRetryable(..., true) should mark the error retryable")
	}
	if err.Code != CodeInternal {
		t.Errorf("WrapRetryable().Code = %v, want %v", err.Code, CodeInternal)
	}
}

func TestIsHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"cache unavailable matches", CacheUnavailable("x"), IsCacheUnavailable, true},
		{"cache unavailable mismatches executor", ExecutorUnavailable("x"), IsCacheUnavailable, false},
		{"executor unavailable matches", ExecutorUnavailable("x"), IsExecutorUnavailable, true},
		{"metadata conflict matches", MetadataConflict("x"), IsMetadataConflict, true},
		{"validation gap matches", ValidationGap("x"), IsValidationGap, true},
		{"job failure matches", JobFailure("x"), IsJobFailure, true},
		{"processing failed matches", ProcessingFailed("x"), IsProcessingFailed, true},
		{"internal matches", Internal("x"), IsInternal, true},
		{"standard error never matches", errors.New("plain"), IsInternal, false},
		{"nil never matches", nil, IsInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"app error", MetadataConflict("dup"), CodeMetadataConflict},
		{"standard error", errors.New("standard error"), ""},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(CacheUnavailable("x")) {
		t.Error("CacheUnavailable should be retryable")
	}
	if IsRetryable(MetadataConflict("x")) {
		t.Error("MetadataConflict should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("a plain error should not be retryable")
	}
}
