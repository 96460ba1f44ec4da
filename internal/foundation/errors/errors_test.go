package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "srcgenhost.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		if err.Message() != "invalid configuration" {
			t.Errorf("expected message 'invalid configuration', got %s", err.Message())
		}
		file, exists := err.Context().GetString("file")
		if !exists || file != "srcgenhost.yaml" {
			t.Errorf("expected context file=srcgenhost.yaml, got %v", file)
		}
	})

	t.Run("Error string includes category and cause", func(t *testing.T) {
		err := WrapError(errors.New("boom"), CategoryGenerator, "generation failed").Build()
		if got, want := err.Error(), "[generator:error] generation failed: boom"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})

	t.Run("Detection through wrapping", func(t *testing.T) {
		inner := SchedulingError("cyclic ordering").Build()
		wrapped := fmt.Errorf("engine: %w", inner)

		if !IsClassified(wrapped) {
			t.Fatal("expected wrapped error to be classified")
		}
		if !HasCategory(wrapped, CategoryScheduling) {
			t.Error("expected scheduling category")
		}
		if GetCategory(errors.New("plain")) != CategoryInternal {
			t.Error("plain errors should default to internal")
		}
	})

	t.Run("WithContext copies", func(t *testing.T) {
		base := GeneratorError("failed").Build()
		withCtx := base.WithContext("generator", "GenA")

		if _, ok := base.Context().Get("generator"); ok {
			t.Error("original error context must not be mutated")
		}
		if v, _ := withCtx.Context().GetString("generator"); v != "GenA" {
			t.Errorf("expected generator context, got %q", v)
		}
	})
}

func TestErrorBuilder(t *testing.T) {
	t.Run("Fluent API", func(t *testing.T) {
		originalErr := errors.New("broken pipe")
		err := WrapError(originalErr, CategoryTransport, "write response").
			Warning().
			Retryable().
			WithContext("pipe", "user.F.abc").
			Build()

		if err.Severity() != SeverityWarning {
			t.Errorf("expected severity %s, got %s", SeverityWarning, err.Severity())
		}
		if err.RetryStrategy() != RetryBackoff {
			t.Errorf("expected retry strategy %s, got %s", RetryBackoff, err.RetryStrategy())
		}
		if !errors.Is(err, originalErr) {
			t.Error("expected error to wrap original error")
		}
		if !err.CanRetry() {
			t.Error("backoff errors should be retryable")
		}
	})

	t.Run("Convenience constructors", func(t *testing.T) {
		tests := []struct {
			name     string
			builder  *ErrorBuilder
			category ErrorCategory
			severity ErrorSeverity
			retry    RetryStrategy
		}{
			{"ConfigError", ConfigError("test"), CategoryConfig, SeverityFatal, RetryUserAction},
			{"ValidationError", ValidationError("test"), CategoryValidation, SeverityFatal, RetryUserAction},
			{"ProtocolError", ProtocolError("test"), CategoryProtocol, SeverityError, RetryNever},
			{"TransportError", TransportError("test"), CategoryTransport, SeverityError, RetryFallback},
			{"LifecycleError", LifecycleError("test"), CategoryLifecycle, SeverityFatal, RetryFallback},
			{"SchedulingError", SchedulingError("test"), CategoryScheduling, SeverityFatal, RetryUserAction},
			{"GeneratorError", GeneratorError("test"), CategoryGenerator, SeverityFatal, RetryNever},
			{"ProjectError", ProjectError("test"), CategoryProject, SeverityFatal, RetryUserAction},
			{"FileSystemError", FileSystemError("test"), CategoryFileSystem, SeverityError, RetryBackoff},
			{"IsolationError", IsolationError("test"), CategoryIsolation, SeverityError, RetryBackoff},
			{"RuntimeError", RuntimeError("test"), CategoryRuntime, SeverityFatal, RetryNever},
			{"InternalError", InternalError("test"), CategoryInternal, SeverityFatal, RetryNever},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.builder.Build()
				if err.Category() != tt.category {
					t.Errorf("expected category %s, got %s", tt.category, err.Category())
				}
				if err.Severity() != tt.severity {
					t.Errorf("expected severity %s, got %s", tt.severity, err.Severity())
				}
				if err.RetryStrategy() != tt.retry {
					t.Errorf("expected retry strategy %s, got %s", tt.retry, err.RetryStrategy())
				}
			})
		}
	})
}

func TestErrorContext(t *testing.T) {
	ctx1 := ErrorContext{}.Set("key1", "value1").Set("shared", "original")
	ctx2 := ErrorContext{}.Set("key2", "value2").Set("shared", "overridden")

	merged := ctx1.Merge(ctx2)

	value1, _ := merged.GetString("key1")
	value2, _ := merged.GetString("key2")
	shared, _ := merged.GetString("shared")
	if value1 != "value1" || value2 != "value2" {
		t.Errorf("merge lost keys: %v", merged)
	}
	if shared != "overridden" {
		t.Errorf("expected shared=overridden, got %s", shared)
	}

	var nilCtx ErrorContext
	if _, ok := nilCtx.Get("missing"); ok {
		t.Error("nil context should report missing keys")
	}
}
