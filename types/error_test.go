package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedChain(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrNotFound, "case not found").WithHTTPStatus(404)
	wrapped := fmt.Errorf("legal search: %w", inner)

	if GetErrorCode(wrapped) != ErrNotFound {
		t.Fatalf("expected code to survive wrapping, got %s", GetErrorCode(wrapped))
	}
	if !IsNotFound(wrapped) {
		t.Fatalf("expected IsNotFound on wrapped chain")
	}
	if IsRetryable(wrapped) {
		t.Fatalf("not-found must not be retryable")
	}
}

func TestGetErrorCode_PlainError(t *testing.T) {
	t.Parallel()

	if code := GetErrorCode(errors.New("plain")); code != "" {
		t.Fatalf("expected empty code for plain error, got %s", code)
	}
	if IsRetryable(nil) {
		t.Fatalf("nil must not be retryable")
	}
}
