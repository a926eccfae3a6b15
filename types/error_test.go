package types

import (
	"errors"
	"fmt"
	"net/http"
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

func TestAsError_Wrapped(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrQuotaExceeded, "over budget")
	wrapped := fmt.Errorf("route: %w", inner)

	if !IsErrorCode(wrapped, ErrQuotaExceeded) {
		t.Fatalf("expected wrapped code to be found")
	}
	if got := HTTPStatusOf(wrapped); got != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", got)
	}
	if got := HTTPStatusOf(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for plain error, got %d", got)
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
}

func TestHTTPStatusOf_ExplicitWins(t *testing.T) {
	t.Parallel()

	err := NewError(ErrAllModelsFailed, "x").WithHTTPStatus(http.StatusServiceUnavailable)
	if got := HTTPStatusOf(err); got != http.StatusServiceUnavailable {
		t.Fatalf("expected explicit status, got %d", got)
	}
	if got := HTTPStatusOf(NewError(ErrAllModelsFailed, "x")); got != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", got)
	}
}
