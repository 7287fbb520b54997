package h2client

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorScopeClassification(t *testing.T) {
	connErr := ConnError(ErrCodeProtocol, "boom")
	if !IsConnectionError(connErr) {
		t.Fatal("expected a ConnError to be classified as connection-scoped")
	}
	if IsStreamError(connErr) {
		t.Fatal("a ConnError must not also be classified as stream-scoped")
	}

	streamErr := StreamError(5, ErrCodeCancel, "canceled")
	if !IsStreamError(streamErr) {
		t.Fatal("expected a StreamError to be classified as stream-scoped")
	}
	if IsConnectionError(streamErr) {
		t.Fatal("a StreamError must not also be classified as connection-scoped")
	}
}

func TestErrorWrappingSurvivesFmtErrorf(t *testing.T) {
	base := StreamError(7, ErrCodeFlowControl, "window exhausted")
	wrapped := fmt.Errorf("sending headers: %w", base)

	if !IsStreamError(wrapped) {
		t.Fatal("expected errors.As-based classification to see through fmt.Errorf wrapping")
	}

	var e *Error
	if !errors.As(wrapped, &e) {
		t.Fatal("expected errors.As to find the underlying *Error")
	}
	if e.Code != ErrCodeFlowControl {
		t.Fatalf("unexpected code: %s", e.Code)
	}
}

func TestErrorCodeStringUnknownFallback(t *testing.T) {
	c := ErrorCode(0xfe)
	got := c.String()
	want := "UNKNOWN_ERROR(0xfe)"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
