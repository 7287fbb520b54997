package h2c

import (
	"context"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/domsolutions/h2client/breaker"
	"github.com/domsolutions/h2client/negotiate"
)

func TestIsFailureStatusClassification(t *testing.T) {
	cases := map[int]bool{
		fasthttp.StatusOK:                  false,
		fasthttp.StatusNotFound:            false,
		fasthttp.StatusBadRequest:          false,
		fasthttp.StatusRequestTimeout:      true,
		fasthttp.StatusTooManyRequests:     true,
		fasthttp.StatusInternalServerError: true,
		fasthttp.StatusBadGateway:          true,
	}
	for status, want := range cases {
		if got := isFailureStatus(status); got != want {
			t.Fatalf("isFailureStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

type countingBreaker struct {
	allowed, succeeded, failed int
}

func (c *countingBreaker) Allow(string) error { c.allowed++; return nil }
func (c *countingBreaker) Success(string)     { c.succeeded++ }
func (c *countingBreaker) Failure(string)     { c.failed++ }

// TestRequestRecordsFailureThroughAdapter exercises the full Request path
// against an address nothing listens on, so the pool's dial always fails
// fast; what's under test is that the failure is routed to the caller's
// BreakerAdapter in preference to the built-in breaker.
func TestRequestRecordsFailureThroughAdapter(t *testing.T) {
	cb := &countingBreaker{}
	c := New(Options{
		NegotiateOptions: h2negotiate.Options{ForceProtocol: h2negotiate.ProtocolH2},
		Breaker:          cb,
		RequestTimeout:   2 * time.Second,
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Get(ctx, "http://127.0.0.1:1/", nil)
	if err == nil {
		t.Fatal("expected an error dialing a port nothing listens on")
	}

	if cb.allowed == 0 {
		t.Fatal("expected the adapter's Allow to be consulted")
	}
	if cb.failed == 0 {
		t.Fatal("expected the adapter's Failure to be recorded")
	}
	if cb.succeeded != 0 {
		t.Fatal("a failed dial must not be recorded as a success")
	}
}

// TestRequestUsesBuiltinBreakerWhenNoAdapterSet exercises the built-in
// per-host breaker tripping after one failed request (FailureThreshold 1)
// and rejecting the next, with no adapter configured.
func TestRequestUsesBuiltinBreakerWhenNoAdapterSet(t *testing.T) {
	c := New(Options{
		NegotiateOptions: h2negotiate.Options{ForceProtocol: h2negotiate.ProtocolH2},
		BreakerOptions:   h2breaker.Options{FailureThreshold: 1},
		RequestTimeout:   2 * time.Second,
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.Get(ctx, "http://127.0.0.1:1/", nil); err == nil {
		t.Fatal("expected the first request to fail")
	}

	b := c.breakers.For("127.0.0.1:1")
	if b.State() != h2breaker.StateOpen {
		t.Fatalf("expected the built-in breaker to trip after one failure, got %s", b.State())
	}

	if _, err := c.Get(ctx, "http://127.0.0.1:1/", nil); err != h2breaker.ErrOpen {
		t.Fatalf("expected the second request to be rejected by the open breaker, got %v", err)
	}
}
