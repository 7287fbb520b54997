package h2negotiate

import (
	"context"
	"testing"
	"time"
)

func TestNegotiateForceProtocolShortCircuits(t *testing.T) {
	n := New(Options{ForceProtocol: ProtocolHTTP1})

	p, err := n.Negotiate(context.Background(), "unreachable.invalid:443", false)
	if err != nil {
		t.Fatal(err)
	}
	if p != ProtocolHTTP1 {
		t.Fatalf("expected ForceProtocol to override negotiation, got %s", p)
	}
}

func TestNegotiatePriorKnowledgeShortCircuits(t *testing.T) {
	n := New(Options{})

	p, err := n.Negotiate(context.Background(), "unreachable.invalid:443", true)
	if err != nil {
		t.Fatal(err)
	}
	if p != ProtocolH2 {
		t.Fatalf("expected prior knowledge to assume h2 without probing, got %s", p)
	}
}

func TestNegotiateCacheHitAvoidsProbe(t *testing.T) {
	n := New(Options{CacheTTL: time.Minute})
	n.store("cached.example:443", ProtocolH2)

	p, err := n.Negotiate(context.Background(), "cached.example:443", false)
	if err != nil {
		t.Fatal(err)
	}
	if p != ProtocolH2 {
		t.Fatalf("expected the cached protocol, got %s", p)
	}
}

func TestNegotiateCacheExpiresAfterTTL(t *testing.T) {
	n := New(Options{CacheTTL: time.Minute})
	n.mu.Lock()
	n.cache["stale.example:443"] = cacheEntry{protocol: ProtocolH2, expiresAt: time.Now().Add(-time.Second)}
	n.mu.Unlock()

	if _, ok := n.cached("stale.example:443"); ok {
		t.Fatal("expected an expired cache entry to be treated as a miss")
	}
}

func TestNegotiateForget(t *testing.T) {
	n := New(Options{})
	n.store("forget.example:443", ProtocolH2)

	if _, ok := n.cached("forget.example:443"); !ok {
		t.Fatal("expected a cache hit before Forget")
	}

	n.Forget("forget.example:443")

	if _, ok := n.cached("forget.example:443"); ok {
		t.Fatal("expected no cache hit after Forget")
	}
}
