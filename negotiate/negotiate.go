// Package h2negotiate decides, per host, whether to speak HTTP/2 at all —
// via ALPN during a real TLS handshake, or unconditionally under prior
// knowledge — and remembers the answer for a bounded time so repeat
// requests to the same host skip the probe.
package h2negotiate

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"
)

// Protocol is the negotiated application protocol for a host.
type Protocol string

const (
	ProtocolH2   Protocol = "h2"
	ProtocolHTTP1 Protocol = "http/1.1"
)

// DefaultCacheTTL is how long a negotiation result is trusted before the
// negotiator probes the host again.
const DefaultCacheTTL = 10 * time.Minute

// Options configures a Negotiator.
type Options struct {
	// ForceProtocol, if set, skips negotiation entirely and always reports
	// this protocol for every host.
	ForceProtocol Protocol

	// CacheTTL overrides DefaultCacheTTL.
	CacheTTL time.Duration

	// TLSConfig is cloned and used for the probe handshake. If nil, a
	// default advertising [h2, http/1.1] is used.
	TLSConfig *tls.Config

	// DialTimeout bounds the probe connection attempt.
	DialTimeout time.Duration
}

type cacheEntry struct {
	protocol  Protocol
	expiresAt time.Time
}

// Negotiator caches ALPN negotiation results keyed by host:port.
type Negotiator struct {
	opts Options

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates a Negotiator.
func New(opts Options) *Negotiator {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	return &Negotiator{opts: opts, cache: make(map[string]cacheEntry)}
}

// Negotiate determines the protocol to use for addr (host:port), probing
// with a real TLS+ALPN handshake unless ForceProtocol is set or a fresh
// cached result exists. priorKnowledge, if true, short-circuits straight to
// ProtocolH2 without a network round trip.
func (n *Negotiator) Negotiate(ctx context.Context, addr string, priorKnowledge bool) (Protocol, error) {
	if n.opts.ForceProtocol != "" {
		return n.opts.ForceProtocol, nil
	}
	if priorKnowledge {
		return ProtocolH2, nil
	}

	if p, ok := n.cached(addr); ok {
		return p, nil
	}

	p, err := n.probe(ctx, addr)
	if err != nil {
		return "", err
	}

	n.store(addr, p)
	return p, nil
}

func (n *Negotiator) cached(addr string) (Protocol, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.cache[addr]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.protocol, true
}

func (n *Negotiator) store(addr string, p Protocol) {
	n.mu.Lock()
	n.cache[addr] = cacheEntry{protocol: p, expiresAt: time.Now().Add(n.opts.CacheTTL)}
	n.mu.Unlock()
}

// Forget drops any cached result for addr, forcing the next Negotiate call
// to probe again.
func (n *Negotiator) Forget(addr string) {
	n.mu.Lock()
	delete(n.cache, addr)
	n.mu.Unlock()
}

func (n *Negotiator) probe(ctx context.Context, addr string) (Protocol, error) {
	timeout := n.opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer rawConn.Close()

	tlsCfg := n.opts.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	tlsCfg = tlsCfg.Clone()

	if tlsCfg.ServerName == "" {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		tlsCfg.ServerName = host
	}
	if len(tlsCfg.NextProtos) == 0 {
		tlsCfg.NextProtos = []string{string(ProtocolH2), string(ProtocolHTTP1)}
	}

	tlsConn := tls.Client(rawConn, tlsCfg)
	if err := tlsConn.HandshakeContext(dctx); err != nil {
		return "", err
	}
	defer tlsConn.Close()

	switch tlsConn.ConnectionState().NegotiatedProtocol {
	case string(ProtocolH2):
		return ProtocolH2, nil
	default:
		return ProtocolHTTP1, nil
	}
}
