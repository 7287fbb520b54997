package h2client

import (
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"
)

// Config is the immutable configuration for a Conn. It is built once, via
// NewConfig and functional options, and never mutated afterward — there is
// no package-level configuration singleton.
type Config struct {
	// TLSConfig is used verbatim for the TLS handshake when dialing over
	// TLS. If nil, a default config advertising ALPN [h2, http/1.1] is used.
	TLSConfig *tls.Config

	// PriorKnowledge skips ALPN negotiation entirely and assumes the peer
	// speaks h2 in cleartext (h2c): Dial performs no TLS handshake when it
	// is set.
	PriorKnowledge bool

	// PingInterval is how often the connection engine pings the peer to
	// detect a dead connection, whether or not other frames are flowing.
	// Zero uses DefaultPingInterval.
	PingInterval time.Duration

	// DisablePingChecking disables the unacked-ping disconnect threshold;
	// pings are still sent (RTT measurement) but never cause a close.
	DisablePingChecking bool

	// RequestTimeout bounds a single send_request call. Zero uses
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// InitialWindowSize is the local SETTINGS_INITIAL_WINDOW_SIZE advertised
	// at connect. Zero uses DefaultInitialWindowSize.
	InitialWindowSize uint32

	// MaxFrameSize is the local SETTINGS_MAX_FRAME_SIZE advertised at
	// connect. Zero uses DefaultMaxFrameSize.
	MaxFrameSize uint32

	// MaxConcurrentStreams is the local SETTINGS_MAX_CONCURRENT_STREAMS.
	// NewConfig sets DefaultMaxConcurrentStreams; a zero value is
	// advertised as zero.
	MaxConcurrentStreams uint32

	// HeaderTableSize is the local SETTINGS_HEADER_TABLE_SIZE. NewConfig
	// sets DefaultHeaderTableSize; a zero value is used as zero.
	HeaderTableSize uint32

	// MaxHeaderListSize is the local SETTINGS_MAX_HEADER_LIST_SIZE.
	// NewConfig sets DefaultMaxHeaderListSize; a zero value is advertised
	// as zero.
	MaxHeaderListSize uint32

	// HpackLimits bounds HPACK decompression. Zero value uses
	// DefaultHpackSecurityLimits.
	HpackLimits HpackSecurityLimits

	// LowWaterMark is the fraction (0,1] of a window's initial size below
	// which the engine issues a WINDOW_UPDATE. Zero uses 0.5.
	LowWaterMark float64

	// MaxContinuationFrames bounds the number of CONTINUATION frames that
	// may follow one HEADERS frame. Zero uses DefaultMaxContinuationFrames.
	MaxContinuationFrames int

	// MaxHeaderBlockBytes bounds the accumulated size of a header block
	// across HEADERS + CONTINUATION frames. Zero uses
	// DefaultMaxHeaderBlockBytes.
	MaxHeaderBlockBytes int

	// ContinuationTimeout bounds the wall-clock duration of a single
	// HEADERS/CONTINUATION sequence. Zero uses DefaultContinuationTimeout.
	ContinuationTimeout time.Duration

	// OnDisconnect fires when the connection is torn down, for any reason.
	OnDisconnect func(*Conn)

	// OnRTT fires after every successful PING/PONG round trip with the
	// measured round-trip time.
	OnRTT func(time.Duration)

	// Logger receives structured lifecycle and frame-level events. The zero
	// value is a valid no-op logger (zerolog.Logger{}, disabled level).
	Logger zerolog.Logger
}

const (
	// DefaultPingInterval is how often a connection pings its peer to
	// detect a dead connection.
	DefaultPingInterval = 15 * time.Second
	// DefaultRequestTimeout bounds a single request end-to-end.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultMaxContinuationFrames bounds the CONTINUATION frames in one
	// header block.
	DefaultMaxContinuationFrames = 100
	// DefaultMaxHeaderBlockBytes bounds the accumulated header block size.
	DefaultMaxHeaderBlockBytes = 256 << 10
	// DefaultContinuationTimeout bounds a HEADERS/CONTINUATION sequence's
	// wall-clock duration.
	DefaultContinuationTimeout = 30 * time.Second
	// maxUnackedPings is how many un-ponged pings are tolerated before the
	// connection is declared dead.
	maxUnackedPings = 3
)

// Option mutates a Config being built by NewConfig.
type Option func(*Config)

// WithTLSConfig sets the TLS configuration used when dialing over TLS.
func WithTLSConfig(cfg *tls.Config) Option { return func(c *Config) { c.TLSConfig = cfg } }

// WithPriorKnowledge assumes h2 without ALPN negotiation.
func WithPriorKnowledge(v bool) Option { return func(c *Config) { c.PriorKnowledge = v } }

// WithPingInterval overrides DefaultPingInterval.
func WithPingInterval(d time.Duration) Option { return func(c *Config) { c.PingInterval = d } }

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option { return func(c *Config) { c.RequestTimeout = d } }

// WithInitialWindowSize overrides DefaultInitialWindowSize.
func WithInitialWindowSize(n uint32) Option { return func(c *Config) { c.InitialWindowSize = n } }

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n uint32) Option { return func(c *Config) { c.MaxFrameSize = n } }

// WithHpackLimits overrides DefaultHpackSecurityLimits.
func WithHpackLimits(l HpackSecurityLimits) Option { return func(c *Config) { c.HpackLimits = l } }

// WithOnDisconnect registers a disconnect callback.
func WithOnDisconnect(cb func(*Conn)) Option { return func(c *Config) { c.OnDisconnect = cb } }

// WithOnRTT registers an RTT-measurement callback.
func WithOnRTT(cb func(time.Duration)) Option { return func(c *Config) { c.OnRTT = cb } }

// WithLogger sets the structured logger used for lifecycle/frame events.
func WithLogger(l zerolog.Logger) Option { return func(c *Config) { c.Logger = l } }

// NewConfig builds an immutable Config from defaults plus opts, in order.
func NewConfig(opts ...Option) Config {
	cfg := Config{
		PingInterval:          DefaultPingInterval,
		RequestTimeout:        DefaultRequestTimeout,
		InitialWindowSize:     DefaultInitialWindowSize,
		MaxFrameSize:          DefaultMaxFrameSize,
		MaxConcurrentStreams:  DefaultMaxConcurrentStreams,
		HeaderTableSize:       DefaultHeaderTableSize,
		MaxHeaderListSize:     DefaultMaxHeaderListSize,
		HpackLimits:           DefaultHpackSecurityLimits(),
		LowWaterMark:          0.5,
		MaxContinuationFrames: DefaultMaxContinuationFrames,
		MaxHeaderBlockBytes:   DefaultMaxHeaderBlockBytes,
		ContinuationTimeout:   DefaultContinuationTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
