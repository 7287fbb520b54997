package h2client

import (
	"errors"
	"fmt"
)

// ErrorCode is an HTTP/2 error code as defined by RFC 9113 section 7.
//
// https://httpwg.org/specs/rfc7540.html#ErrorCodes
type ErrorCode uint32

const (
	ErrCodeNo                 ErrorCode = 0x0
	ErrCodeProtocol           ErrorCode = 0x1
	ErrCodeInternal           ErrorCode = 0x2
	ErrCodeFlowControl        ErrorCode = 0x3
	ErrCodeSettingsTimeout    ErrorCode = 0x4
	ErrCodeStreamClosed       ErrorCode = 0x5
	ErrCodeFrameSize          ErrorCode = 0x6
	ErrCodeRefusedStream      ErrorCode = 0x7
	ErrCodeCancel             ErrorCode = 0x8
	ErrCodeCompression        ErrorCode = 0x9
	ErrCodeConnect            ErrorCode = 0xa
	ErrCodeEnhanceYourCalm    ErrorCode = 0xb
	ErrCodeInadequateSecurity ErrorCode = 0xc
	ErrCodeHTTP11Required     ErrorCode = 0xd
)

var errCodeNames = [...]string{
	ErrCodeNo:                 "NO_ERROR",
	ErrCodeProtocol:           "PROTOCOL_ERROR",
	ErrCodeInternal:           "INTERNAL_ERROR",
	ErrCodeFlowControl:        "FLOW_CONTROL_ERROR",
	ErrCodeSettingsTimeout:    "SETTINGS_TIMEOUT",
	ErrCodeStreamClosed:       "STREAM_CLOSED",
	ErrCodeFrameSize:          "FRAME_SIZE_ERROR",
	ErrCodeRefusedStream:      "REFUSED_STREAM",
	ErrCodeCancel:             "CANCEL",
	ErrCodeCompression:        "COMPRESSION_ERROR",
	ErrCodeConnect:            "CONNECT_ERROR",
	ErrCodeEnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	ErrCodeInadequateSecurity: "INADEQUATE_SECURITY",
	ErrCodeHTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (c ErrorCode) String() string {
	if int(c) < len(errCodeNames) && errCodeNames[c] != "" {
		return errCodeNames[c]
	}
	return fmt.Sprintf("UNKNOWN_ERROR(%#x)", uint32(c))
}

// Scope distinguishes where an Error applies, matching the propagation
// policy in the specification's error handling design: stream-scoped
// errors fail only the owning waiter, connection-scoped errors tear down
// the whole Conn.
type Scope uint8

const (
	ScopeStream Scope = iota
	ScopeConnection
	ScopeLocal
)

// Error is the taxonomy-tagged error returned by every exported operation
// that can fail due to a protocol violation, a local condition (timeout,
// circuit breaker), or an I/O failure.
type Error struct {
	Code    ErrorCode
	Scope   Scope
	Stream  uint32
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("h2client: %s (stream=%d): %s", e.Code, e.Stream, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("h2client: %s (stream=%d): %s", e.Code, e.Stream, e.Err)
	}
	return fmt.Sprintf("h2client: %s (stream=%d)", e.Code, e.Stream)
}

func (e *Error) Unwrap() error { return e.Err }

// ConnError builds a connection-scoped Error. Receiving or producing one of
// these always results in a GOAWAY being sent (or having been received) and
// every in-flight stream on the connection failing.
func ConnError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Scope: ScopeConnection, Message: msg}
}

// StreamError builds a stream-scoped Error. Only the owning waiter is
// failed; the connection continues serving other streams.
func StreamError(streamID uint32, code ErrorCode, msg string) *Error {
	return &Error{Code: code, Scope: ScopeStream, Stream: streamID, Message: msg}
}

// Local error conditions that never cross the wire.
var (
	ErrTimeout              = &Error{Code: ErrCodeNo, Scope: ScopeLocal, Message: "request timed out"}
	ErrCircuitBreakerOpen   = &Error{Code: ErrCodeNo, Scope: ScopeLocal, Message: "circuit breaker is open"}
	ErrConnectionClosed     = &Error{Code: ErrCodeNo, Scope: ScopeLocal, Message: "connection is closed"}
	ErrNoAvailableStreams   = &Error{Code: ErrCodeRefusedStream, Scope: ScopeLocal, Message: "peer's concurrent stream limit reached"}
	ErrMissingBytes         = errors.New("h2client: frame payload is too short for its type")
	ErrUnknownFrameType     = errors.New("h2client: unknown frame type")
	ErrFrameSizeExceeded    = errors.New("h2client: frame length exceeds the negotiated maximum")
	ErrBadPreface           = errors.New("h2client: server did not echo a valid connection preface response")
	ErrServerDoesNotSupport = errors.New("h2client: server did not negotiate h2")
	ErrHpackBomb            = errors.New("h2client: hpack decompression exceeded a security limit")
	ErrBitOverflow          = errors.New("h2client: hpack integer primitive overflowed")
)

// IsConnectionError reports whether err (or something it wraps) is a
// connection-scoped protocol Error.
func IsConnectionError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Scope == ScopeConnection
	}
	return false
}

// IsStreamError reports whether err (or something it wraps) is a
// stream-scoped protocol Error.
func IsStreamError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Scope == ScopeStream
	}
	return false
}
