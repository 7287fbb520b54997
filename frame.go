package h2client

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/domsolutions/h2client/h2utils"
)

// DefaultFrameSize is the fixed size, in bytes, of every HTTP/2 frame header.
//
// https://httpwg.org/specs/rfc7540.html#FrameHeader
const DefaultFrameSize = 9

// defaultMaxFrameSize is the initial value of SETTINGS_MAX_FRAME_SIZE before
// any SETTINGS exchange has happened.
//
// https://httpwg.org/specs/rfc7540.html#SETTINGS_MAX_FRAME_SIZE
const defaultMaxFrameSize = 1 << 14

// FrameType identifies the ten frame kinds defined by RFC 9113 section 6.
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRstStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9

	// FrameUnknown is the kind an Unknown variant is acquired with for a
	// frame read off the wire; its Deserialize then replaces it with the
	// frame's real numeric type, which Unknown.Type() reports.
	FrameUnknown FrameType = 0xff

	maxKnownFrameType = FrameContinuation
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRstStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return fmt.Sprintf("UNKNOWN(%#x)", uint8(t))
	}
}

// FrameFlags is the 8-bit flags field of a frame header. Which bits are
// meaningful depends on the frame Type; undefined bits are ignored on
// receive and must never be set on send.
type FrameFlags uint8

const (
	FlagAck        FrameFlags = 0x1
	FlagEndStream  FrameFlags = 0x1
	FlagEndHeaders FrameFlags = 0x4
	FlagPadded     FrameFlags = 0x8
	FlagPriority   FrameFlags = 0x20
)

// Has reports whether f contains all bits of mask.
func (f FrameFlags) Has(mask FrameFlags) bool { return f&mask == mask }

// Add returns f with mask set.
func (f FrameFlags) Add(mask FrameFlags) FrameFlags { return f | mask }

// Frame is implemented by every frame payload type (Data, Headers, ...).
// Dispatch is a type switch / tagged union, not inheritance, matching the
// "frame-type polymorphism" guidance: one Go interface, one struct per
// variant, Serialize/Deserialize doing the wire (en|de)coding against the
// already-parsed FrameHeader envelope.
type Frame interface {
	Type() FrameType
	Reset()

	// Deserialize populates the frame from frh.payload (already read off
	// the wire) and frh's header fields (flags, stream id, length). It
	// must return the per-type validation errors mandated by spec section
	// 4.1 before the engine dispatches on the result.
	Deserialize(frh *FrameHeader) error

	// Serialize encodes the frame into frh, setting frh.payload and any
	// flags the frame implies.
	Serialize(frh *FrameHeader)
}

var framePools = map[FrameType]*sync.Pool{
	FrameData:         {New: func() interface{} { return &Data{} }},
	FrameHeaders:      {New: func() interface{} { return &Headers{} }},
	FramePriority:     {New: func() interface{} { return &Priority{} }},
	FrameRstStream:    {New: func() interface{} { return &RstStream{} }},
	FrameSettings:     {New: func() interface{} { return &Settings{} }},
	FramePushPromise:  {New: func() interface{} { return &PushPromise{} }},
	FramePing:         {New: func() interface{} { return &Ping{} }},
	FrameGoAway:       {New: func() interface{} { return &GoAway{} }},
	FrameWindowUpdate: {New: func() interface{} { return &WindowUpdate{} }},
	FrameContinuation: {New: func() interface{} { return &Continuation{} }},
}

var unknownPool = sync.Pool{New: func() interface{} { return &Unknown{} }}

// AcquireFrame returns a pooled Frame body for kind. Unknown/out-of-range
// kinds get an Unknown variant, preserved for pass-through per section 4.1.
func AcquireFrame(kind FrameType) Frame {
	if pool, ok := framePools[kind]; ok {
		fr := pool.Get().(Frame)
		fr.Reset()
		return fr
	}
	u := unknownPool.Get().(*Unknown)
	u.Reset()
	u.kind = kind
	return u
}

// ReleaseFrame returns fr to its pool. A nil fr is a no-op.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}
	if u, ok := fr.(*Unknown); ok {
		unknownPool.Put(u)
		return
	}
	if pool, ok := framePools[fr.Type()]; ok {
		pool.Put(fr)
	}
}

var frameHeaderPool = sync.Pool{New: func() interface{} { return &FrameHeader{} }}

// FrameHeader is the 9-byte frame envelope plus its decoded payload.
//
// Use AcquireFrameHeader/ReleaseFrameHeader instead of allocating one
// directly; a FrameHeader must not be used from more than one goroutine at
// a time.
//
// https://tools.ietf.org/html/rfc7540#section-4.1
type FrameHeader struct {
	length int
	kind   FrameType
	flags  FrameFlags
	stream uint32

	maxLen uint32

	rawHeader [DefaultFrameSize]byte
	payload   []byte

	fr Frame
}

// AcquireFrameHeader gets a FrameHeader from the pool, reset to zero value
// with maxLen defaulted to the initial SETTINGS_MAX_FRAME_SIZE.
func AcquireFrameHeader() *FrameHeader {
	frh := frameHeaderPool.Get().(*FrameHeader)
	frh.Reset()
	return frh
}

// ReleaseFrameHeader releases frh's body (if any) and returns frh to the pool.
func ReleaseFrameHeader(frh *FrameHeader) {
	ReleaseFrame(frh.fr)
	frh.fr = nil
	frameHeaderPool.Put(frh)
}

// Reset resets frh to its zero value, ready for reuse.
func (frh *FrameHeader) Reset() {
	frh.kind = 0
	frh.flags = 0
	frh.stream = 0
	frh.length = 0
	frh.maxLen = defaultMaxFrameSize
	frh.fr = nil
	frh.payload = frh.payload[:0]
}

func (frh *FrameHeader) Type() FrameType        { return frh.kind }
func (frh *FrameHeader) Flags() FrameFlags      { return frh.flags }
func (frh *FrameHeader) SetFlags(f FrameFlags)  { frh.flags = f }
func (frh *FrameHeader) Stream() uint32         { return frh.stream }

// SetStream sets the stream id. The reserved high bit is always zero since
// stream ids are masked to 31 bits everywhere they're produced.
func (frh *FrameHeader) SetStream(stream uint32) { frh.stream = stream & (1<<31 - 1) }

// Len returns the payload length as it appeared on the wire (or will be
// computed to, on send, after Serialize runs).
func (frh *FrameHeader) Len() int { return frh.length }

// MaxLen returns the negotiated maximum payload length enforced on receive.
func (frh *FrameHeader) MaxLen() uint32 { return frh.maxLen }

// SetMaxLen overrides the maximum payload length used by readFrom's length
// check. ReadFrameFromWithSize sets the same field from its max argument.
func (frh *FrameHeader) SetMaxLen(n uint32) { frh.maxLen = n }

// Body returns the decoded frame payload, or nil before ReadFrom/SetBody.
func (frh *FrameHeader) Body() Frame { return frh.fr }

// SetBody attaches fr as frh's payload ahead of a Serialize/WriteTo call.
func (frh *FrameHeader) SetBody(fr Frame) {
	if fr == nil {
		panic("h2client: FrameHeader.SetBody called with nil Frame")
	}
	frh.kind = fr.Type()
	frh.fr = fr
}

func (frh *FrameHeader) setPayload(payload []byte) {
	frh.payload = append(frh.payload[:0], payload...)
}

func (frh *FrameHeader) parseValues(header []byte) {
	frh.length = int(h2utils.BytesToUint24(header[:3]))
	frh.kind = FrameType(header[3])
	frh.flags = FrameFlags(header[4])
	frh.stream = h2utils.BytesToUint32(header[5:]) & (1<<31 - 1)
}

func (frh *FrameHeader) encodeHeader(header []byte) {
	h2utils.Uint24ToBytes(header[:3], uint32(frh.length))
	header[3] = byte(frh.kind)
	header[4] = byte(frh.flags)
	h2utils.Uint32ToBytes(header[5:], frh.stream)
}

// ReadFrameFrom reads and validates the next frame off br, dispatching to
// the matching Frame variant's Deserialize. Per section 4.1 the length
// check happens before the payload is read in full whenever the header
// alone already reveals the violation.
func ReadFrameFrom(br *bufio.Reader) (*FrameHeader, error) {
	return ReadFrameFromWithSize(br, defaultMaxFrameSize)
}

// ReadFrameFromWithSize is ReadFrameFrom with an explicit negotiated
// SETTINGS_MAX_FRAME_SIZE (the receiver's own advertised limit).
func ReadFrameFromWithSize(br *bufio.Reader, max uint32) (*FrameHeader, error) {
	frh := AcquireFrameHeader()
	frh.maxLen = max

	_, err := frh.readFrom(br)
	if err != nil {
		ReleaseFrameHeader(frh)
		return nil, err
	}
	return frh, nil
}

func (frh *FrameHeader) readFrom(br *bufio.Reader) (int64, error) {
	header, err := io.ReadFull(br, frh.rawHeader[:])
	if err != nil {
		return int64(header), err
	}

	rn := int64(DefaultFrameSize)

	frh.parseValues(frh.rawHeader[:])

	if frh.maxLen != 0 && uint32(frh.length) > frh.maxLen {
		_, _ = io.CopyN(io.Discard, br, int64(frh.length))
		return rn, ConnError(ErrCodeFrameSize, fmt.Sprintf(
			"frame length %d exceeds negotiated max %d", frh.length, frh.maxLen))
	}

	if frh.length > 0 {
		frh.payload = h2utils.Resize(frh.payload, frh.length)
		n, err := io.ReadFull(br, frh.payload[:frh.length])
		rn += int64(n)
		if err != nil {
			return rn, err
		}
	} else {
		frh.payload = frh.payload[:0]
	}

	if frh.kind > maxKnownFrameType {
		frh.fr = AcquireFrame(FrameUnknown)
		_ = frh.fr.Deserialize(frh)
		return rn, nil
	}

	frh.fr = AcquireFrame(frh.kind)

	return rn, frh.fr.Deserialize(frh)
}

// WriteTo serializes frh's body and writes header+payload to w.
func (frh *FrameHeader) WriteTo(w *bufio.Writer) (int64, error) {
	frh.fr.Serialize(frh)

	frh.length = len(frh.payload)
	if frh.length > len(frh.payload) {
		panic("h2client: frame length accounting is inconsistent")
	}
	frh.encodeHeader(frh.rawHeader[:])

	n, err := w.Write(frh.rawHeader[:])
	wb := int64(n)
	if err == nil {
		n, err = w.Write(frh.payload)
		wb += int64(n)
	}
	return wb, err
}
