package h2client

import (
	"sync"

	"github.com/valyala/fasthttp"
)

// StreamState is a node in the HTTP/2 stream lifecycle.
//
// https://tools.ietf.org/html/rfc7540#section-5.1
type StreamState int8

const (
	StreamStateIdle StreamState = iota
	StreamStateReservedLocal
	StreamStateReservedRemote
	StreamStateOpen
	StreamStateHalfClosedLocal
	StreamStateHalfClosedRemote
	StreamStateClosed
)

func (ss StreamState) String() string {
	switch ss {
	case StreamStateIdle:
		return "Idle"
	case StreamStateReservedLocal:
		return "ReservedLocal"
	case StreamStateReservedRemote:
		return "ReservedRemote"
	case StreamStateOpen:
		return "Open"
	case StreamStateHalfClosedLocal:
		return "HalfClosedLocal"
	case StreamStateHalfClosedRemote:
		return "HalfClosedRemote"
	case StreamStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// legalTransitions enumerates, for each state, the states it may move to.
// A transition not listed here is a protocol violation.
var legalTransitions = map[StreamState]map[StreamState]bool{
	StreamStateIdle: {
		StreamStateOpen:            true,
		StreamStateHalfClosedLocal: true,
		StreamStateReservedLocal:   true,
		StreamStateReservedRemote:  true,
		StreamStateClosed:          true,
	},
	StreamStateReservedLocal: {
		StreamStateHalfClosedRemote: true,
		StreamStateClosed:          true,
	},
	StreamStateReservedRemote: {
		StreamStateHalfClosedLocal: true,
		StreamStateClosed:          true,
	},
	StreamStateOpen: {
		StreamStateHalfClosedLocal:  true,
		StreamStateHalfClosedRemote: true,
		StreamStateClosed:           true,
	},
	StreamStateHalfClosedLocal: {
		StreamStateClosed: true,
	},
	StreamStateHalfClosedRemote: {
		StreamStateClosed: true,
	},
	StreamStateClosed: {},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// HTTP/2 stream state transition.
func CanTransition(from, to StreamState) bool {
	if from == to {
		return true
	}
	return legalTransitions[from][to]
}

// Stream tracks one HTTP/2 stream's lifecycle, flow-control windows, and
// in-flight response assembly.
type Stream struct {
	mu sync.Mutex

	id    uint32
	state StreamState

	sendWindow int32
	recvWindow int32

	endStreamSeen bool

	// continuationOf is true while this stream has an unterminated
	// HEADERS/PUSH_PROMISE/CONTINUATION sequence (no END_HEADERS yet).
	continuationOf bool

	pendingHeaders []byte
	trailerBuffer  []byte

	response     *fasthttp.Response
	headersDone  bool
	trailers     []HeaderField

	priority *Priority

	// waiter receives exactly one error (nil on success) when the stream
	// finishes: reaches Closed with a full response, or fails.
	waiter   chan error
	doneOnce sync.Once

	data interface{}
}

// NewStream creates an Idle stream with the given initial windows.
func NewStream(id uint32, sendWindow, recvWindow int32, data interface{}) *Stream {
	return &Stream{
		id:         id,
		state:      StreamStateIdle,
		sendWindow: sendWindow,
		recvWindow: recvWindow,
		data:       data,
		waiter:     make(chan error, 1),
	}
}

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) SetID(id uint32) { s.id = id }

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the stream to `to`, returning a ProtocolError if the
// move is illegal.
func (s *Stream) Transition(to StreamState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !CanTransition(s.state, to) {
		return StreamError(s.id, ErrCodeProtocol,
			"illegal stream transition "+s.state.String()+" -> "+to.String())
	}

	s.state = to
	return nil
}

// SetState force-sets the state without transition validation; the engine
// uses it to close a stream the peer reset with RST_STREAM.
func (s *Stream) SetState(state StreamState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Stream) SendWindow() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendWindow
}

func (s *Stream) RecvWindow() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvWindow
}

func (s *Stream) IncrRecvWindow(delta int32) {
	s.mu.Lock()
	s.recvWindow += delta
	s.mu.Unlock()
}

func (s *Stream) ConsumeRecvWindow(n int32) {
	s.mu.Lock()
	s.recvWindow -= n
	s.mu.Unlock()
}

// TryConsumeSendWindow decrements the send window by n iff it currently has
// at least n bytes of credit, returning whether it did.
func (s *Stream) TryConsumeSendWindow(n int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendWindow < n {
		return false
	}
	s.sendWindow -= n
	return true
}

// AddSendWindow applies a WINDOW_UPDATE increment, reporting overflow past
// 2^31-1 as a stream-level FlowControlError per RFC 9113 section 6.9.1.
func (s *Stream) AddSendWindow(delta int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := int64(s.sendWindow) + int64(delta)
	if next > 1<<31-1 {
		return StreamError(s.id, ErrCodeFlowControl, "stream send window overflow")
	}
	s.sendWindow = int32(next)
	return nil
}

func (s *Stream) EndStreamSeen() bool { return s.endStreamSeen }

func (s *Stream) SetEndStreamSeen(v bool) { s.endStreamSeen = v }

func (s *Stream) InContinuation() bool { return s.continuationOf }

func (s *Stream) SetInContinuation(v bool) { s.continuationOf = v }

func (s *Stream) AppendPendingHeaders(b []byte) {
	s.pendingHeaders = append(s.pendingHeaders, b...)
}

func (s *Stream) PendingHeaders() []byte { return s.pendingHeaders }

func (s *Stream) ResetPendingHeaders() { s.pendingHeaders = s.pendingHeaders[:0] }

func (s *Stream) AppendTrailer(b []byte) {
	s.trailerBuffer = append(s.trailerBuffer, b...)
}

func (s *Stream) TrailerBuffer() []byte { return s.trailerBuffer }

func (s *Stream) Response() *fasthttp.Response { return s.response }

func (s *Stream) SetResponse(res *fasthttp.Response) { s.response = res }

// HeadersDone reports whether the primary response HEADERS block has
// already been decoded; a later HEADERS frame is then a trailer block.
func (s *Stream) HeadersDone() bool { return s.headersDone }

func (s *Stream) SetHeadersDone(v bool) { s.headersDone = v }

func (s *Stream) Trailers() []HeaderField { return s.trailers }

func (s *Stream) AppendTrailerField(hf HeaderField) { s.trailers = append(s.trailers, hf) }

func (s *Stream) Priority() *Priority { return s.priority }

func (s *Stream) SetPriority(p *Priority) { s.priority = p }

// Done delivers the terminal error (nil on success) to whoever is waiting
// on this stream and closes the waiter channel. Only the first call has any
// effect: a stream can be finished exactly once, whether by a normal
// response, a peer RST_STREAM, a local cancellation, or connection teardown,
// and these can race each other.
func (s *Stream) Done(err error) {
	s.doneOnce.Do(func() {
		s.waiter <- err
		close(s.waiter)
	})
}

// Wait blocks until Done is called.
func (s *Stream) Wait() error { return <-s.waiter }

// WaitChan exposes the waiter channel directly so a caller can select on it
// alongside a context's Done channel.
func (s *Stream) WaitChan() <-chan error { return s.waiter }

func (s *Stream) Data() interface{} { return s.data }

// Window is kept for the teacher's naming convention where callers only
// care about the receive-direction (connection-facing) window.
func (s *Stream) Window() int32 { return s.recvWindow }

func (s *Stream) SetWindow(win int32) { s.recvWindow = win }
