package h2client

import (
	"bufio"
	"bytes"
	"testing"
)

func writeAndReadBack(t *testing.T, stream uint32, body Frame, maxFrameSize uint32) Frame {
	t.Helper()

	frh := AcquireFrameHeader()
	frh.SetStream(stream)
	frh.SetBody(body)

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if _, err := frh.WriteTo(bw); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	ReleaseFrameHeader(frh)

	got, err := ReadFrameFromWithSize(bufio.NewReader(&buf), maxFrameSize)
	if err != nil {
		t.Fatalf("ReadFrameFromWithSize: %v", err)
	}
	return got.Body()
}

func TestRstStreamRoundTrip(t *testing.T) {
	rst := AcquireFrame(FrameRstStream).(*RstStream)
	rst.SetCode(ErrCodeCancel)

	got := writeAndReadBack(t, 3, rst, defaultMaxFrameSize).(*RstStream)
	if got.Code() != ErrCodeCancel {
		t.Fatalf("expected code %s, got %s", ErrCodeCancel, got.Code())
	}
}

func TestRstStreamRejectsStreamZero(t *testing.T) {
	rst := &RstStream{}
	frh := AcquireFrameHeader()
	frh.SetStream(0)
	frh.payload = []byte{0, 0, 0, 8}

	err := rst.Deserialize(frh)
	if !IsConnectionError(err) {
		t.Fatalf("expected a connection-scoped error, got %v", err)
	}
}

func TestContinuationRoundTrip(t *testing.T) {
	c := AcquireFrame(FrameContinuation).(*Continuation)
	c.SetHeader([]byte("remaining header block fragment"))
	c.SetEndHeaders(true)

	got := writeAndReadBack(t, 5, c, defaultMaxFrameSize).(*Continuation)
	if !got.EndHeaders() {
		t.Fatal("expected END_HEADERS to survive the round trip")
	}
	if string(got.Headers()) != "remaining header block fragment" {
		t.Fatalf("unexpected header fragment: %q", got.Headers())
	}
}

func TestGoAwayRoundTripWithDebugData(t *testing.T) {
	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetStream(17)
	ga.SetCode(ErrCodeProtocol)
	ga.SetData([]byte("excess flood"))

	got := writeAndReadBack(t, 0, ga, defaultMaxFrameSize).(*GoAway)
	if got.Stream() != 17 {
		t.Fatalf("expected last_stream_id 17, got %d", got.Stream())
	}
	if got.Code() != ErrCodeProtocol {
		t.Fatalf("expected code %s, got %s", ErrCodeProtocol, got.Code())
	}
	if string(got.Data()) != "excess flood" {
		t.Fatalf("unexpected debug data: %q", got.Data())
	}
}

func TestGoAwayRejectsShortPayload(t *testing.T) {
	ga := &GoAway{}
	frh := AcquireFrameHeader()
	frh.payload = []byte{0, 0, 0, 1}

	if err := ga.Deserialize(frh); !IsConnectionError(err) {
		t.Fatalf("expected a connection-scoped error for a short GOAWAY payload, got %v", err)
	}
}

func TestWindowUpdateRoundTrip(t *testing.T) {
	wu := &WindowUpdate{}
	wu.SetIncrement(65535)

	got := writeAndReadBack(t, 9, wu, defaultMaxFrameSize).(*WindowUpdate)
	if got.Increment() != 65535 {
		t.Fatalf("expected increment 65535, got %d", got.Increment())
	}
}

func TestWindowUpdateRejectsZeroIncrement(t *testing.T) {
	wu := &WindowUpdate{}
	frh := AcquireFrameHeader()
	frh.SetStream(9)
	frh.payload = []byte{0, 0, 0, 0}

	err := wu.Deserialize(frh)
	if !IsStreamError(err) {
		t.Fatalf("expected a stream-scoped error for a zero increment, got %v", err)
	}
}

func TestPingRoundTripPreservesPayloadAndAck(t *testing.T) {
	ping := AcquireFrame(FramePing).(*Ping)
	ping.SetData([]byte("12345678"))
	ping.SetAck(true)

	got := writeAndReadBack(t, 0, ping, defaultMaxFrameSize).(*Ping)
	if !got.IsAck() {
		t.Fatal("expected the ACK flag to survive the round trip")
	}
	if string(got.Data()) != "12345678" {
		t.Fatalf("unexpected ping payload: %q", got.Data())
	}
}

func TestPingRejectsNonZeroStream(t *testing.T) {
	ping := &Ping{}
	frh := AcquireFrameHeader()
	frh.SetStream(1)
	frh.payload = make([]byte, 8)

	if err := ping.Deserialize(frh); !IsConnectionError(err) {
		t.Fatalf("expected a connection-scoped error for PING on a non-zero stream, got %v", err)
	}
}

func TestToLowerLowercasesInPlace(t *testing.T) {
	b := []byte("Content-Type")
	got := ToLower(b)

	if string(got) != "content-type" {
		t.Fatalf("expected content-type, got %q", got)
	}
	if string(b) != "content-type" {
		t.Fatal("expected ToLower to mutate its argument in place")
	}
}

func TestPingRoundTripTimestamp(t *testing.T) {
	ping := &Ping{}
	ping.SetCurrentTime()

	if ping.SentAt().IsZero() {
		t.Fatal("expected SetCurrentTime to stamp a non-zero time")
	}
}
