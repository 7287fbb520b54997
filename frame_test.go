package h2client

import (
	"bufio"
	"bytes"
	"testing"
)

const framePayload = "make http/2 great again"

func TestFrameDataRoundTrip(t *testing.T) {
	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)

	data := AcquireFrame(FrameData).(*Data)
	data.SetData([]byte(framePayload))
	data.SetEndStream(true)
	frh.SetBody(data)
	frh.SetStream(3)

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if _, err := frh.WriteTo(bw); err != nil {
		t.Fatal(err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}

	br := bufio.NewReader(&buf)
	got, err := ReadFrameFromWithSize(br, defaultMaxFrameSize)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseFrameHeader(got)

	if got.Type() != FrameData {
		t.Fatalf("unexpected frame type: %s", got.Type())
	}
	if got.Stream() != 3 {
		t.Fatalf("unexpected stream id: %d", got.Stream())
	}

	gotData := got.Body().(*Data)
	if string(gotData.Data()) != framePayload {
		t.Fatalf("mismatch %q<>%q", gotData.Data(), framePayload)
	}
	if !gotData.EndStream() {
		t.Fatal("expected END_STREAM to survive the round trip")
	}
}

func TestFrameLengthExceedsNegotiatedMax(t *testing.T) {
	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)

	data := AcquireFrame(FrameData).(*Data)
	data.SetData(make([]byte, 100))
	frh.SetBody(data)

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if _, err := frh.WriteTo(bw); err != nil {
		t.Fatal(err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}

	br := bufio.NewReader(&buf)
	_, err := ReadFrameFromWithSize(br, 16)
	if err == nil {
		t.Fatal("expected an error for a frame exceeding the negotiated max size")
	}
	if !IsConnectionError(err) {
		t.Fatalf("expected a connection-scoped error, got %v", err)
	}
}

func TestUnknownFrameTypePassesThrough(t *testing.T) {
	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)

	u := AcquireFrame(FrameType(0x7f)).(*Unknown)
	u.payload = append(u.payload[:0], []byte{1, 2, 3}...)
	frh.SetBody(u)

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if _, err := frh.WriteTo(bw); err != nil {
		t.Fatal(err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}

	br := bufio.NewReader(&buf)
	got, err := ReadFrameFromWithSize(br, defaultMaxFrameSize)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseFrameHeader(got)

	if got.Type() != FrameType(0x7f) {
		t.Fatalf("unexpected frame type: %#x", uint8(got.Type()))
	}
	gu, ok := got.Body().(*Unknown)
	if !ok {
		t.Fatalf("expected *Unknown, got %T", got.Body())
	}
	if !bytes.Equal(gu.Payload(), []byte{1, 2, 3}) {
		t.Fatalf("payload mismatch: %v", gu.Payload())
	}
}

func TestPriorityFrameRejectsWrongSize(t *testing.T) {
	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)
	frh.payload = []byte{1, 2, 3}

	pry := &Priority{}
	err := pry.Deserialize(frh)
	if err == nil {
		t.Fatal("expected an error for a PRIORITY frame shorter than 5 bytes")
	}
	if !IsStreamError(err) {
		t.Fatalf("expected a stream-scoped error, got %v", err)
	}
}
