package h2client

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"
)

// fakeServerHandshake plays the server side of the SETTINGS handshake over
// one end of a net.Pipe: read the client preface and its initial SETTINGS,
// then reply with our own SETTINGS and an ACK for the client's.
func fakeServerHandshake(t *testing.T, nc net.Conn) {
	t.Helper()

	br := bufio.NewReader(nc)
	bw := bufio.NewWriter(nc)

	buf := make([]byte, len(ClientPreface))
	if _, err := io.ReadFull(br, buf); err != nil {
		t.Errorf("fake server: reading preface: %v", err)
		return
	}
	if string(buf) != ClientPreface {
		t.Errorf("fake server: unexpected preface: %q", buf)
		return
	}

	clientSettings, err := ReadFrameFromWithSize(br, defaultMaxFrameSize)
	if err != nil {
		t.Errorf("fake server: reading client SETTINGS: %v", err)
		return
	}
	if clientSettings.Type() != FrameSettings {
		t.Errorf("fake server: expected SETTINGS, got %s", clientSettings.Type())
		return
	}
	ReleaseFrameHeader(clientSettings)

	srvFrh := AcquireFrameHeader()
	srvSettings := AcquireFrame(FrameSettings).(*Settings)
	srvSettings.SetMaxConcurrentStreams(250)
	srvFrh.SetBody(srvSettings)
	if _, err := srvFrh.WriteTo(bw); err != nil {
		t.Errorf("fake server: writing SETTINGS: %v", err)
		return
	}
	ReleaseFrameHeader(srvFrh)

	ackFrh := AcquireFrameHeader()
	ack := AcquireFrame(FrameSettings).(*Settings)
	ack.SetAck(true)
	ackFrh.SetBody(ack)
	if _, err := ackFrh.WriteTo(bw); err != nil {
		t.Errorf("fake server: writing SETTINGS ack: %v", err)
		return
	}
	ReleaseFrameHeader(ackFrh)

	if err := bw.Flush(); err != nil {
		t.Errorf("fake server: flush: %v", err)
		return
	}

	// Drain the client's ACK of our SETTINGS so its writeLoop never blocks.
	clientAck, err := ReadFrameFromWithSize(br, defaultMaxFrameSize)
	if err != nil {
		t.Errorf("fake server: reading client SETTINGS ack: %v", err)
		return
	}
	ReleaseFrameHeader(clientAck)
}

func TestEstablishCompletesSettingsHandshake(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeServerHandshake(t, serverSide)
	}()

	cfg := NewConfig(WithRequestTimeout(2 * time.Second))
	conn := NewConn(clientSide, cfg)

	if err := conn.Establish(); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	defer conn.Close(ErrCodeNo, "test done")

	if conn.peerMaxConcurrentStreams() != 250 {
		t.Fatalf("expected the server's MaxConcurrentStreams to be observed, got %d", conn.peerMaxConcurrentStreams())
	}

	<-done
}
