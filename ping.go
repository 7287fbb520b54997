package h2client

import (
	"encoding/binary"
	"time"
)

var _ Frame = (*Ping)(nil)

// Ping measures round-trip time and confirms the connection is alive.
//
// https://tools.ietf.org/html/rfc7540#section-6.7
type Ping struct {
	ack  bool
	data [8]byte
}

func (ping *Ping) Type() FrameType { return FramePing }

func (ping *Ping) Reset() {
	ping.ack = false
	ping.data = [8]byte{}
}

func (ping *Ping) CopyTo(p *Ping) {
	p.ack = ping.ack
	p.data = ping.data
}

func (ping *Ping) Write(b []byte) (int, error) {
	copy(ping.data[:], b)
	return len(b), nil
}

func (ping *Ping) SetData(b []byte) { copy(ping.data[:], b) }
func (ping *Ping) Data() []byte     { return ping.data[:] }

// IsAck reports whether this Ping is the ACK reply.
func (ping *Ping) IsAck() bool { return ping.ack }

// SetAck marks this Ping as an ACK.
func (ping *Ping) SetAck(ack bool) { ping.ack = ack }

// SetCurrentTime stamps the ping payload with the current wall-clock time in
// Unix nanoseconds, so the matching PONG lets the caller compute a round
// trip time.
func (ping *Ping) SetCurrentTime() {
	binary.BigEndian.PutUint64(ping.data[:], uint64(time.Now().UnixNano()))
}

// SentAt decodes the timestamp written by SetCurrentTime.
func (ping *Ping) SentAt() time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(ping.data[:])))
}

func (ping *Ping) Deserialize(frh *FrameHeader) error {
	if frh.Stream() != 0 {
		return ConnError(ErrCodeProtocol, "PING frame received on a non-zero stream")
	}
	if len(frh.payload) != 8 {
		return ConnError(ErrCodeFrameSize, "PING frame payload must be exactly 8 bytes")
	}

	ping.ack = frh.Flags().Has(FlagAck)
	ping.SetData(frh.payload)
	return nil
}

func (ping *Ping) Serialize(fr *FrameHeader) {
	if ping.ack {
		fr.SetFlags(fr.Flags().Add(FlagAck))
	}

	fr.setPayload(ping.data[:])
}
