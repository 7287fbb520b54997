package h2client

import (
	"fmt"

	"github.com/domsolutions/h2client/h2utils"
)

var _ Frame = (*GoAway)(nil)

// GoAway tells the peer to stop opening new streams and reports the last
// stream id this connection processed plus the reason for shutting down.
//
// https://tools.ietf.org/html/rfc7540#section-6.8
type GoAway struct {
	stream uint32 // last_stream_id
	code   ErrorCode
	data   []byte
}

func (ga *GoAway) Error() string {
	return fmt.Sprintf("GOAWAY: last_stream_id=%d code=%s data=%s", ga.stream, ga.code, ga.data)
}

func (ga *GoAway) Type() FrameType { return FrameGoAway }

func (ga *GoAway) Reset() {
	ga.stream = 0
	ga.code = 0
	ga.data = ga.data[:0]
}

func (ga *GoAway) CopyTo(other *GoAway) {
	other.stream = ga.stream
	other.code = ga.code
	other.data = append(other.data[:0], ga.data...)
}

func (ga *GoAway) Copy() *GoAway {
	other := new(GoAway)
	ga.CopyTo(other)
	return other
}

func (ga *GoAway) Code() ErrorCode { return ga.code }

func (ga *GoAway) SetCode(code ErrorCode) { ga.code = code }

// Stream returns the last_stream_id the sender guarantees it processed.
func (ga *GoAway) Stream() uint32 { return ga.stream }

// SetStream sets last_stream_id, masked to its 31-bit wire field.
func (ga *GoAway) SetStream(stream uint32) { ga.stream = stream & (1<<31 - 1) }

func (ga *GoAway) Data() []byte { return ga.data }

func (ga *GoAway) SetData(b []byte) { ga.data = append(ga.data[:0], b...) }

func (ga *GoAway) Deserialize(fr *FrameHeader) error {
	if fr.Stream() != 0 {
		return ConnError(ErrCodeProtocol, "GOAWAY frame received on a non-zero stream")
	}
	if len(fr.payload) < 8 {
		return ConnError(ErrCodeFrameSize, "GOAWAY frame payload must be at least 8 bytes")
	}

	ga.stream = h2utils.BytesToUint32(fr.payload[:4]) & (1<<31 - 1)
	ga.code = ErrorCode(h2utils.BytesToUint32(fr.payload[4:8]))

	if len(fr.payload) > 8 {
		ga.data = append(ga.data[:0], fr.payload[8:]...)
	} else {
		ga.data = ga.data[:0]
	}

	return nil
}

func (ga *GoAway) Serialize(fr *FrameHeader) {
	fr.payload = h2utils.AppendUint32Bytes(fr.payload[:0], ga.stream)
	fr.payload = h2utils.AppendUint32Bytes(fr.payload, uint32(ga.code))
	fr.payload = append(fr.payload, ga.data...)
}
