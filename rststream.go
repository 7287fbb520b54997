package h2client

import "github.com/domsolutions/h2client/h2utils"

var _ Frame = (*RstStream)(nil)

// RstStream immediately terminates a stream, allowing a sender to abandon a
// request (cancellation) or a receiver to refuse a malformed one.
//
// https://tools.ietf.org/html/rfc7540#section-6.4
type RstStream struct {
	code ErrorCode
}

func (rst *RstStream) Type() FrameType { return FrameRstStream }

func (rst *RstStream) Code() ErrorCode { return rst.code }

func (rst *RstStream) SetCode(code ErrorCode) { rst.code = code }

func (rst *RstStream) Reset() { rst.code = 0 }

func (rst *RstStream) CopyTo(r *RstStream) { r.code = rst.code }

// AsError converts the frame into a stream-scoped Error for the given
// stream id, for use by callers that need an error value to fail a waiter.
func (rst *RstStream) AsError(streamID uint32) error {
	return StreamError(streamID, rst.code, "stream reset by peer")
}

func (rst *RstStream) Deserialize(fr *FrameHeader) error {
	if fr.Stream() == 0 {
		return ConnError(ErrCodeProtocol, "RST_STREAM frame received on stream 0")
	}
	if len(fr.payload) != 4 {
		return ConnError(ErrCodeFrameSize, "RST_STREAM frame payload must be exactly 4 bytes")
	}

	rst.code = ErrorCode(h2utils.BytesToUint32(fr.payload))

	return nil
}

func (rst *RstStream) Serialize(fr *FrameHeader) {
	fr.payload = h2utils.AppendUint32Bytes(fr.payload[:0], uint32(rst.code))
}
