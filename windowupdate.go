package h2client

import "github.com/domsolutions/h2client/h2utils"

// WindowUpdate is used to implement flow control.
//
// https://httpwg.org/specs/rfc7540.html#FrameWindowUpdate
type WindowUpdate struct {
	increment int32
}

func (wu *WindowUpdate) Type() FrameType { return FrameWindowUpdate }

func (wu *WindowUpdate) Reset() { wu.increment = 0 }

func (wu *WindowUpdate) CopyTo(other *WindowUpdate) { other.increment = wu.increment }

// Increment returns the window size increment, a 31-bit value no receiver
// may combine with the existing window past 2^31-1.
func (wu *WindowUpdate) Increment() int32 { return wu.increment }

// SetIncrement sets the increment. Values <= 0 are a caller bug: RFC 9113
// requires increments to be strictly positive.
func (wu *WindowUpdate) SetIncrement(increment int32) { wu.increment = increment }

func (wu *WindowUpdate) Deserialize(frh *FrameHeader) error {
	if len(frh.payload) < 4 {
		return ErrMissingBytes
	}
	wu.increment = int32(h2utils.BytesToUint32(frh.payload) & (1<<31 - 1))
	if wu.increment == 0 {
		return StreamError(frh.Stream(), ErrCodeProtocol, "WINDOW_UPDATE increment must not be zero")
	}
	return nil
}

func (wu *WindowUpdate) Serialize(frh *FrameHeader) {
	frh.payload = h2utils.AppendUint32Bytes(frh.payload[:0], uint32(wu.increment)&(1<<31-1))
}
