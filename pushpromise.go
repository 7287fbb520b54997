package h2client

import "github.com/domsolutions/h2client/h2utils"

var _ Frame = (*PushPromise)(nil)

// PushPromise announces a stream the server intends to push.
//
// This client always advertises SETTINGS_ENABLE_PUSH=0, so receiving one is
// only ever validated and rejected (see module Non-goals); no PushPromise
// payload is ever retained across a request.
//
// https://tools.ietf.org/html/rfc7540#section-6.6
type PushPromise struct {
	endHeaders     bool
	promisedStream uint32
	header         []byte
}

func (pp *PushPromise) Type() FrameType { return FramePushPromise }

func (pp *PushPromise) Reset() {
	pp.endHeaders = false
	pp.promisedStream = 0
	pp.header = pp.header[:0]
}

func (pp *PushPromise) CopyTo(other *PushPromise) {
	other.endHeaders = pp.endHeaders
	other.promisedStream = pp.promisedStream
	other.header = append(other.header[:0], pp.header...)
}

// PromisedStreamID returns the stream id the server promises to push on.
func (pp *PushPromise) PromisedStreamID() uint32 { return pp.promisedStream }

func (pp *PushPromise) Headers() []byte { return pp.header }

func (pp *PushPromise) EndHeaders() bool { return pp.endHeaders }

func (pp *PushPromise) Deserialize(fr *FrameHeader) error {
	payload := fr.payload

	if fr.Flags().Has(FlagPadded) {
		var err error
		payload, err = h2utils.CutPadding(payload, fr.Len())
		if err != nil {
			return ConnError(ErrCodeProtocol, "PUSH_PROMISE: "+err.Error())
		}
	}

	if len(payload) < 4 {
		return ConnError(ErrCodeFrameSize, "PUSH_PROMISE frame payload too short")
	}

	pp.promisedStream = h2utils.BytesToUint32(payload) & (1<<31 - 1)
	pp.header = append(pp.header[:0], payload[4:]...)
	pp.endHeaders = fr.Flags().Has(FlagEndHeaders)

	return nil
}

func (pp *PushPromise) Serialize(fr *FrameHeader) {
	if pp.endHeaders {
		fr.SetFlags(fr.Flags().Add(FlagEndHeaders))
	}

	fr.payload = h2utils.AppendUint32Bytes(fr.payload[:0], pp.promisedStream)
	fr.payload = append(fr.payload, pp.header...)
}
