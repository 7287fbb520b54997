package h2client

import "github.com/domsolutions/h2client/h2utils"

var (
	_ Frame            = (*Headers)(nil)
	_ FrameWithHeaders = (*Headers)(nil)
)

// Headers opens a stream and carries (a fragment of) its header block.
//
// https://tools.ietf.org/html/rfc7540#section-6.2
type Headers struct {
	hasPadding bool
	stream     uint32 // stream dependency, valid only if PRIORITY flag set
	weight     uint8
	endStream  bool
	endHeaders bool
	rawHeaders []byte
}

func (h *Headers) Reset() {
	h.hasPadding = false
	h.stream = 0
	h.weight = 0
	h.endStream = false
	h.endHeaders = false
	h.rawHeaders = h.rawHeaders[:0]
}

func (h *Headers) CopyTo(h2 *Headers) {
	h2.hasPadding = h.hasPadding
	h2.stream = h.stream
	h2.weight = h.weight
	h2.endStream = h.endStream
	h2.endHeaders = h.endHeaders
	h2.rawHeaders = append(h2.rawHeaders[:0], h.rawHeaders...)
}

func (h *Headers) Type() FrameType { return FrameHeaders }

func (h *Headers) Headers() []byte { return h.rawHeaders }

func (h *Headers) SetHeaders(b []byte) { h.rawHeaders = append(h.rawHeaders[:0], b...) }

func (h *Headers) AppendRawHeaders(b []byte) { h.rawHeaders = append(h.rawHeaders, b...) }

// AppendHeaderField HPACK-encodes hf with enc and appends the result to the
// frame's raw header block. store requests the field be inserted into the
// encoder's dynamic table (literal-with-incremental-indexing).
func (h *Headers) AppendHeaderField(enc *Encoder, hf *HeaderField, store bool) {
	h.rawHeaders = enc.AppendHeaderField(h.rawHeaders, hf, store)
}

func (h *Headers) EndStream() bool { return h.endStream }

func (h *Headers) SetEndStream(value bool) { h.endStream = value }

func (h *Headers) EndHeaders() bool { return h.endHeaders }

func (h *Headers) SetEndHeaders(value bool) { h.endHeaders = value }

// Stream returns the stream this HEADERS frame depends on (PRIORITY flag).
func (h *Headers) Stream() uint32 { return h.stream }

func (h *Headers) SetStream(stream uint32) { h.stream = stream & (1<<31 - 1) }

func (h *Headers) Weight() byte { return h.weight }

func (h *Headers) SetWeight(w byte) { h.weight = w }

func (h *Headers) Padding() bool { return h.hasPadding }

func (h *Headers) SetPadding(value bool) { h.hasPadding = value }

func (h *Headers) Deserialize(frh *FrameHeader) error {
	if frh.Stream() == 0 {
		return ConnError(ErrCodeProtocol, "HEADERS frame received on stream 0")
	}

	flags := frh.Flags()
	payload := frh.payload

	if flags.Has(FlagPadded) {
		var err error
		payload, err = h2utils.CutPadding(payload, len(payload))
		if err != nil {
			return ConnError(ErrCodeProtocol, "HEADERS: "+err.Error())
		}
	}

	if flags.Has(FlagPriority) {
		if len(payload) < 5 {
			return StreamError(frh.Stream(), ErrCodeFrameSize, "HEADERS frame priority fields are truncated")
		}
		h.stream = h2utils.BytesToUint32(payload) & (1<<31 - 1)
		h.weight = payload[4]
		payload = payload[5:]
	}

	h.endStream = flags.Has(FlagEndStream)
	h.endHeaders = flags.Has(FlagEndHeaders)
	h.rawHeaders = append(h.rawHeaders[:0], payload...)

	return nil
}

func (h *Headers) Serialize(frh *FrameHeader) {
	if h.endStream {
		frh.SetFlags(frh.Flags().Add(FlagEndStream))
	}

	if h.endHeaders {
		frh.SetFlags(frh.Flags().Add(FlagEndHeaders))
	}

	if h.stream > 0 || h.weight > 0 {
		frh.SetFlags(frh.Flags().Add(FlagPriority))

		prefix := make([]byte, 5)
		h2utils.Uint32ToBytes(prefix[:4], h.stream)
		prefix[4] = h.weight

		h.rawHeaders = append(prefix, h.rawHeaders...)
	}

	if h.hasPadding {
		frh.SetFlags(frh.Flags().Add(FlagPadded))
		h.rawHeaders = h2utils.AddPadding(h.rawHeaders)
	}

	frh.payload = append(frh.payload[:0], h.rawHeaders...)
}
