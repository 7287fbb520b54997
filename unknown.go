package h2client

// Unknown is the pass-through representation of a frame type not defined by
// RFC 9113. Receivers must ignore unknown frame types rather than treat them
// as a protocol error.
//
// https://httpwg.org/specs/rfc7540.html#rfc.section.4.1
type Unknown struct {
	kind    FrameType
	payload []byte
}

func (u *Unknown) Type() FrameType { return u.kind }

func (u *Unknown) Reset() {
	u.kind = FrameUnknown
	u.payload = u.payload[:0]
}

func (u *Unknown) CopyTo(other *Unknown) {
	other.kind = u.kind
	other.payload = append(other.payload[:0], u.payload...)
}

// Payload returns the raw frame payload, unparsed.
func (u *Unknown) Payload() []byte { return u.payload }

func (u *Unknown) Deserialize(frh *FrameHeader) error {
	u.kind = frh.Type()
	u.payload = append(u.payload[:0], frh.payload...)
	return nil
}

func (u *Unknown) Serialize(frh *FrameHeader) {
	frh.setPayload(u.payload)
}
