package h2client

import "github.com/domsolutions/h2client/h2utils"

var _ Frame = (*Data)(nil)

// Data carries an arbitrary sequence of octets associated with a stream.
//
// Data frames can have the following flags:
//   - END_STREAM
//   - PADDED
//
// https://tools.ietf.org/html/rfc7540#section-6.1
type Data struct {
	endStream  bool
	hasPadding bool
	b          []byte
}

func (data *Data) Type() FrameType { return FrameData }

func (data *Data) Reset() {
	data.endStream = false
	data.hasPadding = false
	data.b = data.b[:0]
}

// CopyTo copies data into d.
func (data *Data) CopyTo(d *Data) {
	d.hasPadding = data.hasPadding
	d.endStream = data.endStream
	d.b = append(d.b[:0], data.b...)
}

func (data *Data) SetEndStream(value bool) { data.endStream = value }
func (data *Data) EndStream() bool         { return data.endStream }

// Data returns the payload bytes read, or to be sent.
func (data *Data) Data() []byte { return data.b }

// SetData replaces the payload with b.
func (data *Data) SetData(b []byte) { data.b = append(data.b[:0], b...) }

// Padding reports whether the frame is/was sent with the PADDED flag.
func (data *Data) Padding() bool { return data.hasPadding }

// SetPadding requests random padding be added on Serialize.
func (data *Data) SetPadding(value bool) { data.hasPadding = value }

// Append appends b to the payload.
func (data *Data) Append(b []byte) { data.b = append(data.b, b...) }

func (data *Data) Len() int { return len(data.b) }

func (data *Data) Write(b []byte) (int, error) {
	data.Append(b)
	return len(b), nil
}

func (data *Data) Deserialize(fr *FrameHeader) error {
	payload := fr.payload

	if fr.Flags().Has(FlagPadded) {
		var err error
		payload, err = h2utils.CutPadding(payload, fr.Len())
		if err != nil {
			return StreamError(fr.Stream(), ErrCodeProtocol, "DATA: "+err.Error())
		}
	}

	if fr.Stream() == 0 {
		return ConnError(ErrCodeProtocol, "DATA frame received on stream 0")
	}

	data.endStream = fr.Flags().Has(FlagEndStream)
	data.b = append(data.b[:0], payload...)

	return nil
}

func (data *Data) Serialize(fr *FrameHeader) {
	if data.endStream {
		fr.SetFlags(fr.Flags().Add(FlagEndStream))
	}

	if data.hasPadding {
		fr.SetFlags(fr.Flags().Add(FlagPadded))
		data.b = h2utils.AddPadding(data.b)
	}

	fr.setPayload(data.b)
}
