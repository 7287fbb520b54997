package h2client

import "github.com/domsolutions/h2client/h2utils"

var _ Frame = (*Priority)(nil)

// Priority advises how a stream's resources should be allocated relative to
// its dependency. The engine parses it but never reorganizes a priority
// tree; see module Non-goals.
//
// https://tools.ietf.org/html/rfc7540#section-6.3
type Priority struct {
	stream uint32 // stream dependency
	weight byte
}

func (pry *Priority) Type() FrameType { return FramePriority }

func (pry *Priority) Reset() {
	pry.stream = 0
	pry.weight = 0
}

func (pry *Priority) CopyTo(p *Priority) {
	p.stream = pry.stream
	p.weight = pry.weight
}

func (pry *Priority) Stream() uint32 { return pry.stream }

func (pry *Priority) SetStream(stream uint32) { pry.stream = stream & (1<<31 - 1) }

func (pry *Priority) Weight() byte { return pry.weight }

func (pry *Priority) SetWeight(w byte) { pry.weight = w }

func (pry *Priority) Deserialize(fr *FrameHeader) error {
	if len(fr.payload) != 5 {
		return StreamError(fr.Stream(), ErrCodeFrameSize, "PRIORITY frame payload must be exactly 5 bytes")
	}

	pry.stream = h2utils.BytesToUint32(fr.payload) & (1<<31 - 1)
	pry.weight = fr.payload[4]

	return nil
}

func (pry *Priority) Serialize(fr *FrameHeader) {
	fr.payload = h2utils.AppendUint32Bytes(fr.payload[:0], pry.stream)
	fr.payload = append(fr.payload, pry.weight)
}
