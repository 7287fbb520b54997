package h2client

import (
	"encoding/binary"

	"github.com/domsolutions/h2client/h2utils"
)

var _ Frame = (*Settings)(nil)

// Setting ids, as assigned by RFC 9113 section 6.5.2.
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

const settingsEntrySize = 6 // 2-byte id + 4-byte value

// Local defaults sent in the client's first SETTINGS frame.
const (
	DefaultHeaderTableSize      = 4096
	DefaultEnablePush           = 0
	DefaultMaxConcurrentStreams = 100
	DefaultInitialWindowSize    = 65535
	DefaultMaxFrameSize         = 16384
	DefaultMaxHeaderListSize    = 8192
)

// Settings is the negotiable connection parameter set exchanged at startup
// and, for either peer, at any point afterward.
//
// https://tools.ietf.org/html/rfc7540#section-6.5
type Settings struct {
	ack bool

	headerTableSize      uint32
	enablePush           uint32
	maxConcurrentStreams uint32
	initialWindowSize    uint32
	maxFrameSize         uint32
	maxHeaderListSize    uint32

	hasHeaderTableSize      bool
	hasEnablePush           bool
	hasMaxConcurrentStreams bool
	hasInitialWindowSize    bool
	hasMaxFrameSize         bool
	hasMaxHeaderListSize    bool
}

// NewDefaultSettings returns the client's local initial SETTINGS per the
// values advertised at connect time.
func NewDefaultSettings() *Settings {
	st := &Settings{}
	st.SetHeaderTableSize(DefaultHeaderTableSize)
	st.SetPush(DefaultEnablePush == 1)
	st.SetMaxConcurrentStreams(DefaultMaxConcurrentStreams)
	st.SetMaxWindowSize(DefaultInitialWindowSize)
	st.SetMaxFrameSize(DefaultMaxFrameSize)
	st.SetMaxHeaderListSize(DefaultMaxHeaderListSize)
	return st
}

func (st *Settings) Type() FrameType { return FrameSettings }

func (st *Settings) Reset() {
	*st = Settings{}
}

func (st *Settings) CopyTo(other *Settings) { *other = *st }

func (st *Settings) IsAck() bool { return st.ack }

func (st *Settings) SetAck(ack bool) { st.ack = ack }

func (st *Settings) HeaderTableSize() uint32 { return st.headerTableSize }

func (st *Settings) SetHeaderTableSize(n uint32) {
	st.headerTableSize = n
	st.hasHeaderTableSize = true
}

func (st *Settings) Push() bool { return st.enablePush == 1 }

func (st *Settings) SetPush(enabled bool) {
	if enabled {
		st.enablePush = 1
	} else {
		st.enablePush = 0
	}
	st.hasEnablePush = true
}

func (st *Settings) MaxConcurrentStreams() uint32 { return st.maxConcurrentStreams }

func (st *Settings) SetMaxConcurrentStreams(n uint32) {
	st.maxConcurrentStreams = n
	st.hasMaxConcurrentStreams = true
}

// MaxWindowSize returns SETTINGS_INITIAL_WINDOW_SIZE.
func (st *Settings) MaxWindowSize() uint32 { return st.initialWindowSize }

// SetMaxWindowSize sets SETTINGS_INITIAL_WINDOW_SIZE.
func (st *Settings) SetMaxWindowSize(n uint32) {
	st.initialWindowSize = n
	st.hasInitialWindowSize = true
}

func (st *Settings) MaxFrameSize() uint32 { return st.maxFrameSize }

func (st *Settings) SetMaxFrameSize(n uint32) {
	st.maxFrameSize = n
	st.hasMaxFrameSize = true
}

func (st *Settings) MaxHeaderListSize() uint32 { return st.maxHeaderListSize }

func (st *Settings) SetMaxHeaderListSize(n uint32) {
	st.maxHeaderListSize = n
	st.hasMaxHeaderListSize = true
}

func (st *Settings) Deserialize(fr *FrameHeader) error {
	if fr.Stream() != 0 {
		return ConnError(ErrCodeProtocol, "SETTINGS frame received on a non-zero stream")
	}

	st.ack = fr.Flags().Has(FlagAck)

	if st.ack {
		if len(fr.payload) != 0 {
			return ConnError(ErrCodeFrameSize, "SETTINGS ACK must have an empty payload")
		}
		return nil
	}

	if len(fr.payload)%settingsEntrySize != 0 {
		return ConnError(ErrCodeFrameSize, "SETTINGS frame length is not a multiple of 6")
	}

	for b := fr.payload; len(b) > 0; b = b[settingsEntrySize:] {
		id := SettingID(binary.BigEndian.Uint16(b[:2]))
		value := h2utils.BytesToUint32(b[2:6])

		switch id {
		case SettingHeaderTableSize:
			st.SetHeaderTableSize(value)
		case SettingEnablePush:
			if value > 1 {
				return ConnError(ErrCodeProtocol, "SETTINGS_ENABLE_PUSH must be 0 or 1")
			}
			st.SetPush(value == 1)
		case SettingMaxConcurrentStreams:
			st.SetMaxConcurrentStreams(value)
		case SettingInitialWindowSize:
			if value > 1<<31-1 {
				return ConnError(ErrCodeFlowControl, "SETTINGS_INITIAL_WINDOW_SIZE exceeds 2^31-1")
			}
			st.SetMaxWindowSize(value)
		case SettingMaxFrameSize:
			if value < 1<<14 || value > 1<<24-1 {
				return ConnError(ErrCodeProtocol, "SETTINGS_MAX_FRAME_SIZE out of the legal range")
			}
			st.SetMaxFrameSize(value)
		case SettingMaxHeaderListSize:
			st.SetMaxHeaderListSize(value)
		default:
			// unknown setting ids are ignored, per RFC 9113 6.5.2.
		}
	}

	return nil
}

func (st *Settings) Serialize(fr *FrameHeader) {
	if st.ack {
		fr.SetFlags(fr.Flags().Add(FlagAck))
		fr.setPayload(nil)
		return
	}

	payload := fr.payload[:0]

	appendEntry := func(id SettingID, value uint32) {
		payload = append(payload, byte(id>>8), byte(id))
		payload = h2utils.AppendUint32Bytes(payload, value)
	}

	if st.hasHeaderTableSize {
		appendEntry(SettingHeaderTableSize, st.headerTableSize)
	}
	if st.hasEnablePush {
		appendEntry(SettingEnablePush, st.enablePush)
	}
	if st.hasMaxConcurrentStreams {
		appendEntry(SettingMaxConcurrentStreams, st.maxConcurrentStreams)
	}
	if st.hasInitialWindowSize {
		appendEntry(SettingInitialWindowSize, st.initialWindowSize)
	}
	if st.hasMaxFrameSize {
		appendEntry(SettingMaxFrameSize, st.maxFrameSize)
	}
	if st.hasMaxHeaderListSize {
		appendEntry(SettingMaxHeaderListSize, st.maxHeaderListSize)
	}

	fr.payload = payload
}
