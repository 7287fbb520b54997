package h2client

import "math"

// staticTable is the fixed 61-entry table shared by every HPACK
// implementation; indices here are 0-based, the wire format's indices are
// these plus one.
//
// https://tools.ietf.org/html/rfc7541#appendix-A
var staticTable = [61][2]string{
	{":authority", ""},
	{":method", "GET"},
	{":method", "POST"},
	{":path", "/"},
	{":path", "/index.html"},
	{":scheme", "http"},
	{":scheme", "https"},
	{":status", "200"},
	{":status", "204"},
	{":status", "206"},
	{":status", "304"},
	{":status", "400"},
	{":status", "404"},
	{":status", "500"},
	{"accept-charset", ""},
	{"accept-encoding", "gzip, deflate"},
	{"accept-language", ""},
	{"accept-ranges", ""},
	{"accept", ""},
	{"access-control-allow-origin", ""},
	{"age", ""},
	{"allow", ""},
	{"authorization", ""},
	{"cache-control", ""},
	{"content-disposition", ""},
	{"content-encoding", ""},
	{"content-language", ""},
	{"content-length", ""},
	{"content-location", ""},
	{"content-range", ""},
	{"content-type", ""},
	{"cookie", ""},
	{"date", ""},
	{"etag", ""},
	{"expect", ""},
	{"expires", ""},
	{"from", ""},
	{"host", ""},
	{"if-match", ""},
	{"if-modified-since", ""},
	{"if-none-match", ""},
	{"if-range", ""},
	{"if-unmodified-since", ""},
	{"last-modified", ""},
	{"link", ""},
	{"location", ""},
	{"max-forwards", ""},
	{"proxy-authenticate", ""},
	{"proxy-authorization", ""},
	{"range", ""},
	{"referer", ""},
	{"refresh", ""},
	{"retry-after", ""},
	{"server", ""},
	{"set-cookie", ""},
	{"strict-transport-security", ""},
	{"transfer-encoding", ""},
	{"user-agent", ""},
	{"vary", ""},
	{"via", ""},
	{"www-authenticate", ""},
}

// HpackSecurityLimits bounds the cost of decoding a single header block, to
// defend against HPACK bomb attacks (a tiny encoded block that expands into
// gigabytes, or floods the header map with entries).
type HpackSecurityLimits struct {
	MaxDecompressedSize   int
	MaxHeaderCount        int
	MaxStringLength       int
	MaxDynamicTableSize   int
	CompressionRatioLimit float64
}

// DefaultHpackSecurityLimits are the limits applied when none are configured
// explicitly.
func DefaultHpackSecurityLimits() HpackSecurityLimits {
	return HpackSecurityLimits{
		MaxDecompressedSize:   65536,
		MaxHeaderCount:        100,
		MaxStringLength:       8192,
		MaxDynamicTableSize:   65536,
		CompressionRatioLimit: 10.0,
	}
}

// dynamicTable is the per-direction, size-bounded ring of recently-seen
// header fields. The encoder and the decoder each own an independent
// instance: RFC 7541 never shares state across direction.
//
// https://tools.ietf.org/html/rfc7541#section-2.3.2
type dynamicTable struct {
	entries []HeaderField // entries[0] is the most-recently-inserted
	size    int           // sum of Size() over entries
	maxSize int
}

func (dt *dynamicTable) insert(hf *HeaderField) {
	var cp HeaderField
	hf.CopyTo(&cp)

	dt.entries = append([]HeaderField{cp}, dt.entries...)
	dt.size += hf.Size()

	dt.evict()
}

func (dt *dynamicTable) evict() {
	for dt.size > dt.maxSize && len(dt.entries) > 0 {
		last := dt.entries[len(dt.entries)-1]
		dt.size -= last.Size()
		dt.entries = dt.entries[:len(dt.entries)-1]
	}
}

func (dt *dynamicTable) setMaxSize(n int) {
	dt.maxSize = n
	dt.evict()
}

// at returns the dynamic-table entry at 0-based index i (0 == most recent).
func (dt *dynamicTable) at(i int) (HeaderField, bool) {
	if i < 0 || i >= len(dt.entries) {
		return HeaderField{}, false
	}
	return dt.entries[i], true
}

func (dt *dynamicTable) len() int { return len(dt.entries) }

// lookupTable finds the smallest-index static-or-dynamic table entry exactly
// matching (name, value), or else the first one matching name; valueMatch
// distinguishes the two for the caller. found is false if name isn't present at all.
func lookupTable(dt *dynamicTable, name, value string) (idx int, valueMatch, found bool) {
	for i, e := range staticTable {
		if e[0] == name {
			if !found {
				idx, found = i+1, true
			}
			if e[1] == value {
				return i + 1, true, true
			}
		}
	}

	for i := 0; i < dt.len(); i++ {
		e, _ := dt.at(i)
		if e.Key() == name {
			if !found {
				idx, found = len(staticTable)+i+1, true
			}
			if e.Value() == value {
				return len(staticTable) + i + 1, true, true
			}
		}
	}

	return idx, false, found
}

func resolveIndex(dt *dynamicTable, index int) (name, value string, ok bool) {
	if index < 1 {
		return "", "", false
	}
	if index <= len(staticTable) {
		e := staticTable[index-1]
		return e[0], e[1], true
	}

	di := index - len(staticTable) - 1
	e, ok := dt.at(di)
	if !ok {
		return "", "", false
	}
	return e.Key(), e.Value(), true
}

// ---- integer primitive (RFC 7541 section 5.1) ----

func appendInt(dst []byte, prefixBits uint8, prefix byte, n uint64) []byte {
	max := uint64(1<<prefixBits) - 1

	if n < max {
		dst = append(dst, prefix|byte(n))
		return dst
	}

	dst = append(dst, prefix|byte(max))
	n -= max

	for n >= 128 {
		dst = append(dst, byte(n%128)+128)
		n /= 128
	}

	return append(dst, byte(n))
}

func readInt(src []byte, prefixBits uint8) (n uint64, rest []byte, err error) {
	if len(src) == 0 {
		return 0, nil, ErrMissingBytes
	}

	max := uint64(1<<prefixBits) - 1
	n = uint64(src[0]) & max
	src = src[1:]

	if n < max {
		return n, src, nil
	}

	var m uint64
	for i := 0; ; i++ {
		if len(src) == 0 {
			return 0, nil, ErrMissingBytes
		}

		b := src[0]
		src = src[1:]

		if m > 63 {
			return 0, nil, ErrBitOverflow
		}

		inc := uint64(b&0x7f) << m
		if n > math.MaxUint64-inc {
			return 0, nil, ErrBitOverflow
		}
		n += inc
		m += 7

		if b&0x80 == 0 {
			break
		}
	}

	return n, src, nil
}

// ---- string primitive (RFC 7541 section 5.2) ----

func appendString(dst []byte, s []byte, neverHuffman bool) []byte {
	if !neverHuffman {
		hlen := (huffmanEncodedLen(s) + 7) / 8
		if hlen < len(s) {
			dst = appendInt(dst, 7, 0x80, uint64(hlen))
			return appendHuffman(dst, s)
		}
	}

	dst = appendInt(dst, 7, 0x00, uint64(len(s)))
	return append(dst, s...)
}

func readString(src []byte, maxLen int) (s []byte, rest []byte, err error) {
	if len(src) == 0 {
		return nil, nil, ErrMissingBytes
	}

	huff := src[0]&0x80 != 0

	n, rest, err := readInt(src, 7)
	if err != nil {
		return nil, nil, err
	}
	if int(n) > maxLen || int(n) > len(rest) {
		return nil, nil, ErrHpackBomb
	}

	raw := rest[:n]
	rest = rest[n:]

	if !huff {
		return append([]byte(nil), raw...), rest, nil
	}

	decoded, err := huffmanDecode(nil, raw, maxLen)
	if err != nil {
		return nil, nil, err
	}

	return decoded, rest, nil
}

// Encoder HPACK-encodes outgoing header blocks. Each Conn owns exactly one,
// matching its own dynamic table evolution; never share an Encoder across
// connections.
type Encoder struct {
	dynamic dynamicTable
}

// NewEncoder returns an Encoder with the default dynamic table size.
func NewEncoder() *Encoder {
	enc := &Encoder{}
	enc.dynamic.maxSize = DefaultHeaderTableSize
	return enc
}

// SetMaxTableSize applies a new SETTINGS_HEADER_TABLE_SIZE limit as
// acknowledged by the peer, evicting entries as needed.
func (enc *Encoder) SetMaxTableSize(n int) { enc.dynamic.setMaxSize(n) }

// AppendHeaderField encodes hf and appends its wire representation to dst.
// store requests literal-with-incremental-indexing (insert into the
// dynamic table). An exact (name, value) table match is encoded as an index
// even for a sensitive field; otherwise sensitive fields are encoded
// literal-never-indexed regardless of store.
func (enc *Encoder) AppendHeaderField(dst []byte, hf *HeaderField, store bool) []byte {
	name, value := hf.Key(), hf.Value()

	idx, valueMatch, found := lookupTable(&enc.dynamic, name, value)
	if found && valueMatch {
		return appendInt(dst, 7, 0x80, uint64(idx))
	}

	if hf.IsSensible() {
		dst = appendLiteral(dst, 0x10, 4, idx, found, name)
		return appendString(dst, hf.ValueBytes(), false)
	}

	if store {
		dst = appendLiteral(dst, 0x40, 6, idx, found, name)
		dst = appendString(dst, hf.ValueBytes(), false)

		enc.dynamic.insert(hf)
		return dst
	}

	dst = appendLiteral(dst, 0x00, 4, idx, found, name)
	return appendString(dst, hf.ValueBytes(), false)
}

func appendLiteral(dst []byte, pattern byte, prefixBits uint8, idx int, found bool, name string) []byte {
	if found {
		return appendInt(dst, prefixBits, pattern, uint64(idx))
	}

	dst = append(dst, pattern)
	return appendString(dst, []byte(name), false)
}

// Decoder HPACK-decodes incoming header blocks, enforcing
// HpackSecurityLimits across an entire block. StartBlock must be called
// before decoding the first frame of a HEADERS/PUSH_PROMISE sequence.
type Decoder struct {
	dynamic dynamicTable
	limits  HpackSecurityLimits

	decodedBytes int
	encodedBytes int
	headerCount  int
}

// NewDecoder returns a Decoder with the default dynamic table size and
// security limits.
func NewDecoder() *Decoder {
	dec := &Decoder{limits: DefaultHpackSecurityLimits()}
	dec.dynamic.maxSize = DefaultHeaderTableSize
	return dec
}

// SetLimits overrides the default HpackSecurityLimits.
func (dec *Decoder) SetLimits(limits HpackSecurityLimits) { dec.limits = limits }

// SetMaxTableSize applies this endpoint's own SETTINGS_HEADER_TABLE_SIZE,
// which bounds the dynamic-table-size-update a peer may request.
func (dec *Decoder) SetMaxTableSize(n int) { dec.dynamic.setMaxSize(n) }

// StartBlock resets the per-block security counters. Call once per
// HEADERS/PUSH_PROMISE (+ CONTINUATION) sequence.
func (dec *Decoder) StartBlock() {
	dec.decodedBytes = 0
	dec.encodedBytes = 0
	dec.headerCount = 0
}

// Next decodes one header field representation from src into hf, returning
// the unconsumed remainder.
func (dec *Decoder) Next(hf *HeaderField, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return src, ErrMissingBytes
	}

	start := len(src)

	b := src[0]

	var err error
	switch {
	case b&0x80 != 0: // indexed header field
		var idx uint64
		idx, src, err = readInt(src, 7)
		if err != nil {
			return nil, err
		}
		name, value, ok := resolveIndex(&dec.dynamic, int(idx))
		if !ok {
			return nil, ConnError(ErrCodeCompression, "HPACK: invalid index in indexed header field")
		}
		hf.Set(name, value)
		hf.SetSensible(false)

	case b&0xc0 == 0x40: // literal with incremental indexing
		hf, src, err = dec.readLiteral(hf, src, 6, false)
		if err != nil {
			return nil, err
		}
		dec.dynamic.insert(hf)

	case b&0xe0 == 0x20: // dynamic table size update
		var n uint64
		n, src, err = readInt(src, 5)
		if err != nil {
			return nil, err
		}
		if int(n) > dec.limits.MaxDynamicTableSize || int(n) > dec.dynamic.maxSize {
			return nil, ConnError(ErrCodeCompression, "HPACK: dynamic table size update exceeds the negotiated limit")
		}
		dec.dynamic.setMaxSize(int(n))
		hf.Reset()
		return dec.afterEntry(hf, src, start, true)

	case b&0xf0 == 0x10: // literal never indexed
		hf, src, err = dec.readLiteral(hf, src, 4, true)
		if err != nil {
			return nil, err
		}

	default: // literal without indexing (0b0000xxxx)
		hf, src, err = dec.readLiteral(hf, src, 4, false)
		if err != nil {
			return nil, err
		}
	}

	return dec.afterEntry(hf, src, start, false)
}

func (dec *Decoder) readLiteral(hf *HeaderField, src []byte, prefixBits uint8, sensible bool) (*HeaderField, []byte, error) {
	idx, rest, err := readInt(src, prefixBits)
	if err != nil {
		return nil, nil, err
	}

	var name []byte
	if idx == 0 {
		name, rest, err = readString(rest, dec.limits.MaxStringLength)
		if err != nil {
			return nil, nil, err
		}
	} else {
		n, _, ok := resolveIndex(&dec.dynamic, int(idx))
		if !ok {
			return nil, nil, ConnError(ErrCodeCompression, "HPACK: invalid name index in literal header field")
		}
		name = []byte(n)
	}

	value, rest, err := readString(rest, dec.limits.MaxStringLength)
	if err != nil {
		return nil, nil, err
	}

	hf.SetKeyBytes(name)
	hf.SetValueBytes(value)
	hf.SetSensible(sensible)

	return hf, rest, nil
}

func (dec *Decoder) afterEntry(hf *HeaderField, rest []byte, consumedStart int, isTableSizeUpdate bool) ([]byte, error) {
	consumed := consumedStart - len(rest)
	if consumed < 0 {
		consumed = 0
	}
	dec.encodedBytes += consumed

	if !isTableSizeUpdate {
		dec.decodedBytes += hf.Size()
		dec.headerCount++

		if dec.decodedBytes > dec.limits.MaxDecompressedSize {
			return nil, ErrHpackBomb
		}
		if dec.headerCount > dec.limits.MaxHeaderCount {
			return nil, ErrHpackBomb
		}
		if dec.encodedBytes > 32 && float64(dec.decodedBytes)/float64(dec.encodedBytes) > dec.limits.CompressionRatioLimit {
			return nil, ErrHpackBomb
		}
	}

	if dec.dynamic.size > dec.limits.MaxDynamicTableSize {
		return nil, ErrHpackBomb
	}

	return rest, nil
}
