package h2client

import "testing"

func TestHpackRoundTripIndexedStaticField(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()
	dec.StartBlock()

	hf := &HeaderField{}
	hf.Set(":method", "GET")

	dst := enc.AppendHeaderField(nil, hf, false)

	out := &HeaderField{}
	rest, err := dec.Next(out, dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("unconsumed bytes: %v", rest)
	}
	if out.Key() != ":method" || out.Value() != "GET" {
		t.Fatalf("mismatch: %s=%s", out.Key(), out.Value())
	}
}

func TestHpackRoundTripLiteralWithIndexing(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()
	dec.StartBlock()

	hf := &HeaderField{}
	hf.Set("x-custom-header", "some-value")

	dst := enc.AppendHeaderField(nil, hf, true)

	out := &HeaderField{}
	rest, err := dec.Next(out, dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("unconsumed bytes: %v", rest)
	}
	if out.Key() != "x-custom-header" || out.Value() != "some-value" {
		t.Fatalf("mismatch: %s=%s", out.Key(), out.Value())
	}

	// A second encode of the same field should now hit the dynamic table
	// and shrink to a single indexed byte.
	hf2 := &HeaderField{}
	hf2.Set("x-custom-header", "some-value")
	dst2 := enc.AppendHeaderField(nil, hf2, true)
	if len(dst2) != 1 {
		t.Fatalf("expected a 1-byte indexed representation, got %d bytes", len(dst2))
	}

	out2 := &HeaderField{}
	if _, err := dec.Next(out2, dst2); err != nil {
		t.Fatal(err)
	}
	if out2.Key() != "x-custom-header" || out2.Value() != "some-value" {
		t.Fatalf("mismatch after indexed replay: %s=%s", out2.Key(), out2.Value())
	}
}

func TestHpackSensitiveFieldNeverIndexed(t *testing.T) {
	enc := NewEncoder()

	hf := &HeaderField{}
	hf.Set("authorization", "Bearer secret")
	hf.SetSensible(true)

	enc.AppendHeaderField(nil, hf, true)

	if enc.dynamic.len() != 0 {
		t.Fatalf("sensitive field must never be inserted into the dynamic table, got %d entries", enc.dynamic.len())
	}
}

func TestHpackDecoderEnforcesHeaderCountLimit(t *testing.T) {
	dec := NewDecoder()
	dec.SetLimits(HpackSecurityLimits{
		MaxDecompressedSize:   1 << 20,
		MaxHeaderCount:        1,
		MaxStringLength:       1 << 20,
		MaxDynamicTableSize:   1 << 20,
		CompressionRatioLimit: 1000,
	})
	dec.StartBlock()

	enc := NewEncoder()
	var dst []byte
	for i := 0; i < 2; i++ {
		hf := &HeaderField{}
		hf.Set("x-header", "value")
		dst = enc.AppendHeaderField(dst, hf, false)
	}

	out := &HeaderField{}
	rest, err := dec.Next(out, dst)
	if err != nil {
		t.Fatal(err)
	}

	_, err = dec.Next(out, rest)
	if err != ErrHpackBomb {
		t.Fatalf("expected ErrHpackBomb once the header count limit is exceeded, got %v", err)
	}
}

func TestHpackDynamicTableSizeUpdateRejectsOverLimit(t *testing.T) {
	dec := NewDecoder()
	dec.SetMaxTableSize(4096)
	dec.StartBlock()

	// A dynamic-table-size-update opcode (001xxxxx) requesting more than
	// the negotiated limit.
	src := appendInt(nil, 5, 0x20, 8192)

	out := &HeaderField{}
	_, err := dec.Next(out, src)
	if err == nil {
		t.Fatal("expected an error for a table size update above the negotiated limit")
	}
}

func TestHuffmanRoundTrip(t *testing.T) {
	cases := []string{"", "a", "www.example.com", "no-cache", "custom-value; charset=utf-8"}

	for _, s := range cases {
		encoded := appendHuffman(nil, []byte(s))
		decoded, err := huffmanDecode(nil, encoded, 1<<16)
		if err != nil {
			t.Fatalf("huffmanDecode(%q): %v", s, err)
		}
		if string(decoded) != s {
			t.Fatalf("round trip mismatch: %q != %q", decoded, s)
		}
	}
}

func TestAppendAndReadIntRoundTrip(t *testing.T) {
	values := []uint64{0, 15, 16, 127, 128, 1337, 1 << 20}

	for _, v := range values {
		dst := appendInt(nil, 5, 0x00, v)
		n, rest, err := readInt(dst, 5)
		if err != nil {
			t.Fatalf("readInt(%d): %v", v, err)
		}
		if n != v {
			t.Fatalf("mismatch: got %d want %d", n, v)
		}
		if len(rest) != 0 {
			t.Fatalf("unconsumed bytes for %d: %v", v, rest)
		}
	}
}
