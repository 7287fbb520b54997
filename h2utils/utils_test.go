package h2utils

import (
	"bytes"
	"testing"
)

func TestUint24RoundTrip(t *testing.T) {
	b := make([]byte, 3)
	Uint24ToBytes(b, 0xabcdef)
	if got := BytesToUint24(b); got != 0xabcdef {
		t.Fatalf("got %#x want %#x", got, 0xabcdef)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	b := make([]byte, 4)
	Uint32ToBytes(b, 0x12345678)
	if got := BytesToUint32(b); got != 0x12345678 {
		t.Fatalf("got %#x want %#x", got, 0x12345678)
	}

	appended := AppendUint32Bytes(nil, 0x12345678)
	if !bytes.Equal(appended, b) {
		t.Fatalf("AppendUint32Bytes mismatch: %v != %v", appended, b)
	}
}

func TestEqualsFold(t *testing.T) {
	if !EqualsFold([]byte("Content-Type"), []byte("content-type")) {
		t.Fatal("expected a case-insensitive match")
	}
	if EqualsFold([]byte("a"), []byte("ab")) {
		t.Fatal("expected length mismatch to fail")
	}
}

func TestResizeGrowsAndPreservesCapacity(t *testing.T) {
	b := make([]byte, 2, 4)
	b = Resize(b, 3)
	if len(b) != 3 {
		t.Fatalf("expected length 3, got %d", len(b))
	}
	if cap(b) != 4 {
		t.Fatalf("expected the original capacity 4 to be kept, got %d", cap(b))
	}

	b = Resize(b, 10)
	if len(b) != 10 {
		t.Fatalf("expected length 10 after growth, got %d", len(b))
	}
}

func TestCutPaddingRoundTrip(t *testing.T) {
	payload := []byte{3, 'h', 'i', '!', 0, 0, 0}
	got, err := CutPadding(payload, len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hi!" {
		t.Fatalf("got %q want %q", got, "hi!")
	}
}

func TestCutPaddingRejectsOversizedPadLength(t *testing.T) {
	payload := []byte{200, 'h', 'i'}
	_, err := CutPadding(payload, len(payload))
	if err != ErrInvalidPadding {
		t.Fatalf("expected ErrInvalidPadding, got %v", err)
	}
}

func TestAddPaddingThenCutPaddingRoundTrip(t *testing.T) {
	original := []byte("payload bytes")
	padded := AddPadding(append([]byte(nil), original...))

	padLen := int(padded[0])
	total := 1 + len(original) + padLen

	got, err := CutPadding(padded, total)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(original) {
		t.Fatalf("got %q want %q", got, original)
	}
}

func TestFastStringBytesConversionsRoundTrip(t *testing.T) {
	s := "round trip me"
	b := FastStringToBytes(s)
	if string(b) != s {
		t.Fatalf("got %q want %q", b, s)
	}

	back := FastBytesToString([]byte(s))
	if back != s {
		t.Fatalf("got %q want %q", back, s)
	}
}
