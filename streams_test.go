package h2client

import "testing"

func TestStreamsInsertKeepsAscendingOrder(t *testing.T) {
	strms := &Streams{}

	ids := []uint32{7, 1, 5, 3}
	for _, id := range ids {
		strms.Insert(NewStream(id, 0, 0, nil))
	}

	if strms.Len() != len(ids) {
		t.Fatalf("expected %d streams, got %d", len(ids), strms.Len())
	}

	var seen []uint32
	strms.Range(func(s *Stream) bool {
		seen = append(seen, s.ID())
		return true
	})

	want := []uint32{1, 3, 5, 7}
	for i, id := range want {
		if seen[i] != id {
			t.Fatalf("out of order at index %d: got %d want %d", i, seen[i], id)
		}
	}
}

func TestStreamsGetAndDel(t *testing.T) {
	strms := &Streams{}
	strms.Insert(NewStream(1, 0, 0, nil))
	strms.Insert(NewStream(2, 0, 0, nil))

	if s := strms.Get(2); s == nil || s.ID() != 2 {
		t.Fatalf("expected to find stream 2, got %v", s)
	}
	if s := strms.Get(99); s != nil {
		t.Fatalf("expected no stream for an unknown id, got %v", s)
	}

	removed := strms.Del(1)
	if removed == nil || removed.ID() != 1 {
		t.Fatalf("expected to remove stream 1, got %v", removed)
	}
	if strms.Len() != 1 {
		t.Fatalf("expected 1 remaining stream, got %d", strms.Len())
	}
	if strms.Get(1) != nil {
		t.Fatal("expected stream 1 to be gone after Del")
	}
}

func TestStreamsRangeStopsEarly(t *testing.T) {
	strms := &Streams{}
	for _, id := range []uint32{1, 2, 3, 4} {
		strms.Insert(NewStream(id, 0, 0, nil))
	}

	var visited int
	strms.Range(func(s *Stream) bool {
		visited++
		return s.ID() < 2
	})

	if visited != 2 {
		t.Fatalf("expected Range to stop after 2 streams, visited %d", visited)
	}
}
