package packetdata

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	s := New(buf)
	s.PutUint32(5)
	s.PutUint32(130)
	s.PutUint32(100000)
	n := s.Size()

	r := New(buf[:n])
	if got := r.GetUint32(); got != 5 {
		t.Fatalf("got %d want 5", got)
	}
	if got := r.GetUint32(); got != 130 {
		t.Fatalf("got %d want 130", got)
	}
	if got := r.GetUint32(); got != 100000 {
		t.Fatalf("got %d want 100000", got)
	}
	if !r.IsValid() {
		t.Fatal("stream should still be valid")
	}
}

func TestSkipAndLeft(t *testing.T) {
	s := New([]byte{1, 2, 3, 4, 5})
	s.Skip(2)
	if s.Left() != 3 {
		t.Fatalf("left = %d, want 3", s.Left())
	}
	s.Skip(10)
	if s.IsValid() {
		t.Fatal("expected stream to become invalid after over-skip")
	}
}
