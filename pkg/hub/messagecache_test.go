package hub

import "testing"

func TestDrainReturnsInOrder(t *testing.T) {
	c := NewMessageCache()
	c.Enqueue("e1", "a")
	c.Enqueue("e1", "b")
	c.Enqueue("e1", "c")

	drained := c.Drain("e1")
	if len(drained) != 3 {
		t.Fatalf("len(drained) = %d, want 3", len(drained))
	}
	for i, want := range []string{"a", "b", "c"} {
		if drained[i].Payload != want {
			t.Fatalf("drained[%d] = %v, want %v", i, drained[i].Payload, want)
		}
		if drained[i].Sequence != uint64(i+1) {
			t.Fatalf("drained[%d].Sequence = %d, want %d", i, drained[i].Sequence, i+1)
		}
	}

	// A second drain before any new enqueue should be empty.
	if len(c.Drain("e1")) != 0 {
		t.Fatal("expected empty drain after the buffer was cleared")
	}
}

func TestEnqueueEvictsOldestBeyondCapacity(t *testing.T) {
	c := NewMessageCache()
	for i := 0; i < CacheCapacity+10; i++ {
		c.Enqueue("e1", i)
	}
	drained := c.Drain("e1")
	if len(drained) != CacheCapacity {
		t.Fatalf("len(drained) = %d, want %d", len(drained), CacheCapacity)
	}
	if drained[0].Payload != 10 {
		t.Fatalf("oldest surviving payload = %v, want 10", drained[0].Payload)
	}
}

func TestQueuesAreIndependentPerEdge(t *testing.T) {
	c := NewMessageCache()
	c.Enqueue("e1", "x")
	if len(c.Drain("e2")) != 0 {
		t.Fatal("e2's queue should be empty; e1 and e2 must not share state")
	}
	if len(c.Drain("e1")) != 1 {
		t.Fatal("e1's message should still be queued")
	}
}
