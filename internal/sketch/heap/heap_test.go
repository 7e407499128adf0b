package heap

import (
	"math/rand/v2"
	"testing"
)

func TestPushPopOrder(t *testing.T) {
	h := New(8)
	counts := []int64{50, 10, 40, 20, 30}
	for i, c := range counts {
		h.Pushp(uint64(i+1), c)
	}
	if h.Size() != len(counts) {
		t.Fatalf("Size() = %d, want %d", h.Size(), len(counts))
	}

	prev := int64(-1)
	for h.Size() > 0 {
		e := h.Pop()
		if e.Count < prev {
			t.Fatalf("Pop returned %d after %d, not ascending", e.Count, prev)
		}
		prev = e.Count
	}
}

func TestContainsAndRemove(t *testing.T) {
	h := New(4)
	h.Pushp(100, 5)
	h.Pushp(200, 3)
	h.Pushp(300, 7)

	if !h.Contains(200) {
		t.Fatalf("Contains(200) = false after push")
	}
	if h.Contains(999) {
		t.Fatalf("Contains(999) = true for a key never pushed")
	}

	h.RemoveIfExists(200)
	if h.Contains(200) {
		t.Fatalf("Contains(200) = true after removal")
	}
	if h.Size() != 2 {
		t.Fatalf("Size() = %d after removal, want 2", h.Size())
	}

	// Removing an absent key must be a no-op.
	h.RemoveIfExists(200)
	if h.Size() != 2 {
		t.Fatalf("Size() = %d after redundant removal, want 2", h.Size())
	}

	if h.Top().Count != 5 {
		t.Fatalf("Top().Count = %d, want 5 after removing the old minimum", h.Top().Count)
	}
}

func TestTopIsMinimum(t *testing.T) {
	h := New(16)
	min := int64(1 << 40)
	for i := 0; i < 16; i++ {
		c := rand.Int64N(1 << 20)
		if c < min {
			min = c
		}
		h.Pushp(uint64(i+1), c)
	}
	if h.Top().Count != min {
		t.Fatalf("Top().Count = %d, want minimum %d", h.Top().Count, min)
	}
}

func TestIndexStaysConsistent(t *testing.T) {
	h := New(64)
	live := make(map[uint64]int64)

	r := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 2000; i++ {
		switch {
		case h.Size() < 64 && r.IntN(3) != 0:
			key := uint64(r.IntN(128) + 1)
			h.RemoveIfExists(key)
			delete(live, key)
			c := r.Int64N(1000)
			h.Pushp(key, c)
			live[key] = c
		case h.Size() > 0:
			e := h.Pop()
			want, ok := live[e.KeyHash]
			if !ok {
				t.Fatalf("popped key %d that index says is absent", e.KeyHash)
			}
			if want != e.Count {
				t.Fatalf("popped count %d for key %d, want %d", e.Count, e.KeyHash, want)
			}
			delete(live, e.KeyHash)
		}
	}

	if h.Size() != len(live) {
		t.Fatalf("Size() = %d disagrees with model size %d", h.Size(), len(live))
	}
	h.Each(func(keyHash uint64, count int64) {
		if live[keyHash] != count {
			t.Fatalf("Each reported (%d, %d), model has %d", keyHash, count, live[keyHash])
		}
	})
}
