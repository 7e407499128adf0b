package hashmgr

import (
	"sync"
	"testing"
)

func TestGuaranteeInitializedThenStable(t *testing.T) {
	m := New()
	m.GuaranteeInitialized(8)
	if m.Len() != 8 {
		t.Fatalf("Len() = %d, want 8", m.Len())
	}
	first := m.Hash(3, 42)
	second := m.Hash(3, 42)
	if first != second {
		t.Fatalf("hash(3, 42) changed across calls after initialization: %d != %d", first, second)
	}
}

func TestLazyGrowth(t *testing.T) {
	m := New()
	if m.Len() != 0 {
		t.Fatalf("new manager should start empty, got Len()=%d", m.Len())
	}
	m.Hash(5, 1)
	if m.Len() != 6 {
		t.Fatalf("Hash(5, ...) should grow cache to length 6, got %d", m.Len())
	}
}

func TestConcurrentGuaranteeInitialized(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.GuaranteeInitialized(16)
		}()
	}
	wg.Wait()
	if m.Len() != 16 {
		t.Fatalf("Len() = %d, want 16", m.Len())
	}

	var wg2 sync.WaitGroup
	results := make([]uint64, 32)
	for i := 0; i < 32; i++ {
		wg2.Add(1)
		go func(idx int) {
			defer wg2.Done()
			results[idx] = m.Hash(7, 100)
		}(i)
	}
	wg2.Wait()
	for _, r := range results {
		if r != results[0] {
			t.Fatalf("concurrent reads of hash(7, 100) after GuaranteeInitialized disagreed")
		}
	}
}
