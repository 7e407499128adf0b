// Package hashmgr provides a lazily-grown, thread-safe vector of
// pairwise-independent hashes, indexed by row or layer.
package hashmgr

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"NetUnivMon/internal/sketch/pairhash"
)

// Manager lazily materializes pairhash.Hash instances on first use. Growth
// takes a lock; reads go through an atomic snapshot, so after
// GuaranteeInitialized(n) every Hash(i, x) with i < n is lock-free and
// data-race-free.
type Manager struct {
	mu       sync.Mutex
	rng      *rand.Rand
	snapshot atomic.Pointer[[]pairhash.Hash]
}

// New returns an empty manager seeded from the process-wide entropy source.
func New() *Manager {
	return NewFrom(nil)
}

// NewFrom returns an empty manager drawing hash seeds from r. A nil r falls
// back to the process-wide source. Sharing one r across managers is safe as
// long as growth is not concurrent, which holds when callers pre-populate
// via GuaranteeInitialized at construction time.
func NewFrom(r *rand.Rand) *Manager {
	m := &Manager{rng: r}
	empty := make([]pairhash.Hash, 0)
	m.snapshot.Store(&empty)
	return m
}

// GuaranteeInitialized materializes the first n hashes if they do not exist
// yet. Safe to call concurrently and redundantly.
func (m *Manager) GuaranteeInitialized(n int) {
	if len(*m.snapshot.Load()) >= n {
		return
	}
	m.grow(n)
}

func (m *Manager) grow(n int) []pairhash.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := *m.snapshot.Load()
	if len(cur) >= n {
		return cur
	}
	next := make([]pairhash.Hash, len(cur), n)
	copy(next, cur)
	for len(next) < n {
		if m.rng != nil {
			next = append(next, pairhash.GenerateRandomFrom(m.rng))
		} else {
			next = append(next, pairhash.GenerateRandom())
		}
	}
	m.snapshot.Store(&next)
	return next
}

// Hash returns H_i(x), generating hashes up to index i on demand if they
// have not been created yet.
func (m *Manager) Hash(i int, x uint64) uint64 {
	cache := *m.snapshot.Load()
	if i >= len(cache) {
		cache = m.grow(i + 1)
	}
	return cache[i].Apply(x)
}

// Len reports how many hash instances have been materialized so far.
func (m *Manager) Len() int {
	return len(*m.snapshot.Load())
}
