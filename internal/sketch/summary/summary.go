// Package summary implements a substream summary: a Count-Sketch fused with
// a heavy-hitter tracker and an online estimate of the squared L2 norm of
// the substream's frequency vector. One summary sits at every layer of a
// universal sketch.
package summary

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"NetUnivMon/internal/sketch/countsketch"
	"NetUnivMon/internal/sketch/heap"
	"NetUnivMon/internal/sketch/pairhash"
)

// emptySlot marks an unoccupied approximate heavy-hitter slot. Reserved: a
// key whose 64-bit hash equals it is never offered to the tracker, so the
// sentinel cannot be confused with a real occupant.
const emptySlot = ^uint64(0)

// HeavyHitter is one (key hash, estimated count) pair reported by a summary.
type HeavyHitter struct {
	KeyHash uint64
	Count   int64
}

// Summary tracks one substream: frequency estimates via Count-Sketch, the
// current heavy hitters, and a running sum of squared frequencies.
//
// In precise mode heavy hitters live in a bounded min-heap under a mutex;
// the heap is touched only for keys that cross the alpha * l2 threshold, so
// contention stays negligible. In approximate mode they live in k atomic
// slots updated by CAS, and no lock is ever taken.
type Summary struct {
	sketch    *countsketch.Sketch
	threshold float64 // alpha
	numHH     int     // k

	l2Squared atomic.Int64

	precise bool

	// Precise mode.
	mu sync.Mutex
	pq *heap.Bounded

	// Approximate mode.
	slots  []atomic.Uint64
	hhHash pairhash.Hash
}

// New creates a summary with a depth x width Count-Sketch tracking up to k
// heavy hitters above the alpha * l2 threshold.
func New(depth, width, k int, alpha float64, precise bool) *Summary {
	return NewFrom(depth, width, k, alpha, precise, nil)
}

// NewFrom is New with an explicit seed source. A nil rng uses the
// process-wide source.
func NewFrom(depth, width, k int, alpha float64, precise bool, rng *rand.Rand) *Summary {
	s := &Summary{
		sketch:    countsketch.NewFrom(depth, width, rng),
		threshold: alpha,
		numHH:     k,
		precise:   precise,
	}
	if precise {
		s.pq = heap.New(k)
	} else {
		s.slots = make([]atomic.Uint64, k)
		for i := range s.slots {
			s.slots[i].Store(emptySlot)
		}
		if rng != nil {
			s.hhHash = pairhash.GenerateRandomFrom(rng)
		} else {
			s.hhHash = pairhash.GenerateRandom()
		}
	}
	return s
}

// Update ingests one occurrence of keyHash: the sketch counter advances, the
// L2^2 accumulator advances by the telescoping term (c+1)^2 - c^2 = 2c + 1,
// and the key is offered to the heavy-hitter tracker if its new count
// crosses alpha * l2.
func (s *Summary) Update(keyHash uint64) {
	oldCount := s.sketch.UpdateAndEstimate(keyHash)
	delta := 2*oldCount + 1
	oldL2Sq := s.l2Squared.Add(delta) - delta
	l2 := math.Sqrt(float64(oldL2Sq + delta))

	count := oldCount + 1
	if float64(count) < s.threshold*l2 || keyHash == emptySlot {
		return
	}
	if s.precise {
		s.updateHHPrecise(keyHash, count)
	} else {
		s.updateHHApprox(keyHash, count)
	}
}

func (s *Summary) updateHHPrecise(keyHash uint64, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pq.Size() < s.numHH {
		s.pq.RemoveIfExists(keyHash)
		s.pq.Pushp(keyHash, count)
		return
	}
	head := s.pq.Top().KeyHash
	if s.sketch.Estimate(head) < count {
		s.pq.Pop()
		s.pq.RemoveIfExists(keyHash)
		s.pq.Pushp(keyHash, count)
	}
}

func (s *Summary) updateHHApprox(keyHash uint64, count int64) {
	idx := s.hhHash.Apply(keyHash) % uint64(len(s.slots))
	for {
		prev := s.slots[idx].Load()
		if prev == keyHash {
			return
		}
		if prev != emptySlot && s.sketch.Estimate(prev) > count {
			return
		}
		if s.slots[idx].CompareAndSwap(prev, keyHash) {
			return
		}
	}
}

// Estimate returns the sketch's frequency estimate for keyHash.
func (s *Summary) Estimate(keyHash uint64) int64 {
	return s.sketch.Estimate(keyHash)
}

// L2Squared returns the current online sum of squared frequencies.
func (s *Summary) L2Squared() int64 {
	return s.l2Squared.Load()
}

// Contains reports whether keyHash is currently tracked as a heavy hitter.
func (s *Summary) Contains(keyHash uint64) bool {
	if s.precise {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pq.Contains(keyHash)
	}
	idx := s.hhHash.Apply(keyHash) % uint64(len(s.slots))
	return s.slots[idx].Load() == keyHash
}

// HeavyHitters returns a copy of the tracked heavy hitters. In precise mode
// the copy is taken under the heap lock, so it is point-in-time consistent,
// and counts are the stale values captured at insertion time. In
// approximate mode each slot is loaded on its own, without a lock, and its
// count is re-estimated from the sketch, since the slot discards history on
// replacement.
func (s *Summary) HeavyHitters() []HeavyHitter {
	if s.precise {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]HeavyHitter, 0, s.pq.Size())
		s.pq.Each(func(keyHash uint64, count int64) {
			out = append(out, HeavyHitter{KeyHash: keyHash, Count: count})
		})
		return out
	}
	out := make([]HeavyHitter, 0, len(s.slots))
	for i := range s.slots {
		kh := s.slots[i].Load()
		if kh == emptySlot {
			continue
		}
		out = append(out, HeavyHitter{KeyHash: kh, Count: s.sketch.Estimate(kh)})
	}
	return out
}

// StorageSize returns the summary's footprint in bytes.
func (s *Summary) StorageSize() int {
	const entrySize = 16 // key hash + count
	size := s.sketch.StorageSize()
	if s.precise {
		size += s.numHH * entrySize
	} else {
		size += len(s.slots) * 8
	}
	return size
}
