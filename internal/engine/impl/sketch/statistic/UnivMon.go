package statistic

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"NetUnivMon/internal/sketch/univ"

	"github.com/cespare/xxhash/v2"
)

// UnivMon adapts a universal sketch to the statistic.Sketch interface. The
// sketch core works purely on 64-bit key hashes; this wrapper owns the
// hashing of flow keys and keeps a small label dictionary so heavy hitters
// can be reported with their original flow bytes instead of bare hashes.
type UnivMon struct {
	epsilon  float64
	gamma    float64
	topk     int
	alpha    float64
	flowSize int
	precise  bool

	mu     sync.RWMutex
	sketch *univ.Sketch
	labels map[uint64][]byte // key hash -> flow bytes, heavy keys only
}

// NewUnivMon creates a universal sketch task backend for flow keys of
// flowSize bytes. The flow key width fixes the layer count at 8*flowSize.
func NewUnivMon(epsilon, gamma float64, topk int, alpha float64, flowSize int, precise bool) (*UnivMon, error) {
	u := &UnivMon{
		epsilon:  epsilon,
		gamma:    gamma,
		topk:     topk,
		alpha:    alpha,
		flowSize: flowSize,
		precise:  precise,
	}
	sk, err := univ.CreateParameterized(epsilon, gamma, topk, alpha, flowSize, precise)
	if err != nil {
		return nil, err
	}
	u.sketch = sk
	u.labels = make(map[uint64][]byte)
	return u, nil
}

// Insert records one occurrence of flow. When the flow is currently a
// layer-0 heavy hitter its key bytes are remembered, so snapshots can name
// it; light flows never enter the dictionary, keeping it small.
func (u *UnivMon) Insert(flow []byte) {
	h := xxhash.Sum64(flow)

	u.mu.RLock()
	sk := u.sketch
	sk.Update(h)
	_, labeled := u.labels[h]
	heavy := !labeled && sk.IsHeavy(h)
	u.mu.RUnlock()

	if heavy {
		u.mu.Lock()
		if _, ok := u.labels[h]; !ok {
			u.labels[h] = append([]byte(nil), flow...)
		}
		u.mu.Unlock()
	}
}

// Query returns the estimated count of flow, read from layer 0.
func (u *UnivMon) Query(flow []byte) int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sketch.Estimate(xxhash.Sum64(flow))
}

// HeavyHitters returns the current top flows. Flows whose key bytes were
// never captured are reported by their big-endian key hash.
func (u *UnivMon) HeavyHitters() []HeavyRecord {
	u.mu.RLock()
	defer u.mu.RUnlock()

	hhs := u.sketch.HeavyHitters()
	out := make([]HeavyRecord, 0, len(hhs))
	for _, hh := range hhs {
		flow, ok := u.labels[hh.KeyHash]
		if !ok {
			flow = make([]byte, 8)
			binary.BigEndian.PutUint64(flow, hh.KeyHash)
		}
		out = append(out, HeavyRecord{Flow: flow, Count: hh.Count})
	}
	return out
}

// GSum evaluates a named function over the sketched frequency distribution.
// Supported names: "l1" (total count), "l2sq" (sum of squared counts),
// "entropy" (sum of c*log2(c)) and "card" (distinct count).
func (u *UnivMon) GSum(fn string) (float64, error) {
	var g univ.Func
	switch fn {
	case "l1":
		g = func(c int64) float64 { return float64(c) }
	case "l2sq":
		g = func(c int64) float64 { return float64(c) * float64(c) }
	case "entropy":
		g = func(c int64) float64 {
			if c <= 0 {
				return 0
			}
			return float64(c) * math.Log2(float64(c))
		}
	case "card":
		g = func(c int64) float64 {
			if c <= 0 {
				return 0
			}
			return 1
		}
	default:
		return 0, fmt.Errorf("unknown gsum function %q", fn)
	}

	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sketch.Evaluate(g), nil
}

// IsValid reports whether the underlying sketch is still live.
func (u *UnivMon) IsValid() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sketch.IsValid()
}

// StorageSize returns the sketch footprint in bytes.
func (u *UnivMon) StorageSize() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sketch.StorageSize()
}

// Reset retires the current sketch and installs a fresh one for the next
// measurement period.
func (u *UnivMon) Reset() {
	fresh, err := univ.CreateParameterized(u.epsilon, u.gamma, u.topk, u.alpha, u.flowSize, u.precise)
	if err != nil {
		// Parameters were validated at construction; a failure here is a bug.
		panic(err)
	}

	u.mu.Lock()
	old := u.sketch
	u.sketch = fresh
	u.labels = make(map[uint64][]byte)
	u.mu.Unlock()

	old.Invalidate()
}
