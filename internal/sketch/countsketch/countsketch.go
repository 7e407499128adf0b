// Package countsketch implements a Count-Sketch: a d x w matrix of signed
// counters giving an unbiased frequency estimate for every key seen in a
// stream, within an additive error of eps * l2(f) per row.
package countsketch

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync/atomic"

	"NetUnivMon/internal/sketch/hashmgr"
)

// Sketch is a Count-Sketch over 64-bit key hashes. Cells are updated with
// atomic adds, so concurrent Update calls are safe; Estimate performs plain
// atomic loads and may observe a torn median across concurrent updates,
// which the estimator's error bound already tolerates.
type Sketch struct {
	depth int
	width int

	// Per-row hash families: buckets picks the column, signs picks +-1.
	buckets *hashmgr.Manager
	signs   *hashmgr.Manager

	// counters[r*width+c] is row r, column c.
	counters []atomic.Int64
}

// New creates a depth x width Count-Sketch with freshly seeded hash rows.
func New(depth, width int) *Sketch {
	return NewFrom(depth, width, nil)
}

// NewFrom creates a depth x width Count-Sketch drawing hash seeds from rng.
// A nil rng uses the process-wide source.
func NewFrom(depth, width int, rng *rand.Rand) *Sketch {
	s := &Sketch{
		depth:    depth,
		width:    width,
		buckets:  hashmgr.NewFrom(rng),
		signs:    hashmgr.NewFrom(rng),
		counters: make([]atomic.Int64, depth*width),
	}
	s.buckets.GuaranteeInitialized(depth)
	s.signs.GuaranteeInitialized(depth)
	return s
}

// Depth returns the number of rows d.
func (s *Sketch) Depth() int {
	return s.depth
}

// Width returns the number of columns w.
func (s *Sketch) Width() int {
	return s.width
}

// ErrorMarginToWidth returns the width needed for an additive error of
// eps * l2(f): ceil(e / eps^2).
func ErrorMarginToWidth(eps float64) int {
	return int(math.Ceil(math.E / (eps * eps)))
}

// PerrorToDepth returns the depth needed for failure probability gamma:
// ceil(log2(1/gamma)).
func PerrorToDepth(gamma float64) int {
	return int(math.Ceil(math.Log2(1 / gamma)))
}

func (s *Sketch) cell(row int, keyHash uint64) *atomic.Int64 {
	col := int(s.buckets.Hash(row, keyHash) % uint64(s.width))
	return &s.counters[row*s.width+col]
}

func (s *Sketch) sign(row int, keyHash uint64) int64 {
	if s.signs.Hash(row, keyHash)%2 == 1 {
		return 1
	}
	return -1
}

// Update adds delta to keyHash's cell in every row, sign-adjusted per row.
func (s *Sketch) Update(keyHash uint64, delta int64) {
	for r := 0; r < s.depth; r++ {
		s.cell(r, keyHash).Add(s.sign(r, keyHash) * delta)
	}
}

// Estimate returns the median over rows of the sign-adjusted counter at
// keyHash's buckets.
func (s *Sketch) Estimate(keyHash uint64) int64 {
	rows := make([]int64, s.depth)
	for r := 0; r < s.depth; r++ {
		rows[r] = s.sign(r, keyHash) * s.cell(r, keyHash).Load()
	}
	return median(rows)
}

// UpdateAndEstimate applies a unit update for keyHash and returns the
// estimate as of just before this update. The read and the add are fused
// per row so the caller does not pay for two passes over the hash rows.
func (s *Sketch) UpdateAndEstimate(keyHash uint64) int64 {
	rows := make([]int64, s.depth)
	for r := 0; r < s.depth; r++ {
		sign := s.sign(r, keyHash)
		old := s.cell(r, keyHash).Add(sign) - sign
		rows[r] = sign * old
	}
	return median(rows)
}

// StorageSize returns the size of the counter matrix plus hash seed
// metadata, in bytes.
func (s *Sketch) StorageSize() int {
	const counterSize = 8
	const seedSize = 16 // two 64-bit seeds per hash
	return s.depth*s.width*counterSize + 2*s.depth*seedSize
}

func median(rows []int64) int64 {
	sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })
	return rows[len(rows)/2]
}
