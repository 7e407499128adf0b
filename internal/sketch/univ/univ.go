// Package univ implements a universal sketch: a cascade of substream
// summaries in which each successive layer subsamples the key universe by
// the parity of a pairwise-independent hash. On top of the cascade it
// evaluates G-sums, sums of g(frequency) over all distinct keys, for any
// non-negative g with g(0) = 0. This single structure answers frequency,
// heavy-hitter, L1, L2, entropy and cardinality queries over a stream in
// sub-linear space.
package univ

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"NetUnivMon/internal/sketch/countsketch"
	"NetUnivMon/internal/sketch/hashmgr"
	"NetUnivMon/internal/sketch/summary"
)

// Func is a caller-supplied pure function applied to estimated frequencies
// during G-sum evaluation. It must satisfy g(0) = 0 and be non-negative
// over positive counts.
type Func func(count int64) float64

// Sketch is a universal sketch over 64-bit key hashes.
type Sketch struct {
	layers      []*summary.Summary
	layerHashes *hashmgr.Manager
	precise     bool
	valid       atomic.Bool
}

// New creates a universal sketch with nlayers substream summaries, each
// backed by a depth x width Count-Sketch tracking up to k heavy hitters
// above the alpha * l2 threshold. All layers and hash seeds are allocated
// eagerly.
func New(nlayers, depth, width, k int, alpha float64, precise bool) (*Sketch, error) {
	return NewSeeded(nlayers, depth, width, k, alpha, precise, nil)
}

// NewSeeded is New with an explicit seed source, for reproducible tests. A
// nil rng uses the process-wide source.
func NewSeeded(nlayers, depth, width, k int, alpha float64, precise bool, rng *rand.Rand) (*Sketch, error) {
	if nlayers <= 0 || depth <= 0 || width <= 0 || k <= 0 {
		return nil, fmt.Errorf("universal sketch: layers, depth, width and k must be positive, got (%d, %d, %d, %d)", nlayers, depth, width, k)
	}
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("universal sketch: alpha must be in (0, 1], got %v", alpha)
	}

	s := &Sketch{
		layers:      make([]*summary.Summary, nlayers),
		layerHashes: hashmgr.NewFrom(rng),
		precise:     precise,
	}
	s.layerHashes.GuaranteeInitialized(nlayers - 1)
	for i := range s.layers {
		s.layers[i] = summary.NewFrom(depth, width, k, alpha, precise, rng)
	}
	s.valid.Store(true)
	return s, nil
}

// CreateParameterized derives the sketch shape from accuracy parameters:
// one layer per bit of the key (8 per byte), width ceil(e/eps^2) and depth
// ceil(log2(1/gamma)).
func CreateParameterized(eps, gamma float64, k int, alpha float64, keyBytes int, precise bool) (*Sketch, error) {
	return CreateParameterizedSeeded(eps, gamma, k, alpha, keyBytes, precise, nil)
}

// CreateParameterizedSeeded is CreateParameterized with an explicit seed
// source.
func CreateParameterizedSeeded(eps, gamma float64, k int, alpha float64, keyBytes int, precise bool, rng *rand.Rand) (*Sketch, error) {
	if eps <= 0 || eps >= 1 {
		return nil, fmt.Errorf("universal sketch: eps must be in (0, 1), got %v", eps)
	}
	if gamma <= 0 || gamma >= 1 {
		return nil, fmt.Errorf("universal sketch: gamma must be in (0, 1), got %v", gamma)
	}
	if keyBytes <= 0 {
		return nil, fmt.Errorf("universal sketch: key byte width must be positive, got %d", keyBytes)
	}
	nlayers := 8 * keyBytes
	width := countsketch.ErrorMarginToWidth(eps)
	depth := countsketch.PerrorToDepth(gamma)
	return NewSeeded(nlayers, depth, width, k, alpha, precise, rng)
}

// NumLayers returns the number of substream summaries in the cascade.
func (s *Sketch) NumLayers() int {
	return len(s.layers)
}

// parity extracts the subsampling bit from a layer hash value.
func parity(hashed uint64) uint64 {
	return hashed % 2
}

// Update ingests one occurrence of keyHash. Layer 0 always sees the key;
// layer i sees it only if the parity bits of all preceding layer hashes are
// 1, halving the expected population at every step down the cascade.
// After Invalidate, Update is a no-op.
func (s *Sketch) Update(keyHash uint64) {
	if !s.valid.Load() {
		return
	}
	s.layers[0].Update(keyHash)
	for i := 1; i < len(s.layers) && parity(s.layerHashes.Hash(i-1, keyHash)) == 1; i++ {
		s.layers[i].Update(keyHash)
	}
}

// Estimate returns the frequency estimate for keyHash, read from layer 0.
func (s *Sketch) Estimate(keyHash uint64) int64 {
	return s.layers[0].Estimate(keyHash)
}

// IsHeavy reports whether keyHash is currently tracked as a layer-0 heavy
// hitter.
func (s *Sketch) IsHeavy(keyHash uint64) bool {
	return s.layers[0].Contains(keyHash)
}

// HeavyHitters returns the layer-0 heavy hitters.
func (s *Sketch) HeavyHitters() []summary.HeavyHitter {
	return s.layers[0].HeavyHitters()
}

// L2Squared returns layer 0's online sum of squared frequencies.
func (s *Sketch) L2Squared() int64 {
	return s.layers[0].L2Squared()
}

// Evaluate estimates the G-sum of g over the whole stream using every
// layer.
func (s *Sketch) Evaluate(g Func) float64 {
	return s.EvaluateLayers(g, len(s.layers))
}

// EvaluateLayers estimates the G-sum of g by reverse induction over the
// first nlayers layers. The innermost layer contributes its heavy hitters
// unsigned; walking outward, each layer doubles the inner estimate to
// compensate for the expected halving and corrects it with its own heavy
// hitters, signed +1 for keys that did not advance to the next layer and -1
// for keys that did.
func (s *Sketch) EvaluateLayers(g Func, nlayers int) float64 {
	if nlayers <= 0 || nlayers > len(s.layers) {
		nlayers = len(s.layers)
	}

	last := nlayers - 1
	sum := 0.0
	for _, hh := range s.layers[last].HeavyHitters() {
		sum += g(hh.Count)
	}

	for i := last - 1; i >= 0; i-- {
		layerSum := 0.0
		for _, hh := range s.layers[i].HeavyHitters() {
			sign := float64(1 - 2*int64(parity(s.layerHashes.Hash(i, hh.KeyHash))))
			layerSum += sign * g(hh.Count)
		}
		sum = 2*sum + layerSum
	}
	return sum
}

// IsValid reports whether the sketch is still live.
func (s *Sketch) IsValid() bool {
	return s.valid.Load()
}

// Invalidate retires the sketch. The transition is one-shot: the first call
// returns true, every later call returns false. Invalidation is advisory
// and does not interrupt in-flight updates.
func (s *Sketch) Invalidate() bool {
	return s.valid.CompareAndSwap(true, false)
}

// StorageSize returns the total footprint in bytes across all layers.
func (s *Sketch) StorageSize() int {
	total := 0
	for _, l := range s.layers {
		total += l.StorageSize()
	}
	return total
}
