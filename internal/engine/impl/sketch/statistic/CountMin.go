package statistic

import (
	"bytes"
	"math/rand/v2"
	"slices"
)

const (
	defaultWidth     = 1 << 20
	defaultDepth     = 3
	defaultThreshold = 512
)

// Bucket pairs a flow fingerprint with its conservative counter.
type Bucket struct {
	FP []byte
	C  int64
}

// CountMin is a count-min sketch with per-bucket fingerprints, so each
// bucket answers only for the flow currently owning it.
type CountMin struct {
	w, d      uint32
	threshold int64
	flowSize  uint32
	seed      []uint32
	table     [][]Bucket
}

// NewCountMin creates a countmin sketch for flow keys of flowSize bytes.
// Zero-valued parameters fall back to defaults.
func NewCountMin(width, depth, threshold uint32, flowSize uint32) *CountMin {
	if width == 0 {
		width = defaultWidth
	}
	if depth == 0 {
		depth = defaultDepth
	}
	if threshold == 0 {
		threshold = defaultThreshold
	}

	t := &CountMin{
		w:         width,
		d:         depth,
		threshold: int64(threshold),
		flowSize:  flowSize,
	}
	t.init()
	return t
}

func (t *CountMin) init() {
	t.seed = make([]uint32, t.d)
	for i := range t.seed {
		t.seed[i] = rand.Uint32()
	}

	t.table = make([][]Bucket, t.d)
	for i := range t.table {
		t.table[i] = make([]Bucket, t.w)
		for j := range t.table[i] {
			t.table[i][j] = Bucket{
				FP: make([]byte, t.flowSize),
				C:  0,
			}
		}
	}
}

// Insert records one occurrence of flow, evicting a bucket's owner when its
// counter decays to zero.
func (t *CountMin) Insert(flow []byte) {
	for i := 0; i < int(t.d); i++ {
		index := MurmurHash3(flow, t.seed[i]) % t.w
		b := &t.table[i][index]
		switch {
		case b.C == 0:
			copy(b.FP, flow)
			b.C = 1
		case bytes.Equal(b.FP, flow):
			b.C++
		default:
			b.C--
			if b.C == 0 {
				copy(b.FP, flow)
				b.C = 1
			}
		}
	}
}

// Query returns the estimated count of flow.
func (t *CountMin) Query(flow []byte) int64 {
	sz := int64(0)
	for i := 0; i < int(t.d); i++ {
		index := MurmurHash3(flow, t.seed[i]) % t.w
		if bytes.Equal(t.table[i][index].FP, flow) {
			sz = max(sz, t.table[i][index].C)
		}
	}
	return sz
}

// HeavyHitters returns every bucket owner above the configured threshold,
// sorted by count descending.
func (t *CountMin) HeavyHitters() []HeavyRecord {
	hh := make(map[string]int64)
	for i := 0; i < int(t.d); i++ {
		for j := 0; j < int(t.w); j++ {
			bucket := t.table[i][j]
			if bucket.C > 0 {
				key := string(bucket.FP)
				if count, exists := hh[key]; exists {
					hh[key] = max(count, bucket.C)
				} else {
					hh[key] = bucket.C
				}
			}
		}
	}
	heavyHitters := make([]HeavyRecord, 0)
	for k, v := range hh {
		if v < t.threshold {
			continue
		}
		heavyHitters = append(heavyHitters, HeavyRecord{
			Flow:  []byte(k),
			Count: v,
		})
	}
	// Sort heavy hitters by count in descending order
	slices.SortFunc(heavyHitters, func(a, b HeavyRecord) int {
		return int(b.Count - a.Count)
	})
	return heavyHitters
}

// Reset clears all buckets and reseeds, starting a fresh measurement period.
func (t *CountMin) Reset() {
	t.init()
}
