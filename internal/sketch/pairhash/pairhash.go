// Package pairhash implements a family of pairwise-independent hash
// functions over 64-bit integers, used throughout the sketch core to pick
// Count-Sketch buckets/signs, heavy-hitter slot indices, and layer
// propagation bits.
package pairhash

import "math/rand/v2"

// mersennePrime61 is the largest Mersenne prime that fits comfortably below
// 1<<63, giving cheap modular reduction via a single mask-and-add step.
const mersennePrime61 = (uint64(1) << 61) - 1

// Hash is a single member of a 2-wise independent hash family:
//
//	H(x) = (a*x + b) mod p
//
// for a prime p and random a, b in [1, p) / [0, p). Two distinct keys hash
// to any pair of outputs with probability 1/p^2, which is close enough to
// the uniform ideal for Count-Sketch's variance bound to hold.
type Hash struct {
	a, b uint64
}

// New builds a deterministic hash from explicit seeds, for reproducible
// tests and for cross-process determinism when seeds are persisted by the
// caller.
func New(a, b uint64) Hash {
	return Hash{a: a%(mersennePrime61-1) + 1, b: b % mersennePrime61}
}

// GenerateRandom builds a hash with freshly drawn seeds.
func GenerateRandom() Hash {
	return New(rand.Uint64(), rand.Uint64())
}

// GenerateRandomFrom builds a hash with seeds drawn from r, so callers can
// reproduce a full hash family from a fixed seed.
func GenerateRandomFrom(r *rand.Rand) Hash {
	return New(r.Uint64(), r.Uint64())
}

// Apply evaluates the hash at x.
func (h Hash) Apply(x uint64) uint64 {
	hi, lo := mul128(h.a, x)
	return addMod(hi, lo, h.b)
}

// mul128 computes the full 128-bit product of two uint64s.
func mul128(a, b uint64) (hi, lo uint64) {
	const mask32 = (1 << 32) - 1
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	hi = aHi*bHi + w2 + k
	lo = (t << 32) | w0
	return hi, lo
}

// addMod reduces a 128-bit value plus b modulo the Mersenne prime 2^61-1.
// Because p = 2^61-1, (hi<<64 + lo) mod p can be folded by repeatedly adding
// the high bits shifted back in, which is the standard trick for Mersenne
// moduli: 2^61 ≡ 1 (mod p).
func addMod(hi, lo, b uint64) uint64 {
	// Split lo into the portion below 2^61 and the overflow above it.
	const shift = 61
	const mask = mersennePrime61

	low61 := lo & mask
	rest := (lo >> shift) | (hi << (64 - shift))

	// rest can reach 2^64-1 on its own, so fold it once more before adding.
	sum := low61 + (rest & mask) + (rest >> shift) + b
	for sum >= mersennePrime61 {
		sum -= mersennePrime61
	}
	return sum
}
