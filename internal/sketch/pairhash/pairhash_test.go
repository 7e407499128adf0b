package pairhash

import "testing"

func TestDeterministic(t *testing.T) {
	h1 := New(12345, 67890)
	h2 := New(12345, 67890)
	for _, x := range []uint64{0, 1, 42, 1 << 40, ^uint64(0)} {
		if h1.Apply(x) != h2.Apply(x) {
			t.Fatalf("same seeds produced different outputs for x=%d", x)
		}
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	h1 := New(1, 2)
	h2 := New(3, 4)
	same := 0
	const n = 1000
	for i := uint64(0); i < n; i++ {
		if h1.Apply(i) == h2.Apply(i) {
			same++
		}
	}
	if same == n {
		t.Fatalf("two distinct hash instances agreed on every input")
	}
}

func TestApplyWithinModulus(t *testing.T) {
	h := GenerateRandom()
	for _, x := range []uint64{0, 1, 1 << 63, ^uint64(0), 0xdeadbeefcafef00d} {
		if h.Apply(x) >= mersennePrime61 {
			t.Fatalf("Apply(%d) = %d exceeds modulus", x, h.Apply(x))
		}
	}
}

func TestGenerateRandomVaries(t *testing.T) {
	h1 := GenerateRandom()
	h2 := GenerateRandom()
	if h1 == h2 {
		t.Fatalf("GenerateRandom produced identical seeds twice in a row")
	}
}
