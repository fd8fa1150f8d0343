// Package rng provides the seedable random source used for cooldown jitter
// and scored selection.
package rng

import (
	"math/rand/v2"
)

// Source supplies uniform random numbers. Implementations are used from the
// tick goroutine only and need not be safe for concurrent use.
type Source interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// IntN returns a uniform value in [0, n). It panics if n <= 0.
	IntN(n int) int
}

// PCG is a deterministic Source seeded from a single value.
type PCG struct {
	r    *rand.Rand
	seed uint64
}

var _ Source = (*PCG)(nil)

// New returns a PCG source for seed. Equal seeds produce equal sequences.
func New(seed uint64) *PCG {
	return &PCG{
		r:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		seed: seed,
	}
}

// Seed returns the seed the source was created with.
func (p *PCG) Seed() uint64 { return p.seed }

// Float64 implements Source.
func (p *PCG) Float64() float64 { return p.r.Float64() }

// IntN implements Source.
func (p *PCG) IntN(n int) int { return p.r.IntN(n) }

// Range returns a uniform value in [lo, hi). If hi <= lo it returns lo.
func Range(s Source, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + s.Float64()*(hi-lo)
}

// Fixed is a Source that cycles through a fixed list of float values, for
// tests that need exact jitter. IntN scales the current float.
type Fixed struct {
	Values []float64
	next   int
}

var _ Source = (*Fixed)(nil)

// Float64 implements Source. An empty Fixed always returns 0.
func (f *Fixed) Float64() float64 {
	if len(f.Values) == 0 {
		return 0
	}
	v := f.Values[f.next%len(f.Values)]
	f.next++
	return v
}

// IntN implements Source.
func (f *Fixed) IntN(n int) int {
	if n <= 0 {
		panic("rng.Fixed.IntN: n must be positive")
	}
	i := int(f.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}
