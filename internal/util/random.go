package util

import (
	"math/rand/v2"
)

// NewRand returns a PCG-backed generator. With seeded set the sequence is
// reproducible for the given seed; otherwise it is seeded from the runtime source.
func NewRand(seed uint64, seeded bool) *rand.Rand {
	if !seeded {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Choice returns a uniformly chosen element of items. items must not be empty.
func Choice[T any](r *rand.Rand, items []T) T {
	return items[r.IntN(len(items))]
}

// Shuffle permutes items in place.
func Shuffle[T any](r *rand.Rand, items []T) {
	r.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}
