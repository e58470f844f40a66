// Package shuffle provides a seeded pseudo-random source whose permutations are
// reproducible across process restarts. It is not safe for concurrent use and
// must not be used for anything security-sensitive.
package shuffle

import "math/rand/v2"

type Source struct {
	rng *rand.Rand
}

func NewSource(seed uint64) *Source {
	return &Source{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Intn returns a value in [0, n). n must be positive.
func (s *Source) Intn(n int) int {
	return s.rng.IntN(n)
}

// Shuffle permutes items in place (Fisher-Yates) using src.
func Shuffle[T any](src *Source, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := src.Intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}
