package memory

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Sampler chooses which stored bugs are shown to the oracle.
//
// Sample returns k distinct indices in [0, n). When k >= n it returns every
// index. The order of the result carries no meaning.
type Sampler interface {
	Sample(n, k int) []int
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(n, k int) []int

// Sample calls f(n, k).
func (f SamplerFunc) Sample(n, k int) []int {
	return f(n, k)
}

// RandSampler draws samples from a math/rand/v2 source.
type RandSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSampler returns a sampler that produces the same sequence of
// samples for the same seed. Use it in tests and reproducible runs.
func NewSeededSampler(seed uint64) *RandSampler {
	return &RandSampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomSampler returns a sampler seeded from the clock.
func NewRandomSampler() *RandSampler {
	return NewSeededSampler(uint64(time.Now().UnixNano()))
}

// Sample returns k distinct indices in [0, n) using a partial Fisher-Yates
// shuffle.
func (s *RandSampler) Sample(n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < k; i++ {
		j := i + s.rng.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// SampleSlice applies s to items and returns the chosen elements. Indices
// outside the slice are ignored and duplicates are dropped.
func SampleSlice[T any](items []T, k int, s Sampler) []T {
	if s == nil {
		s = NewRandomSampler()
	}
	picked := s.Sample(len(items), k)
	seen := make(map[int]struct{}, len(picked))
	out := make([]T, 0, len(picked))
	for _, i := range picked {
		if i < 0 || i >= len(items) {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, items[i])
		if len(out) == k {
			break
		}
	}
	return out
}
