package task

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// ErrNoChoices is returned when a sampler is built from an empty set.
var ErrNoChoices = errors.New("task: no choices to sample from")

// Choice is one weighted candidate.
type Choice[T any] struct {
	Item   T
	Weight int
}

// Sampler draws items with probability proportional to their weight.
//
// A Sampler is immutable and may be shared; the random source passed to
// Pick carries the per-caller state.
type Sampler[T any] struct {
	items  []T
	bounds []int // cumulative weights, strictly increasing
	total  int
}

// NewSampler builds a sampler. Every weight must be positive.
func NewSampler[T any](choices []Choice[T]) (*Sampler[T], error) {
	if len(choices) == 0 {
		return nil, ErrNoChoices
	}

	s := &Sampler[T]{
		items:  make([]T, 0, len(choices)),
		bounds: make([]int, 0, len(choices)),
	}
	for i, c := range choices {
		if c.Weight <= 0 {
			return nil, fmt.Errorf("task: choice %d has weight %d, must be > 0", i, c.Weight)
		}
		s.total += c.Weight
		s.items = append(s.items, c.Item)
		s.bounds = append(s.bounds, s.total)
	}
	return s, nil
}

// Pick draws one item. The draw is uniform over [0, total) and selects the
// first item whose cumulative bound exceeds it.
func (s *Sampler[T]) Pick(rng *rand.Rand) T {
	n := rng.Intn(s.total)
	i := sort.SearchInts(s.bounds, n+1)
	return s.items[i]
}

// Total returns the sum of all weights.
func (s *Sampler[T]) Total() int {
	return s.total
}

// Len returns the number of candidates.
func (s *Sampler[T]) Len() int {
	return len(s.items)
}
