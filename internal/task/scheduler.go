package task

import "math/rand"

// Scheduler yields the next step a session should run. Schedulers are owned
// by one session and are not safe for concurrent use.
type Scheduler interface {
	Next() *Step
}

// Sequential returns steps in order and wraps around after the last one.
// Precondition checks happen when the step is executed, so a step whose
// inputs are missing is skipped and the following call moves on.
type Sequential struct {
	steps  []*Step
	cursor int
}

// NewSequential returns a sequential scheduler over steps.
func NewSequential(steps []*Step) *Sequential {
	return &Sequential{steps: steps}
}

// Next returns the step at the cursor and advances it.
func (s *Sequential) Next() *Step {
	step := s.steps[s.cursor]
	s.cursor = (s.cursor + 1) % len(s.steps)
	return step
}

// Weighted draws steps independently by weight.
type Weighted struct {
	sampler *Sampler[*Step]
	rng     *rand.Rand
}

// NewWeighted returns a weighted scheduler drawing from sampler with rng.
func NewWeighted(sampler *Sampler[*Step], rng *rand.Rand) *Weighted {
	return &Weighted{sampler: sampler, rng: rng}
}

// Next draws one step.
func (w *Weighted) Next() *Step {
	return w.sampler.Pick(w.rng)
}
