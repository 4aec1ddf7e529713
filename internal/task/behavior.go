package task

import (
	"fmt"
	"math/rand"
	"strings"
)

// Kind selects how a behavior orders its steps.
type Kind int

const (
	// KindSequential runs steps in declaration order, wrapping around.
	KindSequential Kind = iota
	// KindWeighted draws each step independently by weight.
	KindWeighted
)

func (k Kind) String() string {
	switch k {
	case KindSequential:
		return "sequential"
	case KindWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses "sequential" or "weighted". An empty string is sequential.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential":
		return KindSequential, nil
	case "weighted", "weighted-random", "random":
		return KindWeighted, nil
	default:
		return 0, fmt.Errorf("unknown behavior kind %q (expected sequential or weighted)", s)
	}
}

// Behavior is a composition of steps defining a session's workload.
type Behavior struct {
	Name   string
	Kind   Kind
	Steps  []*Step
	Weight int

	sampler *Sampler[*Step]
}

// NewBehavior validates the steps and prepares the behavior for scheduling.
func NewBehavior(name string, kind Kind, weight int, steps []*Step) (*Behavior, error) {
	if name == "" {
		return nil, fmt.Errorf("behavior name is required")
	}
	if weight <= 0 {
		return nil, fmt.Errorf("behavior %q: weight must be > 0, got %d", name, weight)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("behavior %q: at least one step is required", name)
	}
	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return nil, fmt.Errorf("behavior %q: %w", name, err)
		}
	}

	b := &Behavior{Name: name, Kind: kind, Steps: steps, Weight: weight}
	switch kind {
	case KindSequential:
	case KindWeighted:
		choices := make([]Choice[*Step], len(steps))
		for i, step := range steps {
			choices[i] = Choice[*Step]{Item: step, Weight: step.Weight}
		}
		sampler, err := NewSampler(choices)
		if err != nil {
			return nil, fmt.Errorf("behavior %q: %w", name, err)
		}
		b.sampler = sampler
	default:
		return nil, fmt.Errorf("behavior %q: unsupported kind %s", name, kind)
	}
	return b, nil
}

// Scheduler returns a fresh scheduler over the behavior's steps. Each session
// gets its own, so cursors and random sources are never shared.
func (b *Behavior) Scheduler(rng *rand.Rand) Scheduler {
	if b.Kind == KindWeighted {
		return &Weighted{sampler: b.sampler, rng: rng}
	}
	return &Sequential{steps: b.Steps}
}

// Mix picks which behavior a session runs.
type Mix struct {
	sampler *Sampler[*Behavior]
}

// NewMix builds a mix weighted by each behavior's Weight.
func NewMix(behaviors []*Behavior) (*Mix, error) {
	choices := make([]Choice[*Behavior], len(behaviors))
	for i, b := range behaviors {
		choices[i] = Choice[*Behavior]{Item: b, Weight: b.Weight}
	}
	sampler, err := NewSampler(choices)
	if err != nil {
		return nil, fmt.Errorf("behavior mix: %w", err)
	}
	return &Mix{sampler: sampler}, nil
}

// Pick draws one behavior.
func (m *Mix) Pick(rng *rand.Rand) *Behavior {
	return m.sampler.Pick(rng)
}
