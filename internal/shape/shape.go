// Package shape computes the target population of a load test as a pure
// function of elapsed time.
package shape

import (
	"errors"
	"fmt"
	"time"
)

// Target is the population the orchestrator should converge to.
type Target struct {
	// Sessions is the desired number of concurrent sessions.
	Sessions int
	// SpawnRate bounds how many sessions per second are started or retired.
	SpawnRate float64
	// Stage is the index of the stage that produced the target.
	Stage int
}

// Shape maps elapsed time to a target. The boolean is false once the test
// should stop. Implementations hold no mutable state, so calling Tick twice
// with the same elapsed time returns the same result.
type Shape interface {
	Tick(elapsed time.Duration) (Target, bool)
	TotalDuration() time.Duration
}

// StepRamp grows the population by StepLoad every StepTime until TimeLimit.
type StepRamp struct {
	StepTime  time.Duration
	StepLoad  int
	SpawnRate float64
	TimeLimit time.Duration
}

// NewStepRamp validates the parameters.
func NewStepRamp(stepTime time.Duration, stepLoad int, spawnRate float64, timeLimit time.Duration) (*StepRamp, error) {
	r := &StepRamp{StepTime: stepTime, StepLoad: stepLoad, SpawnRate: spawnRate, TimeLimit: timeLimit}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that every parameter is positive.
func (r *StepRamp) Validate() error {
	switch {
	case r.StepTime <= 0:
		return errors.New("step ramp: stepTime must be positive")
	case r.StepLoad <= 0:
		return errors.New("step ramp: stepLoad must be positive")
	case r.SpawnRate <= 0:
		return errors.New("step ramp: spawnRate must be positive")
	case r.TimeLimit <= 0:
		return errors.New("step ramp: timeLimit must be positive")
	}
	return nil
}

// Tick returns (floor(elapsed/StepTime)+1)*StepLoad sessions, or stop once
// elapsed passes TimeLimit.
func (r *StepRamp) Tick(elapsed time.Duration) (Target, bool) {
	if elapsed > r.TimeLimit {
		return Target{}, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	step := int(elapsed / r.StepTime)
	return Target{
		Sessions:  (step + 1) * r.StepLoad,
		SpawnRate: r.SpawnRate,
		Stage:     step,
	}, true
}

func (r *StepRamp) TotalDuration() time.Duration {
	return r.TimeLimit
}

// DurationMode tells how stage durations are read.
type DurationMode string

const (
	// PerStage reads each duration as the length of its own stage.
	PerStage DurationMode = "per-stage"
	// Cumulative reads each duration as an offset from the start of the test.
	Cumulative DurationMode = "cumulative"
)

// ParseDurationMode parses a mode name; empty means PerStage.
func ParseDurationMode(s string) (DurationMode, error) {
	switch DurationMode(s) {
	case "", PerStage:
		return PerStage, nil
	case Cumulative:
		return Cumulative, nil
	default:
		return "", fmt.Errorf("unknown stage duration mode %q (expected %s or %s)", s, PerStage, Cumulative)
	}
}

// Stage is one entry of an explicit profile.
type Stage struct {
	Duration  time.Duration
	Sessions  int
	SpawnRate float64
}

// Stages is an explicit, ordered stage profile.
type Stages struct {
	stages []Stage
	// ends[i] is the offset at which stage i is over.
	ends []time.Duration
}

// NewStages builds a profile. Stage i covers [ends[i-1], ends[i]); the test
// stops at the last end.
func NewStages(stages []Stage, mode DurationMode) (*Stages, error) {
	if len(stages) == 0 {
		return nil, errors.New("stages: at least one stage is required")
	}

	s := &Stages{
		stages: append([]Stage(nil), stages...),
		ends:   make([]time.Duration, len(stages)),
	}

	var end time.Duration
	for i, st := range stages {
		if st.Duration <= 0 {
			return nil, fmt.Errorf("stages[%d]: duration must be positive", i)
		}
		if st.Sessions < 0 {
			return nil, fmt.Errorf("stages[%d]: sessions must not be negative", i)
		}
		if st.SpawnRate <= 0 {
			return nil, fmt.Errorf("stages[%d]: spawnRate must be positive", i)
		}

		switch mode {
		case PerStage, "":
			end += st.Duration
		case Cumulative:
			if st.Duration <= end {
				return nil, fmt.Errorf("stages[%d]: cumulative duration %s must be greater than %s", i, st.Duration, end)
			}
			end = st.Duration
		default:
			return nil, fmt.Errorf("stages: unknown duration mode %q", mode)
		}
		s.ends[i] = end
	}
	return s, nil
}

// Tick returns the first stage whose end lies after elapsed, or stop once
// every stage is over.
func (s *Stages) Tick(elapsed time.Duration) (Target, bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	for i, end := range s.ends {
		if elapsed < end {
			st := s.stages[i]
			return Target{Sessions: st.Sessions, SpawnRate: st.SpawnRate, Stage: i}, true
		}
	}
	return Target{}, false
}

func (s *Stages) TotalDuration() time.Duration {
	return s.ends[len(s.ends)-1]
}

// Len returns the number of stages.
func (s *Stages) Len() int {
	return len(s.stages)
}

// Point is one sampled tick.
type Point struct {
	Elapsed time.Duration
	Target  Target
	Stop    bool
}

// Sample evaluates shape every interval from zero until the first stop,
// which is included as the final point.
func Sample(s Shape, interval time.Duration) []Point {
	if interval <= 0 {
		interval = time.Second
	}
	var points []Point
	for elapsed := time.Duration(0); ; elapsed += interval {
		target, ok := s.Tick(elapsed)
		points = append(points, Point{Elapsed: elapsed, Target: target, Stop: !ok})
		if !ok {
			return points
		}
	}
}
