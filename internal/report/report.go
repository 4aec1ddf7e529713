// Package report defines what sessions and the orchestrator emit while a
// test runs, and the sinks that consume it.
package report

import (
	"time"

	"go.uber.org/zap"
)

// Record is the outcome of one task execution. Name is the static label
// fixed when the behavior was defined.
type Record struct {
	Name      string
	SessionID string
	Success   bool
	Latency   time.Duration
	Err       error
	Timestamp time.Time
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventSessionStarted    EventKind = "session_started"
	EventSessionTerminated EventKind = "session_terminated"
	EventLoginFailed       EventKind = "login_failed"
	EventLogoutFailed      EventKind = "logout_failed"
	EventStepSkipped       EventKind = "step_skipped"
)

// Event is a session lifecycle event.
type Event struct {
	Kind      EventKind
	SessionID string
	// Detail is the step name for skips and the outcome for terminations.
	Detail    string
	Err       error
	Timestamp time.Time
}

// Reporter consumes records and events. Implementations must be safe for
// concurrent use; every session reports from its own goroutine.
type Reporter interface {
	Task(Record)
	Event(Event)
}

// Multi fans out to every reporter in order.
type Multi []Reporter

func (m Multi) Task(r Record) {
	for _, rep := range m {
		rep.Task(r)
	}
}

func (m Multi) Event(e Event) {
	for _, rep := range m {
		rep.Event(e)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Task(Record) {}
func (Nop) Event(Event) {}

// Log writes records and events to a zap logger. Successful tasks are
// logged at debug level, failures and lifecycle problems at warn.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a reporter logging through logger.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.With(zap.String("component", "report"))}
}

func (l *Log) Task(r Record) {
	fields := []zap.Field{
		zap.String("task", r.Name),
		zap.String("session", r.SessionID),
		zap.Duration("latency", r.Latency),
	}
	if r.Success {
		l.logger.Debug("task succeeded", fields...)
		return
	}
	l.logger.Warn("task failed", append(fields, zap.Error(r.Err))...)
}

func (l *Log) Event(e Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Kind)),
		zap.String("session", e.SessionID),
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	switch e.Kind {
	case EventLoginFailed, EventLogoutFailed:
		l.logger.Warn("session event", append(fields, zap.Error(e.Err))...)
	default:
		l.logger.Debug("session event", fields...)
	}
}

// Population is the orchestrator's view of the session count at one tick.
type Population struct {
	Elapsed time.Duration
	Active  int
	Target  int
	Stage   int
}

// PopulationObserver is implemented by reporters that track the session
// count over time.
type PopulationObserver interface {
	Population(Population)
}

// Population forwards to every member that observes the population.
func (m Multi) Population(p Population) {
	for _, rep := range m {
		if obs, ok := rep.(PopulationObserver); ok {
			obs.Population(p)
		}
	}
}
