package report

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu      sync.Mutex
	records []Record
	events  []Event
}

func (r *recorder) Task(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorder) Event(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, Nop{}, b}

	m.Task(Record{Name: "Login", Success: true})
	m.Event(Event{Kind: EventSessionStarted, SessionID: "s1"})

	for _, r := range []*recorder{a, b} {
		require.Len(t, r.records, 1)
		assert.Equal(t, "Login", r.records[0].Name)
		require.Len(t, r.events, 1)
		assert.Equal(t, EventSessionStarted, r.events[0].Kind)
	}
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLog(zap.New(core))

	l.Task(Record{Name: "Get topics", SessionID: "s1", Success: true})
	l.Task(Record{Name: "Plan", SessionID: "s1", Err: errors.New("status 500")})
	l.Event(Event{Kind: EventLogoutFailed, SessionID: "s1", Err: errors.New("refused")})
	l.Event(Event{Kind: EventStepSkipped, SessionID: "s1", Detail: "Plan"})

	assert.Equal(t, 1, logs.FilterMessage("task succeeded").Len())

	failed := logs.FilterMessage("task failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.Equal(t, "Plan", failed[0].ContextMap()["task"])

	events := logs.FilterMessage("session event").All()
	require.Len(t, events, 2)
	assert.Equal(t, zapcore.WarnLevel, events[0].Level)
	assert.Equal(t, "logout_failed", events[0].ContextMap()["event"])
	assert.Equal(t, zapcore.DebugLevel, events[1].Level)
	assert.Equal(t, "Plan", events[1].ContextMap()["detail"])
}

type populationRecorder struct {
	recorder
	seen []Population
}

func (p *populationRecorder) Population(pop Population) {
	p.seen = append(p.seen, pop)
}

func TestMulti_Population(t *testing.T) {
	obs := &populationRecorder{}
	var m Reporter = Multi{&recorder{}, obs}

	po, ok := m.(PopulationObserver)
	require.True(t, ok)
	po.Population(Population{Active: 3, Target: 5})

	require.Len(t, obs.seen, 1)
	assert.Equal(t, 3, obs.seen[0].Active)
}
