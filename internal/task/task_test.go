package task

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/herd/pkg/jsonschema"
)

func step(name string, weight int) *Step {
	return &Step{Name: name, Method: "GET", Path: "/" + name, Weight: weight}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("Get topics"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("   "))
	assert.Error(t, ValidateName("Get {{token}}"))
	assert.Error(t, ValidateName("broken}}"))
}

func TestStep_Validate(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{name: "valid", step: Step{Name: "a", Method: "GET", Path: "/a"}},
		{name: "missing method", step: Step{Name: "a", Path: "/a"}, wantErr: true},
		{name: "missing path", step: Step{Name: "a", Method: "GET"}, wantErr: true},
		{name: "dynamic name", step: Step{Name: "{{id}}", Method: "GET", Path: "/a"}, wantErr: true},
		{name: "bad status", step: Step{Name: "a", Method: "GET", Path: "/a", ExpectStatus: []int{42}}, wantErr: true},
		{name: "bad extraction", step: Step{Name: "a", Method: "GET", Path: "/a", Extract: []Extraction{{Name: "id"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScratch_Resolve(t *testing.T) {
	scratch := Scratch{"topicId": "17", "plan": "p-1"}

	assert.Equal(t, "/topics/17/plans/p-1", scratch.Resolve("/topics/{{topicId}}/plans/{{ plan }}"))
	assert.Equal(t, "/topics/{{other}}", scratch.Resolve("/topics/{{other}}"))
	assert.Equal(t, "/static", scratch.Resolve("/static"))
	assert.Equal(t, []string{"a", "b"}, Placeholders("/x/{{a}}/{{ b }}"))
	assert.Nil(t, Placeholders("x"))
}

func TestStep_Ready(t *testing.T) {
	s := &Step{Name: "plan", Method: "POST", Path: "/plan", Requires: []string{"topicId", "token"}}

	assert.False(t, s.Ready(Scratch{}))
	assert.Equal(t, []string{"topicId", "token"}, s.Missing(Scratch{}))
	assert.Equal(t, []string{"token"}, s.Missing(Scratch{"topicId": "1"}))
	assert.True(t, s.Ready(Scratch{"topicId": "1", "token": "t"}))
}

func TestStep_PlaceholdersArePreconditions(t *testing.T) {
	s := &Step{
		Name:     "Schedule plan",
		Method:   "POST",
		Path:     "/plans/{{topicId}}",
		Body:     `{"topicId": {{topicId}}, "owner": "{{user}}"}`,
		Headers:  map[string]string{"X-Trace": "{{trace}}"},
		Requires: []string{"token"},
	}

	assert.Equal(t, []string{"token", "topicId", "user", "trace"}, s.Needs())
	assert.False(t, s.Ready(Scratch{"token": "t"}), "an unresolved path must not be sent")
	assert.Equal(t, []string{"topicId", "user", "trace"}, s.Missing(Scratch{"token": "t"}))
	assert.True(t, s.Ready(Scratch{"token": "t", "topicId": "7", "user": "u", "trace": "x"}))

	plain := &Step{Name: "Get topics", Method: "GET", Path: "/topics"}
	assert.Empty(t, plain.Needs())
	assert.True(t, plain.Ready(Scratch{}))
}

const topicsBody = `{
	"topicsStat": [
		{"topicId": 11, "topicType": {"name": "Video"}},
		{"topicId": 12, "topicType": {"name": "Test"}}
	],
	"status": "SCHEDULED"
}`

func TestStep_Apply(t *testing.T) {
	s := &Step{
		Name:         "topics",
		Method:       "GET",
		Path:         "/topics",
		ExpectFields: map[string]string{"status": "SCHEDULED"},
		Extract: []Extraction{
			{Name: "testTopic", Path: "topicId", From: "topicsStat", Where: map[string]string{"topicType.name": "Test"}},
			{Name: "firstTopic", Path: "$.topicsStat[0].topicId"},
		},
	}

	scratch := Scratch{}
	require.NoError(t, s.Apply(200, []byte(topicsBody), scratch))
	assert.Equal(t, "12", scratch["testTopic"])
	assert.Equal(t, "11", scratch["firstTopic"])
}

func TestStep_ApplyFailures(t *testing.T) {
	schema, err := jsonschema.Compile(`{"type":"object","required":["id"]}`)
	require.NoError(t, err)

	tests := []struct {
		name     string
		step     *Step
		status   int
		body     string
		wantKind string
	}{
		{
			name:     "unexpected status",
			step:     &Step{Name: "a", Method: "GET", Path: "/a"},
			status:   500,
			body:     "boom",
			wantKind: "status",
		},
		{
			name:     "custom status set",
			step:     &Step{Name: "a", Method: "POST", Path: "/a", ExpectStatus: []int{201}},
			status:   200,
			body:     "{}",
			wantKind: "status",
		},
		{
			name:     "missing extract",
			step:     &Step{Name: "a", Method: "GET", Path: "/a", Extract: []Extraction{{Name: "id", Path: "id"}}},
			status:   200,
			body:     `{"other": 1}`,
			wantKind: "payload",
		},
		{
			name:     "unparsable body",
			step:     &Step{Name: "a", Method: "GET", Path: "/a", Extract: []Extraction{{Name: "id", Path: "id"}}},
			status:   200,
			body:     `<html>`,
			wantKind: "payload",
		},
		{
			name:     "field mismatch",
			step:     &Step{Name: "a", Method: "GET", Path: "/a", ExpectFields: map[string]string{"status": "PENDING"}},
			status:   200,
			body:     `{"status": "SCHEDULED"}`,
			wantKind: "payload",
		},
		{
			name:     "schema violation",
			step:     &Step{Name: "a", Method: "GET", Path: "/a", Schema: schema},
			status:   200,
			body:     `{"name": "x"}`,
			wantKind: "payload",
		},
		{
			name:     "no matching element",
			step:     &Step{Name: "a", Method: "GET", Path: "/a", Extract: []Extraction{{Name: "id", Path: "topicId", From: "topicsStat", Where: map[string]string{"topicType.name": "Audio"}}}},
			status:   200,
			body:     topicsBody,
			wantKind: "payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scratch := Scratch{}
			err := tt.step.Apply(tt.status, []byte(tt.body), scratch)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, ErrorKind(err))
			assert.Empty(t, scratch)
		})
	}
}

func TestStep_PrepareClearsOutputs(t *testing.T) {
	s := &Step{Name: "a", Method: "GET", Path: "/a", Extract: []Extraction{{Name: "topicId", Path: "id"}}}
	scratch := Scratch{"topicId": "stale", "keep": "me"}

	s.Prepare(scratch)
	require.Error(t, s.Apply(200, []byte(`{}`), scratch))

	assert.False(t, scratch.Has("topicId"))
	assert.Equal(t, "me", scratch["keep"])
}

func TestUnexpectedStatus_TruncatesBody(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'x'
	}
	err := NewUnexpectedStatus(503, []int{200}, body)
	assert.Len(t, err.Body, maxBodyContext+len("..."))
	assert.Contains(t, err.Error(), "503")
}

func TestUnexpectedStatus_TruncatesOnRuneBoundary(t *testing.T) {
	body := []byte(strings.Repeat("x", maxBodyContext-1) + "ünicode")
	err := NewUnexpectedStatus(500, []int{200}, body)
	assert.True(t, utf8.ValidString(err.Body))
	assert.Equal(t, strings.Repeat("x", maxBodyContext-1)+"...", err.Body)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "none", ErrorKind(nil))
	assert.Equal(t, "transport", ErrorKind(&TransportError{Op: "GET /a", Err: errors.New("refused")}))
	assert.Equal(t, "status", ErrorKind(NewUnexpectedStatus(404, []int{200}, nil)))
	assert.Equal(t, "payload", ErrorKind(&PayloadError{Reason: "bad"}))
	assert.Equal(t, "precondition", ErrorKind(ErrPreconditionUnmet))
	assert.Equal(t, "other", ErrorKind(errors.New("x")))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindSequential, k)

	k, err = ParseKind("Weighted")
	require.NoError(t, err)
	assert.Equal(t, KindWeighted, k)

	_, err = ParseKind("round-robin")
	assert.Error(t, err)
}

func TestNewBehavior_Errors(t *testing.T) {
	_, err := NewBehavior("", KindSequential, 1, []*Step{step("a", 1)})
	assert.Error(t, err)

	_, err = NewBehavior("b", KindSequential, 0, []*Step{step("a", 1)})
	assert.Error(t, err)

	_, err = NewBehavior("b", KindSequential, 1, nil)
	assert.Error(t, err)

	_, err = NewBehavior("b", KindWeighted, 1, []*Step{step("a", 1), step("c", 0)})
	assert.Error(t, err)

	_, err = NewBehavior("b", KindSequential, 1, []*Step{{Name: "{{x}}", Method: "GET", Path: "/"}})
	assert.Error(t, err)
}

func TestSequential_WrapsAround(t *testing.T) {
	b, err := NewBehavior("seq", KindSequential, 1, []*Step{step("a", 0), step("b", 0), step("c", 0)})
	require.NoError(t, err)

	sched := b.Scheduler(rand.New(rand.NewSource(1)))
	var got []string
	for range 7 {
		got = append(got, sched.Next().Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)
}

func TestSequential_IndependentCursors(t *testing.T) {
	steps := []*Step{step("a", 0), step("b", 0)}
	first := NewSequential(steps)
	second := NewSequential(steps)

	assert.Equal(t, "a", first.Next().Name)
	assert.Equal(t, "b", first.Next().Name)
	assert.Equal(t, "a", second.Next().Name)
}

func TestWeighted_Scheduler(t *testing.T) {
	b, err := NewBehavior("mix", KindWeighted, 1, []*Step{step("stepA", 10), step("stepB", 20)})
	require.NoError(t, err)

	sched := b.Scheduler(rand.New(rand.NewSource(5)))
	counts := map[string]int{}
	for range 3000 {
		counts[sched.Next().Name]++
	}
	assert.InDelta(t, 1000, counts["stepA"], 120)
	assert.InDelta(t, 2000, counts["stepB"], 120)
}

func TestMix_Pick(t *testing.T) {
	light, err := NewBehavior("light", KindSequential, 1, []*Step{step("a", 0)})
	require.NoError(t, err)
	heavy, err := NewBehavior("heavy", KindSequential, 3, []*Step{step("b", 0)})
	require.NoError(t, err)

	mix, err := NewMix([]*Behavior{light, heavy})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	counts := map[string]int{}
	for range 4000 {
		counts[mix.Pick(rng).Name]++
	}
	assert.InDelta(t, 1000, counts["light"], 150)
	assert.InDelta(t, 3000, counts["heavy"], 150)

	_, err = NewMix(nil)
	assert.ErrorIs(t, err, ErrNoChoices)
}
