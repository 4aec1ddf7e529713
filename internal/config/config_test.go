package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plannerYAML = `
name: Planner load
target:
  baseUrl: https://planner.example.com
  insecureSkipVerify: true
  timeout: 10s
credentials:
  file: users.csv
shape:
  type: step-ramp
  stepTime: 30s
  stepLoad: 10
  spawnRate: 10
  timeLimit: 10m
thinkTime:
  min: 500ms
  max: 2s
behaviors:
  - name: planner
    steps:
      - name: Get topics
        path: /topics
        extract:
          - name: topicId
            from: topicsStat
            where:
              topicType.name: Test
            path: topicId
      - name: Schedule plan
        method: POST
        path: /plans
        body: '{"topicId": {{topicId}}}'
        requires: [topicId]
        expectStatus: [201]
        expectFields:
          status: SCHEDULED
        endsSession: true
  - name: browser
    kind: weighted
    weight: 3
    steps:
      - name: Get topics
        path: /topics
        weight: 4
      - name: Get profile
        path: /profile
`

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(plannerYAML), "plan.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Planner load", cfg.Name)
	assert.Equal(t, "https://planner.example.com", cfg.Target.BaseURL)
	assert.True(t, cfg.Target.InsecureSkipVerify)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Target.Timeout))
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Shape.StepTime))
	assert.Equal(t, 10*time.Minute, time.Duration(cfg.Shape.TimeLimit))
	assert.Equal(t, 500*time.Millisecond, time.Duration(cfg.ThinkTime.Min))

	require.Len(t, cfg.Behaviors, 2)
	steps := cfg.Behaviors[0].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, "topicsStat", steps[0].Extract[0].From)
	assert.Equal(t, map[string]string{"topicType.name": "Test"}, steps[0].Extract[0].Where)
	assert.Equal(t, []string{"topicId"}, steps[1].Requires)
	assert.Equal(t, []int{201}, steps[1].ExpectStatus)
	assert.True(t, steps[1].EndsSession)
	assert.Equal(t, "weighted", cfg.Behaviors[1].Kind)
}

func TestParseConfig_JSON(t *testing.T) {
	data := []byte(`{
		"name": "json",
		"target": {"baseUrl": "http://localhost:8080"},
		"credentials": {"file": "users.csv"},
		"shape": {"type": "stages", "stages": [
			{"duration": "1m", "sessions": 10, "spawnRate": 10},
			{"duration": "90", "sessions": 50, "spawnRate": 5}
		]},
		"behaviors": [{"name": "b", "steps": [{"name": "s", "path": "/"}]}]
	}`)

	cfg, err := ParseConfig(data, "plan.json")
	require.NoError(t, err)
	require.Len(t, cfg.Shape.Stages, 2)
	assert.Equal(t, time.Minute, time.Duration(cfg.Shape.Stages[0].Duration))
	assert.Equal(t, 90*time.Second, time.Duration(cfg.Shape.Stages[1].Duration))
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("name: [unclosed"), "plan.yaml")
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`{"name": 1`), "plan.json")
	assert.Error(t, err)

	_, err = ParseConfig([]byte("shape:\n  stepTime: soon\n"), "plan.yml")
	assert.ErrorContains(t, err, "invalid duration")
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"500ms", 500 * time.Millisecond, false},
		{"45", 45 * time.Second, false},
		{"45x", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDurationString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)

	js, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(js))

	y, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", y)

	assert.Equal(t, 5*time.Second, Duration(0).GetDuration(5*time.Second))
	assert.Equal(t, 90*time.Second, d.GetDuration(5*time.Second))
}

func TestLoadConfig_ResolvesCredentialsRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(plannerYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "users.csv"), cfg.Credentials.File)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaults_ThinkTime(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
name: no think time
thinkTime:
  min: 0s
  max: 0s
behaviors:
  - name: fast
    thinkTime:
      min: 10ms
      max: 20ms
    steps:
      - name: Get topics
        path: /topics
  - name: default
    steps:
      - name: Get profile
        path: /profile
`), "plan.yaml")
	require.NoError(t, err)
	ApplyDefaults(cfg)

	require.NotNil(t, cfg.ThinkTime)
	assert.Equal(t, ThinkTimeConfig{}, *cfg.ThinkTime, "an explicit zero range is kept")
	require.NotNil(t, cfg.Behaviors[0].ThinkTime)
	assert.Equal(t, 10*time.Millisecond, time.Duration(cfg.Behaviors[0].ThinkTime.Min))
	assert.Equal(t, 20*time.Millisecond, time.Duration(cfg.Behaviors[0].ThinkTime.Max))
	assert.Nil(t, cfg.Behaviors[1].ThinkTime, "behaviors without an override inherit")
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(plannerYAML), "plan.yaml")
	require.NoError(t, err)
	cfg.ThinkTime = nil
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultLoginName, cfg.Auth.Login.Name)
	assert.Equal(t, "POST", cfg.Auth.Login.Method)
	assert.Equal(t, "/login", cfg.Auth.Login.Path)
	assert.Equal(t, "accessToken", cfg.Auth.Login.TokenPath)
	assert.Equal(t, DefaultLogoutName, cfg.Auth.Logout.Name)
	assert.Equal(t, "DELETE", cfg.Auth.Logout.Method)
	assert.Equal(t, []int{200, 204}, cfg.Auth.Logout.ExpectStatus)
	assert.Equal(t, ",", cfg.Credentials.Delimiter)

	assert.Equal(t, DefaultThinkTimeMin, time.Duration(cfg.ThinkTime.Min))
	assert.Equal(t, DefaultThinkTimeMax, time.Duration(cfg.ThinkTime.Max))
	assert.Equal(t, DefaultGracefulStop, time.Duration(cfg.Options.GracefulStop))
	assert.Equal(t, DefaultTickInterval, time.Duration(cfg.Options.TickInterval))

	planner := cfg.Behaviors[0]
	assert.Equal(t, 1, planner.Weight)
	assert.Equal(t, "GET", planner.Steps[0].Method)
	assert.Equal(t, 1, planner.Steps[0].Weight)
	assert.Equal(t, 3, cfg.Behaviors[1].Weight, "explicit weights are kept")
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Target.Timeout), "explicit timeout is kept")

	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_InfersShapeType(t *testing.T) {
	cfg := &TestConfig{Shape: ShapeConfig{Stages: []StageConfig{{Duration: Duration(time.Minute), Sessions: 1, SpawnRate: 1}}}}
	ApplyDefaults(cfg)
	assert.Equal(t, ShapeStages, cfg.Shape.Type)

	cfg = &TestConfig{}
	ApplyDefaults(cfg)
	assert.Equal(t, ShapeStepRamp, cfg.Shape.Type)
}

func validConfig(t *testing.T) *TestConfig {
	t.Helper()
	cfg, err := ParseConfig([]byte(plannerYAML), "plan.yaml")
	require.NoError(t, err)
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TestConfig)
		fields []string
	}{
		{
			name:   "missing base URL",
			mutate: func(c *TestConfig) { c.Target.BaseURL = "" },
			fields: []string{"target.baseUrl"},
		},
		{
			name:   "non-http base URL",
			mutate: func(c *TestConfig) { c.Target.BaseURL = "ftp://example.com" },
			fields: []string{"target.baseUrl"},
		},
		{
			name:   "templated step name",
			mutate: func(c *TestConfig) { c.Behaviors[0].Steps[1].Name = "Schedule {{topicId}}" },
			fields: []string{"behaviors[0].steps[1].name"},
		},
		{
			name:   "templated login name",
			mutate: func(c *TestConfig) { c.Auth.Login.Name = "Login {{user}}" },
			fields: []string{"auth.login.name"},
		},
		{
			name: "zero weights",
			mutate: func(c *TestConfig) {
				c.Behaviors[1].Weight = -1
				c.Behaviors[1].Steps[0].Weight = -2
			},
			fields: []string{"behaviors[1].weight", "behaviors[1].steps[0].weight"},
		},
		{
			name:   "unknown behavior kind",
			mutate: func(c *TestConfig) { c.Behaviors[0].Kind = "shuffled" },
			fields: []string{"behaviors[0].kind"},
		},
		{
			name:   "duplicate behavior",
			mutate: func(c *TestConfig) { c.Behaviors[1].Name = "planner" },
			fields: []string{"behaviors[1].name"},
		},
		{
			name:   "no behaviors",
			mutate: func(c *TestConfig) { c.Behaviors = nil },
			fields: []string{"behaviors"},
		},
		{
			name:   "bad step ramp",
			mutate: func(c *TestConfig) { c.Shape.StepLoad = 0 },
			fields: []string{"shape"},
		},
		{
			name: "non-increasing cumulative stages",
			mutate: func(c *TestConfig) {
				c.Shape = ShapeConfig{
					Type:           ShapeStages,
					StageDurations: "cumulative",
					Stages: []StageConfig{
						{Duration: Duration(2 * time.Minute), Sessions: 10, SpawnRate: 1},
						{Duration: Duration(time.Minute), Sessions: 10, SpawnRate: 1},
					},
				}
			},
			fields: []string{"shape.stages"},
		},
		{
			name:   "unknown shape",
			mutate: func(c *TestConfig) { c.Shape.Type = "spike" },
			fields: []string{"shape.type"},
		},
		{
			name: "think time inverted",
			mutate: func(c *TestConfig) {
				c.ThinkTime = &ThinkTimeConfig{Min: Duration(3 * time.Second), Max: Duration(time.Second)}
			},
			fields: []string{"thinkTime.max"},
		},
		{
			name: "behavior think time inverted",
			mutate: func(c *TestConfig) {
				c.Behaviors[1].ThinkTime = &ThinkTimeConfig{Min: Duration(time.Second)}
			},
			fields: []string{"behaviors[1].thinkTime.max"},
		},
		{
			name: "negative behavior think time",
			mutate: func(c *TestConfig) {
				c.Behaviors[0].ThinkTime = &ThinkTimeConfig{Min: Duration(-time.Second)}
			},
			fields: []string{"behaviors[0].thinkTime"},
		},
		{
			name: "where without from",
			mutate: func(c *TestConfig) {
				c.Behaviors[0].Steps[0].Extract[0].From = ""
			},
			fields: []string{"behaviors[0].steps[0].extract[0].from"},
		},
		{
			name:   "bad schema",
			mutate: func(c *TestConfig) { c.Behaviors[0].Steps[0].Schema = `{"type": ` },
			fields: []string{"behaviors[0].steps[0].schema"},
		},
		{
			name: "several at once",
			mutate: func(c *TestConfig) {
				c.Credentials.File = ""
				c.Credentials.Delimiter = "::"
				c.Behaviors[0].Steps[0].Method = "FETCH"
				c.Behaviors[0].Steps[1].ExpectStatus = []int{42}
			},
			fields: []string{
				"credentials.file",
				"credentials.delimiter",
				"behaviors[0].steps[0].method",
				"behaviors[0].steps[1].expectStatus",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
			assert.Equal(t, tt.fields, verrs.Fields())
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("target.baseUrl", "baseUrl is required")
	assert.Equal(t, "validation error on field 'target.baseUrl': baseUrl is required", errs.Error())

	errs.Add("", "something else")
	assert.Contains(t, errs.Error(), "2 validation errors:")
	assert.Contains(t, errs.Error(), "  2. validation error: something else")
}
