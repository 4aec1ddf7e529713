// Package config provides configuration parsing and validation for herd
// load tests.
package config

import (
	"time"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Planner load"
//	target:
//	  baseUrl: "https://api.example.com"
//	  insecureSkipVerify: true
//	credentials:
//	  file: users.csv
//	shape:
//	  type: step-ramp
//	  stepTime: 30s
//	  stepLoad: 10
//	  spawnRate: 10
//	  timeLimit: 10m
//	behaviors:
//	  - name: planner
//	    steps:
//	      - name: "Get topics"
//	        method: GET
//	        path: /topics
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Target      TargetConfig      `json:"target" yaml:"target"`
	Auth        AuthConfig        `json:"auth,omitempty" yaml:"auth,omitempty"`
	Credentials CredentialsConfig `json:"credentials" yaml:"credentials"`
	Shape       ShapeConfig       `json:"shape" yaml:"shape"`

	// Behaviors are the workloads sessions run; each session picks one by weight
	Behaviors []BehaviorConfig `json:"behaviors" yaml:"behaviors"`

	// ThinkTime is the idle range between two steps of a session. When
	// absent the defaults apply; an explicit zero range disables think time.
	ThinkTime *ThinkTimeConfig `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	Options ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// TargetConfig contains HTTP settings for the system under test.
type TargetConfig struct {
	// BaseURL is prefixed to every step path
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// AuthConfig describes the login and logout endpoints.
type AuthConfig struct {
	Login  LoginConfig  `json:"login,omitempty" yaml:"login,omitempty"`
	Logout LogoutConfig `json:"logout,omitempty" yaml:"logout,omitempty"`
}

// LoginConfig describes the login call.
type LoginConfig struct {
	// Name is the static task name login latencies are reported under
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`

	UsernameField string `json:"usernameField,omitempty" yaml:"usernameField,omitempty"`
	PasswordField string `json:"passwordField,omitempty" yaml:"passwordField,omitempty"`

	// TokenPath is the JSON path of the access token in the response
	TokenPath    string `json:"tokenPath,omitempty" yaml:"tokenPath,omitempty"`
	ExpectStatus []int  `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`
}

// LogoutConfig describes the logout call.
type LogoutConfig struct {
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	Method       string   `json:"method,omitempty" yaml:"method,omitempty"`
	Path         string   `json:"path,omitempty" yaml:"path,omitempty"`
	ExpectStatus []int    `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`
	Timeout      Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// CredentialsConfig locates the credential source.
type CredentialsConfig struct {
	// File holds one username/password pair per line
	File string `json:"file" yaml:"file"`

	// Delimiter separates username and password (default ",")
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
}

// ShapeConfig is the population profile.
type ShapeConfig struct {
	// Type is "step-ramp" or "stages"
	Type string `json:"type" yaml:"type"`

	// Step ramp parameters
	StepTime  Duration `json:"stepTime,omitempty" yaml:"stepTime,omitempty"`
	StepLoad  int      `json:"stepLoad,omitempty" yaml:"stepLoad,omitempty"`
	SpawnRate float64  `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`
	TimeLimit Duration `json:"timeLimit,omitempty" yaml:"timeLimit,omitempty"`

	// StageDurations is "per-stage" (default) or "cumulative"
	StageDurations string        `json:"stageDurations,omitempty" yaml:"stageDurations,omitempty"`
	Stages         []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// Shape types.
const (
	ShapeStepRamp = "step-ramp"
	ShapeStages   = "stages"
)

// StageConfig defines a single stage of an explicit profile.
type StageConfig struct {
	Duration  Duration `json:"duration" yaml:"duration"`
	Sessions  int      `json:"sessions" yaml:"sessions"`
	SpawnRate float64  `json:"spawnRate" yaml:"spawnRate"`
}

// BehaviorConfig defines one workload.
type BehaviorConfig struct {
	Name string `json:"name" yaml:"name"`

	// Kind is "sequential" (default) or "weighted"
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Weight is the relative chance a session runs this behavior (default 1)
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`

	// ThinkTime overrides the test-wide think time for sessions running this behavior
	ThinkTime *ThinkTimeConfig `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	Steps []StepConfig `json:"steps" yaml:"steps"`
}

// StepConfig defines a single task step.
type StepConfig struct {
	// Name is the static label results are aggregated under
	Name string `json:"name" yaml:"name"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// Path is appended to the base URL (supports {{name}} substitution)
	Path string `json:"path" yaml:"path"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports {{name}} substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Requires lists scratch values that must exist for the step to run
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// Extract defines values copied from the response into scratch
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`

	// ExpectStatus is the success status set (default [200])
	ExpectStatus []int `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`

	// ExpectFields maps JSON paths to the values they must hold
	ExpectFields map[string]string `json:"expectFields,omitempty" yaml:"expectFields,omitempty"`

	// Schema is a JSON Schema document the response body must satisfy
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// EndsSession makes a failure of this step end the session
	EndsSession bool `json:"endsSession,omitempty" yaml:"endsSession,omitempty"`

	// Weight is used by weighted behaviors (default 1)
	Weight int `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// ExtractConfig defines how to extract a value from a response.
type ExtractConfig struct {
	// Name of the scratch value to store
	Name string `json:"name" yaml:"name"`

	// Path is the JSON path of the value, relative to the matched element
	// when From is set
	Path string `json:"path" yaml:"path"`

	// From is the JSON path of an array to scan for the first match
	From string `json:"from,omitempty" yaml:"from,omitempty"`

	// Where selects the element: every path must equal its value
	Where map[string]string `json:"where,omitempty" yaml:"where,omitempty"`
}

// ThinkTimeConfig is the uniform idle range between steps.
type ThinkTimeConfig struct {
	Min Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// GracefulStop is how long sessions may take to log out at the end
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// TickInterval is how often the load shape is polled
	TickInterval Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// Seed makes behavior choice and think times reproducible (0 = random)
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
