package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wesleyorama2/herd/internal/shape"
	"github.com/wesleyorama2/herd/internal/task"
	"github.com/wesleyorama2/herd/pkg/jsonschema"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field of every error, in order.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		fields[i] = err.Field
	}
	return fields
}

// Validate validates the entire test configuration. Call ApplyDefaults first.
//
// Returns nil if valid, or a *ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(&c.Target, errs)
	validateAuth(&c.Auth, errs)
	validateCredentials(&c.Credentials, errs)
	validateShape(&c.Shape, errs)

	if len(c.Behaviors) == 0 {
		errs.Add("behaviors", "at least one behavior is required")
	}
	names := make(map[string]bool, len(c.Behaviors))
	for i := range c.Behaviors {
		b := &c.Behaviors[i]
		if b.Name != "" && names[b.Name] {
			errs.Add(fmt.Sprintf("behaviors[%d].name", i), fmt.Sprintf("duplicate behavior name %q", b.Name))
		}
		names[b.Name] = true
		validateBehavior(fmt.Sprintf("behaviors[%d]", i), b, errs)
	}

	validateThinkTime("thinkTime", c.ThinkTime, errs)

	if c.Options.GracefulStop < 0 {
		errs.Add("options.gracefulStop", "gracefulStop cannot be negative")
	}
	if c.Options.TickInterval < 0 {
		errs.Add("options.tickInterval", "tickInterval cannot be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	if t.BaseURL == "" {
		errs.Add("target.baseUrl", "baseUrl is required")
	} else if u, err := url.Parse(t.BaseURL); err != nil {
		errs.Add("target.baseUrl", fmt.Sprintf("invalid URL: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("target.baseUrl", "scheme must be http or https")
	}

	if t.Timeout < 0 {
		errs.Add("target.timeout", "timeout cannot be negative")
	}
	if t.MaxConnectionsPerHost < 0 {
		errs.Add("target.maxConnectionsPerHost", "maxConnectionsPerHost cannot be negative")
	}
	if t.MaxIdleConnsPerHost < 0 {
		errs.Add("target.maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}
}

func validateAuth(a *AuthConfig, errs *ValidationErrors) {
	if err := task.ValidateName(a.Login.Name); err != nil {
		errs.Add("auth.login.name", err.Error())
	}
	if err := task.ValidateName(a.Logout.Name); err != nil {
		errs.Add("auth.logout.name", err.Error())
	}
	if a.Login.Name != "" && a.Login.Name == a.Logout.Name {
		errs.Add("auth.logout.name", "login and logout must be reported under different names")
	}
	validateMethod("auth.login.method", a.Login.Method, errs)
	validateMethod("auth.logout.method", a.Logout.Method, errs)
	validateStatuses("auth.login.expectStatus", a.Login.ExpectStatus, errs)
	validateStatuses("auth.logout.expectStatus", a.Logout.ExpectStatus, errs)

	if a.Login.TokenPath == "" {
		errs.Add("auth.login.tokenPath", "tokenPath is required")
	}
	if a.Logout.Timeout < 0 {
		errs.Add("auth.logout.timeout", "timeout cannot be negative")
	}
}

func validateCredentials(c *CredentialsConfig, errs *ValidationErrors) {
	if c.File == "" {
		errs.Add("credentials.file", "a credential source file is required")
	}
	if utf8.RuneCountInString(c.Delimiter) != 1 {
		errs.Add("credentials.delimiter", "delimiter must be a single character")
	}
}

func validateShape(s *ShapeConfig, errs *ValidationErrors) {
	switch s.Type {
	case ShapeStepRamp:
		if _, err := shape.NewStepRamp(time.Duration(s.StepTime), s.StepLoad, s.SpawnRate, time.Duration(s.TimeLimit)); err != nil {
			errs.Add("shape", err.Error())
		}
		if len(s.Stages) > 0 {
			errs.Add("shape.stages", "stages are not used by a step-ramp shape")
		}
	case ShapeStages:
		mode, err := shape.ParseDurationMode(s.StageDurations)
		if err != nil {
			errs.Add("shape.stageDurations", err.Error())
			return
		}
		if len(s.Stages) == 0 {
			errs.Add("shape.stages", "at least one stage is required")
			return
		}
		if _, err := shape.NewStages(s.StagesList(), mode); err != nil {
			errs.Add("shape.stages", err.Error())
		}
	default:
		errs.Add("shape.type", fmt.Sprintf("unknown shape type: %s (expected %s or %s)", s.Type, ShapeStepRamp, ShapeStages))
	}
}

// StagesList converts the configured stages.
func (s *ShapeConfig) StagesList() []shape.Stage {
	stages := make([]shape.Stage, len(s.Stages))
	for i, st := range s.Stages {
		stages[i] = shape.Stage{
			Duration:  time.Duration(st.Duration),
			Sessions:  st.Sessions,
			SpawnRate: st.SpawnRate,
		}
	}
	return stages
}

func validateThinkTime(prefix string, t *ThinkTimeConfig, errs *ValidationErrors) {
	if t == nil {
		return
	}
	if t.Min < 0 || t.Max < 0 {
		errs.Add(prefix, "think time cannot be negative")
	} else if t.Max < t.Min {
		errs.Add(prefix+".max", "max must not be less than min")
	}
}

func validateBehavior(prefix string, b *BehaviorConfig, errs *ValidationErrors) {
	if strings.TrimSpace(b.Name) == "" {
		errs.Add(prefix+".name", "behavior name is required")
	}
	if _, err := task.ParseKind(b.Kind); err != nil {
		errs.Add(prefix+".kind", err.Error())
	}
	if b.Weight <= 0 {
		errs.Add(prefix+".weight", "weight must be greater than 0")
	}
	validateThinkTime(prefix+".thinkTime", b.ThinkTime, errs)
	if len(b.Steps) == 0 {
		errs.Add(prefix+".steps", "at least one step is required")
	}

	for i := range b.Steps {
		validateStep(fmt.Sprintf("%s.steps[%d]", prefix, i), &b.Steps[i], errs)
	}
}

func validateStep(prefix string, s *StepConfig, errs *ValidationErrors) {
	if err := task.ValidateName(s.Name); err != nil {
		errs.Add(prefix+".name", err.Error())
	}
	validateMethod(prefix+".method", s.Method, errs)
	if s.Path == "" {
		errs.Add(prefix+".path", "path is required")
	} else if !strings.HasPrefix(s.Path, "/") {
		errs.Add(prefix+".path", "path must start with /")
	}
	validateStatuses(prefix+".expectStatus", s.ExpectStatus, errs)
	if s.Weight <= 0 {
		errs.Add(prefix+".weight", "weight must be greater than 0")
	}

	for i, ex := range s.Extract {
		field := fmt.Sprintf("%s.extract[%d]", prefix, i)
		if ex.Name == "" {
			errs.Add(field+".name", "extraction name is required")
		}
		if ex.Path == "" {
			errs.Add(field+".path", "extraction path is required")
		}
		if len(ex.Where) > 0 && ex.From == "" {
			errs.Add(field+".from", "where requires from")
		}
	}

	if s.Schema != "" {
		if _, err := jsonschema.Compile(s.Schema); err != nil {
			errs.Add(prefix+".schema", fmt.Sprintf("invalid JSON schema: %v", err))
		}
	}
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

func validateMethod(field, method string, errs *ValidationErrors) {
	if !validMethods[strings.ToUpper(method)] {
		errs.Add(field, fmt.Sprintf("invalid HTTP method: %s", method))
	}
}

func validateStatuses(field string, statuses []int, errs *ValidationErrors) {
	for _, code := range statuses {
		if code < 100 || code > 599 {
			errs.Add(field, fmt.Sprintf("invalid HTTP status code: %d", code))
		}
	}
}
