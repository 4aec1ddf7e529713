// Package task defines the units of work a session runs and the schedulers
// that choose between them.
package task

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/herd/pkg/jsonpath"
	"github.com/wesleyorama2/herd/pkg/jsonschema"
)

// DefaultExpectStatus is the success set of a step that declares none.
var DefaultExpectStatus = []int{http.StatusOK}

// Extraction copies one value from a response into scratch.
//
// Without From, Path is resolved against the response body. With From, the
// array at From is scanned for the first element whose fields equal Where,
// and Path is resolved against that element.
type Extraction struct {
	Name  string
	Path  string
	From  string
	Where map[string]string
}

// Step is a named unit of work. A Step is immutable once built and shared
// by every session running its behavior.
type Step struct {
	Name    string
	Method  string
	Path    string
	Body    string
	Headers map[string]string

	// Requires lists scratch keys that must be present for the step to run,
	// in addition to every key referenced by a placeholder in Path, Body or
	// Headers.
	Requires []string
	Extract  []Extraction

	ExpectStatus []int
	ExpectFields map[string]string
	Schema       *jsonschema.Schema

	// EndsSession makes a failure of this step move the session to logout.
	EndsSession bool
	Weight      int
}

// ValidateName rejects empty names and names built from per-request values.
// Task names are aggregation keys and must be fixed when the behavior is
// defined.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("task name is required")
	}
	if strings.Contains(name, "{{") || strings.Contains(name, "}}") {
		return fmt.Errorf("task name %q must be a static label, not a template", name)
	}
	return nil
}

// Validate checks the step definition.
func (s *Step) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if s.Method == "" {
		return fmt.Errorf("step %q: method is required", s.Name)
	}
	if s.Path == "" {
		return fmt.Errorf("step %q: path is required", s.Name)
	}
	for _, code := range s.ExpectStatus {
		if code < 100 || code > 599 {
			return fmt.Errorf("step %q: invalid expected status %d", s.Name, code)
		}
	}
	for _, ex := range s.Extract {
		if ex.Name == "" || ex.Path == "" {
			return fmt.Errorf("step %q: extraction needs a name and a path", s.Name)
		}
	}
	return nil
}

// Ready reports whether every precondition holds in scratch.
func (s *Step) Ready(scratch Scratch) bool {
	return len(s.Missing(scratch)) == 0
}

// Missing returns the required keys absent from scratch.
func (s *Step) Missing(scratch Scratch) []string {
	var missing []string
	for _, key := range s.Needs() {
		if !scratch.Has(key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// Needs returns every scratch key the step depends on: Requires followed by
// the placeholders of Path, Body and Headers, without duplicates.
func (s *Step) Needs() []string {
	needs := slices.Clone(s.Requires)
	add := func(text string) {
		for _, name := range Placeholders(text) {
			if !slices.Contains(needs, name) {
				needs = append(needs, name)
			}
		}
	}
	add(s.Path)
	add(s.Body)
	keys := make([]string, 0, len(s.Headers))
	for k := range s.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		add(s.Headers[k])
	}
	return needs
}

// Expected returns the success status set.
func (s *Step) Expected() []int {
	if len(s.ExpectStatus) == 0 {
		return DefaultExpectStatus
	}
	return s.ExpectStatus
}

// Prepare clears the keys the step produces, so that a failed extraction
// leaves them absent instead of stale.
func (s *Step) Prepare(scratch Scratch) {
	for _, ex := range s.Extract {
		delete(scratch, ex.Name)
	}
}

// Apply checks a response against the step's expectations and writes its
// extractions into scratch. Extraction stops at the first failure.
func (s *Step) Apply(status int, body []byte, scratch Scratch) error {
	expected := s.Expected()
	if !slices.Contains(expected, status) {
		return NewUnexpectedStatus(status, expected, body)
	}

	if s.Schema != nil {
		if err := s.Schema.Validate(body); err != nil {
			return &PayloadError{Reason: "schema validation failed", Err: err}
		}
	}

	for path, want := range s.ExpectFields {
		got, err := jsonpath.Extract(body, path)
		if err != nil {
			return &PayloadError{Field: path, Reason: "expected field unavailable", Err: err}
		}
		if got != want {
			return &PayloadError{Field: path, Reason: fmt.Sprintf("got %q, want %q", got, want)}
		}
	}

	for _, ex := range s.Extract {
		value, err := ex.apply(body)
		if err != nil {
			return &PayloadError{Field: ex.Name, Reason: "extraction failed", Err: err}
		}
		scratch[ex.Name] = value
	}
	return nil
}

func (ex Extraction) apply(body []byte) (string, error) {
	if ex.From == "" {
		return jsonpath.Extract(body, ex.Path)
	}

	elem, ok := jsonpath.FindFirst(body, ex.From, ex.matcher())
	if !ok {
		return "", fmt.Errorf("%w: no element of %s matches", jsonpath.ErrNotFound, ex.From)
	}
	value := elem.Get(jsonpath.Normalize(ex.Path))
	if !value.Exists() {
		return "", fmt.Errorf("%w: %s", jsonpath.ErrNotFound, ex.Path)
	}
	return value.String(), nil
}

func (ex Extraction) matcher() func(gjson.Result) bool {
	if len(ex.Where) == 0 {
		return nil
	}
	preds := make([]func(gjson.Result) bool, 0, len(ex.Where))
	for path, value := range ex.Where {
		preds = append(preds, jsonpath.FieldEquals(path, value))
	}
	return func(elem gjson.Result) bool {
		for _, pred := range preds {
			if !pred(elem) {
				return false
			}
		}
		return true
	}
}
