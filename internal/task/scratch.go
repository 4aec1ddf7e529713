package task

import (
	"regexp"
	"strings"
)

// Scratch holds values one step produces for later steps of the same
// session. It belongs to a single session and is not safe for concurrent use.
type Scratch map[string]string

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Has reports whether key holds a value.
func (s Scratch) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Resolve replaces {{name}} placeholders with scratch values. Unknown
// placeholders are left untouched.
func (s Scratch) Resolve(template string) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if value, ok := s[name]; ok {
			return value
		}
		return match
	})
}

// Placeholders returns the names referenced by {{name}} placeholders in s,
// in order of appearance.
func Placeholders(s string) []string {
	if !strings.Contains(s, "{{") {
		return nil
	}
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}
