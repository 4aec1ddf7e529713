// Package jsonpath extracts values from JSON response bodies.
//
// Paths accept both gjson syntax ("items.0.id") and the common JSONPath
// subset ("$.items[0].id").
package jsonpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidJSON is returned when the body is not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON")

	// ErrNotFound is returned when a path does not resolve to a value.
	ErrNotFound = errors.New("path not found")
)

// Lookup resolves path against body.
func Lookup(body []byte, path string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrInvalidJSON
	}

	result := gjson.GetBytes(body, Normalize(path))
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return result, nil
}

// Extract resolves path against body and returns the value as a string.
// A JSON null is returned as "null".
func Extract(body []byte, path string) (string, error) {
	result, err := Lookup(body, path)
	if err != nil {
		return "", err
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// FindFirst scans the array at arrayPath and returns the first element
// accepted by match. The boolean is false when the array is missing, empty,
// or no element matches.
func FindFirst(body []byte, arrayPath string, match func(gjson.Result) bool) (gjson.Result, bool) {
	array, err := Lookup(body, arrayPath)
	if err != nil || !array.IsArray() {
		return gjson.Result{}, false
	}

	var found gjson.Result
	ok := false
	array.ForEach(func(_, elem gjson.Result) bool {
		if match == nil || match(elem) {
			found = elem
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// FieldEquals returns a predicate for FindFirst that accepts elements whose
// field at path has the given string value.
func FieldEquals(path, value string) func(gjson.Result) bool {
	path = Normalize(path)
	return func(elem gjson.Result) bool {
		field := elem.Get(path)
		return field.Exists() && field.String() == value
	}
}

// Normalize converts a JSONPath expression into gjson path syntax.
func Normalize(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	// Bracketed names: ['name'] and ["name"]
	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "").Replace(path)

	// Array indexes: [0] -> .0
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}
