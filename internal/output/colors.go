// Package output renders live progress and final results of a load test.
package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title    *color.Color
	Rule     *color.Color
	Label    *color.Color
	Value    *color.Color
	Latency  *color.Color
	Stage    *color.Color
	Progress *color.Color
	Dim      *color.Color
	Good     *color.Color
	Warn     *color.Color
	Bad      *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:    color.New(color.Bold),
		Rule:     color.New(color.FgCyan),
		Label:    color.New(color.Bold),
		Value:    color.New(color.FgCyan),
		Latency:  color.New(color.FgBlue),
		Stage:    color.New(color.FgMagenta),
		Progress: color.New(color.FgGreen),
		Dim:      color.New(color.Faint),
		Good:     color.New(color.FgGreen),
		Warn:     color.New(color.FgYellow),
		Bad:      color.New(color.FgRed),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// EnableColors forces colors on, regardless of the terminal.
func (s *ColorScheme) EnableColors() {
	for _, c := range s.all() {
		c.EnableColor()
	}
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{
		s.Title, s.Rule, s.Label, s.Value, s.Latency, s.Stage,
		s.Progress, s.Dim, s.Good, s.Warn, s.Bad,
	}
}

// Rate picks a color for a failure ratio: good below 1%, warn below 5%,
// bad above.
func (s *ColorScheme) Rate(failureRatio float64) *color.Color {
	switch {
	case failureRatio > 0.05:
		return s.Bad
	case failureRatio > 0.01:
		return s.Warn
	default:
		return s.Good
	}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return color.New(color.FgYellow).Sprint("⚠")
}
