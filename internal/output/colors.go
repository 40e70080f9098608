package output

import (
	"github.com/fatih/color"

	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Pass         *color.Color
	Fail         *color.Color
	Inconclusive *color.Color
	Title        *color.Color
	Rule         *color.Color
	Label        *color.Color
	Value        *color.Color
	Dim          *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Pass:         color.New(color.FgGreen, color.Bold),
		Fail:         color.New(color.FgRed, color.Bold),
		Inconclusive: color.New(color.FgYellow, color.Bold),
		Title:        color.New(color.Bold),
		Rule:         color.New(color.FgCyan),
		Label:        color.New(color.Bold),
		Value:        color.New(color.FgCyan),
		Dim:          color.New(color.Faint),
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

// ForcedColorScheme returns the default scheme with colors enabled even
// when stdout is not a terminal.
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Pass, s.Fail, s.Inconclusive, s.Title, s.Rule, s.Label, s.Value, s.Dim}
}

// ForStatus returns the color for a verdict status.
func (s *ColorScheme) ForStatus(status threshold.Status) *color.Color {
	switch status {
	case threshold.StatusPass:
		return s.Pass
	case threshold.StatusFail:
		return s.Fail
	default:
		return s.Inconclusive
	}
}

// ForResult returns the color for a single threshold result.
func (s *ColorScheme) ForResult(status threshold.ResultStatus) *color.Color {
	switch status {
	case threshold.Passed:
		return s.Pass
	case threshold.Violated:
		return s.Fail
	default:
		return s.Inconclusive
	}
}

// ResultIcon returns ✓, ✗ or ? for a threshold result.
func ResultIcon(status threshold.ResultStatus) string {
	switch status {
	case threshold.Passed:
		return "✓"
	case threshold.Violated:
		return "✗"
	default:
		return "?"
	}
}
