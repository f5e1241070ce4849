package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // gray
	colorWarn   = 214 // orange
	colorError  = 203 // red
)

// Styles renders CLI text, with or without color.
type Styles struct {
	color bool
}

// NewStyles returns Styles that emit ANSI escapes only when color is true.
func NewStyles(color bool) Styles {
	return Styles{color: color}
}

// Accent highlights identifiers such as cursors and subscriber ids.
func (s Styles) Accent(v string) string { return s.paint(colorAccent, v) }

// Muted de-emphasizes secondary detail.
func (s Styles) Muted(v string) string { return s.paint(colorMuted, v) }

func (s Styles) Warn(v string) string { return s.paint(colorWarn, v) }

func (s Styles) Error(v string) string { return s.paint(colorError, v) }

func (s Styles) paint(code int, v string) string {
	if !s.color {
		return v
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, v)
}
