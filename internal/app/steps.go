package app

import (
	"fmt"
	"io"
)

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
)

// Steps prints one status line per setup step: a label padded to 50
// columns followed by OK or the failure.
type Steps struct {
	w     io.Writer
	color bool
}

// NewSteps writes to w; color enables ANSI colouring of the verdicts.
func NewSteps(w io.Writer, color bool) *Steps {
	if w == nil {
		w = io.Discard
	}
	return &Steps{w: w, color: color}
}

// Do prints label, runs fn and prints its verdict. It returns fn's error.
func (s *Steps) Do(label string, fn func() error) error {
	s.Begin(label)
	return s.End(fn())
}

// Begin prints label without a verdict.
func (s *Steps) Begin(label string) {
	fmt.Fprintf(s.w, "%-50s", label)
}

// End prints the verdict for the step started by Begin and returns err.
func (s *Steps) End(err error) error {
	if err != nil {
		fmt.Fprintln(s.w, s.paint(colorRed, "Failed: "+err.Error()))
		return err
	}
	fmt.Fprintln(s.w, s.paint(colorGreen, "OK"))
	return nil
}

// Note prints an informational line.
func (s *Steps) Note(format string, args ...any) {
	fmt.Fprintf(s.w, format+"\n", args...)
}

// Success prints the final verdict of a clean session.
func (s *Steps) Success() {
	fmt.Fprintln(s.w, s.paint(colorGreen, "Success!"))
}

func (s *Steps) paint(color, text string) string {
	if !s.color {
		return text
	}
	return color + text + colorReset
}
