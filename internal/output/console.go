package output

import (
	"fmt"
	"io"
	"os"
)

// Console writes severity-prefixed progress lines for a run.
type Console struct {
	w       io.Writer
	verbose bool
}

// NewConsole returns a Console writing to w. Debug lines are printed only
// when verbose is set.
func NewConsole(w io.Writer, verbose bool) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w, verbose: verbose}
}

// Writer returns the underlying writer.
func (c *Console) Writer() io.Writer { return c.w }

// Info prints an informational line.
func (c *Console) Info(format string, args ...any) {
	c.line(StyleHeader.Render("info "), format, args...)
}

// OK prints a success line.
func (c *Console) OK(format string, args ...any) {
	c.line(StyleSuccess.Render("ok   "), format, args...)
}

// Warn prints a warning line.
func (c *Console) Warn(format string, args ...any) {
	c.line(StyleWarning.Render("warn "), format, args...)
}

// Error prints an error line.
func (c *Console) Error(format string, args ...any) {
	c.line(StyleError.Render("error"), format, args...)
}

// Debug prints a muted line in verbose mode.
func (c *Console) Debug(format string, args ...any) {
	if !c.verbose {
		return
	}
	c.line(StyleMuted.Render("debug"), format, args...)
}

// Println writes a raw line.
func (c *Console) Println(s string) {
	fmt.Fprintln(c.w, s)
}

func (c *Console) line(prefix, format string, args ...any) {
	fmt.Fprintf(c.w, " %s %s\n", prefix, fmt.Sprintf(format, args...))
}
