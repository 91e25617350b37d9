package logging

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ansiSequence matches the CSI sequences remote shells put in prompts
var ansiSequence = regexp.MustCompile(`\x1b\[[\d;]*[a-zA-Z]`)

// Tracer echoes raw serial traffic for debugging. A nil or disabled
// Tracer discards everything, so callers never need to check.
type Tracer struct {
	w     io.Writer
	style lipgloss.Style
}

// NewTracer returns a Tracer writing to w, or nil when enabled is false
func NewTracer(w io.Writer, enabled bool) *Tracer {
	if !enabled {
		return nil
	}
	renderer := lipgloss.NewRenderer(w)
	return &Tracer{
		w:     NewCRLFWriter(w),
		style: renderer.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
	}
}

// Enabled reports whether trace output is written
func (t *Tracer) Enabled() bool {
	return t != nil
}

// Data traces bytes read from or written to the line
func (t *Tracer) Data(p []byte) {
	if t == nil || len(p) == 0 {
		return
	}
	t.emit(string(p))
}

// Printf traces a protocol event such as "(got a shell prompt)"
func (t *Tracer) Printf(format string, args ...any) {
	if t == nil {
		return
	}
	t.emit(fmt.Sprintf(format, args...))
}

func (t *Tracer) emit(s string) {
	s = ansiSequence.ReplaceAllString(s, "")
	// Render pads multi-line blocks to a common width; style line by line.
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = t.style.Render(line)
		}
	}
	fmt.Fprint(t.w, strings.Join(lines, "\n"))
}
