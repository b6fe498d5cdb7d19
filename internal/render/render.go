// Package render draws widget sessions on a terminal: the selected file, a
// progress bar while uploading and the terminal status message.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/tomasbasham/audio-upload/internal/widget"
)

const (
	defaultWidth = 80
	minBarWidth  = 10
	maxBarWidth  = 50
)

// Renderer writes a textual view of widget sessions to out. On a terminal the
// progress bar is redrawn in place; otherwise a line is written each time
// progress crosses a quarter.
type Renderer struct {
	out   io.Writer
	tty   bool
	width int

	mu        sync.Mutex
	phase     widget.Phase
	progress  int
	milestone int
}

// New creates a Renderer for out, probing whether it is a terminal.
func New(out io.Writer) *Renderer {
	r := &Renderer{out: out, width: defaultWidth, phase: widget.PhaseEmpty}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			r.width = w
		}
	}
	return r
}

// Render draws s. It is safe to use as a widget subscriber.
func (r *Renderer) Render(s widget.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.phase
	r.phase = s.Phase

	switch s.Phase {
	case widget.PhaseEmpty:
		if prev != widget.PhaseEmpty {
			r.endLine(prev)
			fmt.Fprintln(r.out, "Selection cleared.")
		}
	case widget.PhaseSelected:
		r.endLine(prev)
		fmt.Fprintf(r.out, "Selected %s (%s, %s)\n", s.File.Name, FormatSize(s.File.Size), s.File.MIMEType)
	case widget.PhaseUploading:
		if prev != widget.PhaseUploading {
			r.progress = -1
			r.milestone = -1
		}
		r.drawProgress(s)
	case widget.PhaseSucceeded:
		r.drawProgress(s)
		r.endLine(widget.PhaseUploading)
		fmt.Fprintln(r.out, "Upload complete!")
	case widget.PhaseFailed:
		r.endLine(prev)
		fmt.Fprintf(r.out, "Error: %s\n", s.Message())
	}
}

func (r *Renderer) drawProgress(s widget.Session) {
	if s.Progress == r.progress {
		return
	}
	r.progress = s.Progress

	name := ""
	if s.File != nil {
		name = s.File.Name
	}

	if r.tty {
		barWidth := min(max(r.width-len(name)-20, minBarWidth), maxBarWidth)
		fmt.Fprintf(r.out, "\r%s %3d%% %s", Bar(s.Progress, barWidth), s.Progress, name)
		return
	}

	milestone := s.Progress / 25
	if milestone == r.milestone {
		return
	}
	r.milestone = milestone
	fmt.Fprintf(r.out, "Uploading %s: %d%%\n", name, s.Progress)
}

// endLine terminates an in-place progress line before other output.
func (r *Renderer) endLine(prev widget.Phase) {
	if r.tty && prev == widget.PhaseUploading {
		fmt.Fprintln(r.out)
	}
}

// Bar renders progress (0-100) as a bar of the given inner width.
func Bar(progress, width int) string {
	progress = min(max(progress, 0), 100)
	filled := progress * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// FormatSize renders a byte count in megabytes with two decimals.
func FormatSize(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}
