// Package statusline prints the daemon's live terminal feedback: an
// idle spinner frame per Spin call, one line per dispatched Event, and
// a transfer-rate summary when a Job finishes.
// Grounded on mutagen's cmd.StatusLinePrinter carriage-return overwrite
// technique, generalized from a single status string to the daemon's
// per-Job event/throughput reporting.
package statusline

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// lineWidth assumes a standard 80-column POSIX terminal; content
// longer than this is left as-is rather than truncated, content
// shorter is padded so a carriage-return overwrite never leaves stale
// characters from a longer previous line.
const lineWidth = 80

var spinnerFrames = []rune{'|', '/', '-', '\\'}

// Printer renders a single overwritable status line to w, optionally
// colorized. It is safe for concurrent use; callers typically share
// one Printer across a Job's Watcher/Queue/Processor goroutines.
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	color    bool
	nonEmpty bool
	frame    int
}

// NewPrinter constructs a Printer writing to w. When useColor is false
// the output carries no escape sequences, useful for piping to a file.
func NewPrinter(w io.Writer, useColor bool) *Printer {
	return &Printer{w: w, color: useColor}
}

// Print overwrites the current status line with message, padding or
// leaving it as-is to clear any longer previous content.
func (p *Printer) Print(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.printLocked(message)
}

func (p *Printer) printLocked(message string) {
	if len(message) < lineWidth {
		message += spacesOf(lineWidth - len(message))
	}

	fmt.Fprintf(p.w, "\r%s", message)
	p.nonEmpty = true
}

// Spin advances and prints one frame of the idle spinner for job. The
// spinner moves only when a caller invokes Spin; nothing in the daemon
// calls it, so no idle spinner is shown while a Job waits for events.
func (p *Printer) Spin(job string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame := spinnerFrames[p.frame%len(spinnerFrames)]
	p.frame++

	msg := fmt.Sprintf("%c %s: idle", frame, job)
	if p.color {
		msg = color.CyanString("%c", frame) + fmt.Sprintf(" %s: idle", job)
	}

	p.printLocked(msg)
}

// Event prints one line describing a dispatched Event.
func (p *Printer) Event(job, kind, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	verb := kind
	if p.color {
		verb = color.GreenString(kind)
	}

	p.printLocked(fmt.Sprintf("%s: %s %s", job, verb, path))
	p.clearLocked()
}

// Overflow prints the fixed warning line for when a Watcher's event
// buffer overflows.
func (p *Printer) Overflow(job string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := "The monitoring buffer has overflowed"
	if p.color {
		msg = color.YellowString(msg)
	}

	p.printLocked(fmt.Sprintf("%s: %s", job, msg))
	p.clearLocked()
}

// Summary prints a transfer-rate line: bytes and file count moved over
// elapsed, formatted with go-humanize the way mutagen's monitor
// command formats staging progress.
func (p *Printer) Summary(job string, files int, bytes uint64, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rate := float64(bytes) / elapsed.Seconds()
	if elapsed <= 0 {
		rate = 0
	}

	msg := fmt.Sprintf("%s: %d files, %s copied (%s/s)",
		job, files, humanize.Bytes(bytes), humanize.Bytes(uint64(rate)))

	p.printLocked(msg)
	p.clearLocked()
}

// Clear wipes the current line and moves the cursor back to column
// zero, breaking to a fresh line first if something was printed.
func (p *Printer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearLocked()
}

func (p *Printer) clearLocked() {
	if !p.nonEmpty {
		return
	}

	fmt.Fprint(p.w, "\n")
	p.nonEmpty = false
}

func spacesOf(n int) string {
	if n <= 0 {
		return ""
	}

	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}

	return string(b)
}
