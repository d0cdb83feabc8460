package cli

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Reporter renders a single overwritten progress line on stderr for
// long-running operations (the streaming import chunk loop), and carries the
// cancellation flag the SIGINT handler in root.go sets. Its method set is
// exactly what vaultctl drives: SetProgress/Update from the streaming
// progress callback, IsCancelled polled between chunks, Cancel from the
// signal handler, Finish once the loop is done.
type Reporter struct {
	mu        sync.Mutex
	progress  float32
	info      string
	quiet     bool
	cancelled atomic.Bool
	lastLine  int // length of the last printed line, for clearing
}

// NewReporter creates a progress reporter. If quiet is true, Update and
// Finish print nothing.
func NewReporter(quiet bool) *Reporter {
	return &Reporter{quiet: quiet}
}

// SetProgress records the completed fraction and a short info string
// ("chunk 12/40") for the next Update.
func (r *Reporter) SetProgress(fraction float32, info string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = fraction
	r.info = info
}

// Update redraws the progress line in place.
func (r *Reporter) Update() {
	if r.quiet {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	barWidth := 30
	filled := min(int(r.progress*float32(barWidth)), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %s", bar, r.info)
	if len(line) < r.lastLine {
		line += strings.Repeat(" ", r.lastLine-len(line))
	}
	r.lastLine = len(line)

	fmt.Fprint(os.Stderr, line)
}

// IsCancelled reports whether Cancel has been called.
func (r *Reporter) IsCancelled() bool {
	return r.cancelled.Load()
}

// Cancel marks the operation as cancelled. The streaming import loop polls
// IsCancelled between chunks and stops on the next check.
func (r *Reporter) Cancel() {
	r.cancelled.Store(true)
}

// Finish moves past the progress line.
func (r *Reporter) Finish() {
	if !r.quiet {
		fmt.Fprintln(os.Stderr)
	}
}
