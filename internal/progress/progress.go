// Package progress renders a progress bar for batch scans.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const barWidth = 30

// Display tracks completed targets and redraws a single status line.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	total      int64
	completed  atomic.Int64
	empty      atomic.Int64
	endpoints  atomic.Int64
	highThreat atomic.Int64

	startTime time.Time
	lastLine  string
}

// New creates a display writing to out.
func New(out io.Writer) *Display {
	return &Display{out: out}
}

// Start begins the display for total targets.
func (d *Display) Start(total int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	d.total = int64(total)
	d.startTime = time.Now()
}

// Done records one finished target and redraws the bar. Reports with no
// endpoints count as empty; threat levels of 70 and above count as high.
func (d *Display) Done(endpoints, threatLevel int) {
	d.completed.Add(1)
	d.endpoints.Add(int64(endpoints))
	if endpoints == 0 {
		d.empty.Add(1)
	}
	if threatLevel >= 70 {
		d.highThreat.Add(1)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return
	}
	d.draw()
}

func (d *Display) draw() {
	completed := d.completed.Load()
	percent := 100
	if d.total > 0 {
		percent = int(completed * 100 / d.total)
	}
	if percent > 100 {
		percent = 100
	}

	elapsed := time.Since(d.startTime)
	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(completed) / elapsed.Seconds()
	}

	filled := percent * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | Targets: %d/%d | Empty: %d | High: %d | %.1f t/s | %s",
		bar, percent, completed, d.total, d.empty.Load(), d.highThreat.Load(), speed, formatDuration(elapsed))

	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop ends the display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}
	d.stopped = true
	fmt.Fprintln(d.out)
}

// PrintSummary prints totals after the batch finishes.
func (d *Display) PrintSummary() {
	duration := time.Since(d.startTime)

	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, "  Batch Complete")
	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "  Duration:      %s\n", formatDuration(duration))
	fmt.Fprintf(d.out, "  Targets:       %d\n", d.completed.Load())
	fmt.Fprintf(d.out, "  Empty:         %d\n", d.empty.Load())
	fmt.Fprintf(d.out, "  High Threat:   %d\n", d.highThreat.Load())
	fmt.Fprintf(d.out, "  Endpoints:     %d\n", d.endpoints.Load())
	fmt.Fprintln(d.out)
}

// Stats returns the current counters.
func (d *Display) Stats() (completed, empty, highThreat, endpoints int64) {
	return d.completed.Load(), d.empty.Load(), d.highThreat.Load(), d.endpoints.Load()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
