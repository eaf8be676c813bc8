package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"batchrun/pkg/batch"
	"batchrun/pkg/progress"
)

// ProgressDisplay renders a batch's progress. On a terminal it redraws one
// line in place; otherwise it prints a line every reportEvery completions.
type ProgressDisplay struct {
	mu          sync.Mutex
	out         io.Writer
	name        string
	total       int
	completed   int
	failed      int
	resumedFrom int
	startTime   time.Time
	interactive bool
	reportEvery int
	now         func() time.Time
}

// NewProgressDisplay creates a display for a batch of total items
func NewProgressDisplay(out io.Writer, name string, total int) *ProgressDisplay {
	reportEvery := total / 20
	if reportEvery < 1 {
		reportEvery = 1
	}
	return &ProgressDisplay{
		out:         out,
		name:        name,
		total:       total,
		startTime:   time.Now(),
		interactive: IsTerminal(out),
		reportEvery: reportEvery,
		now:         time.Now,
	}
}

// SetResumed records work done before this run so rate and ETA only count
// new completions
func (p *ProgressDisplay) SetResumed(completed, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed = completed
	p.failed = failed
	p.resumedFrom = completed
}

// Handle is a batch.Options.OnProgress hook
func (p *ProgressDisplay) Handle(u batch.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed = u.Completed
	p.failed = u.Failed
	if u.Total > p.total {
		p.total = u.Total
	}

	if u.Err != nil && !p.interactive {
		fmt.Fprintf(p.out, "%s item %d: %v\n", Red("✗"), u.Index, u.Err)
	}

	switch {
	case p.interactive:
		fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 100), p.line(u.Status))
	case u.Completed%p.reportEvery == 0 || u.Completed == p.total:
		fmt.Fprintln(p.out, p.line(u.Status))
	}
}

// line builds the one-line summary. Must hold mu.
func (p *ProgressDisplay) line(status progress.Status) string {
	fraction := 0.0
	if p.total > 0 {
		fraction = float64(p.completed) / float64(p.total)
	}
	const barWidth = 20
	filled := int(fraction * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d • %.1f/min • %s",
		Cyan(p.name),
		bar,
		p.completed,
		p.total,
		p.rate(),
		p.eta(),
	)
	if p.failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", p.failed))
	}
	if status == progress.StatusPaused {
		line += " • " + Yellow("paused")
	}
	return line
}

// rate is new completions per minute. Must hold mu.
func (p *ProgressDisplay) rate() float64 {
	minutes := p.now().Sub(p.startTime).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(p.completed-p.resumedFrom) / minutes
}

// eta estimates time remaining. Must hold mu.
func (p *ProgressDisplay) eta() string {
	done := p.completed - p.resumedFrom
	if done <= 0 {
		return "calculating..."
	}

	elapsed := p.now().Sub(p.startTime)
	perItem := elapsed / time.Duration(done)
	return FormatDuration(perItem * time.Duration(p.total-p.completed))
}

// Complete prints the final summary
func (p *ProgressDisplay) Complete(state progress.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interactive {
		fmt.Fprintln(p.out)
	}

	elapsed := state.Duration(p.now())
	switch state.Status {
	case progress.StatusCancelled:
		fmt.Fprintf(p.out, "\n%s Cancelled %s after %d of %d items\n",
			Yellow("■"), p.name, state.Completed, state.Total)
	default:
		mark := Green("✓")
		if state.Failed > 0 {
			mark = Yellow("!")
		}
		fmt.Fprintf(p.out, "\n%s Processed %d items for %s\n", mark, state.Completed, p.name)
	}

	fmt.Fprintf(p.out, "  %s %d succeeded, %d failed in %s (%.1f%% success)\n",
		Dim("•"),
		state.Success,
		state.Failed,
		FormatDuration(elapsed),
		state.SuccessRate(),
	)
	if state.Skipped > 0 {
		fmt.Fprintf(p.out, "  %s %d not run\n", Dim("•"), state.Skipped)
	}
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
