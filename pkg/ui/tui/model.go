package tui

import (
	"fmt"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"batchrun/pkg/batch"
	"batchrun/pkg/progress"
)

// Controller is the part of a batch runner the dashboard drives.
// *batch.Runner implements it.
type Controller interface {
	Pause()
	Resume()
	Cancel()
}

// LogMessage is one line of the activity panel
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// Model is the dashboard state. Bubble Tea serializes Update and View, so
// it needs no locking of its own.
type Model struct {
	spinner spinner.Model
	bar     bprogress.Model
	ctrl    Controller

	name          string
	total         int
	completed     int
	success       int
	failed        int
	resumedFrom   int
	status        progress.Status
	memoryMB      float64
	memoryLimitMB float64
	startTime     time.Time
	now           func() time.Time

	width          int
	height         int
	showHelp       bool
	paused         bool
	cancelling     bool
	done           bool
	final          *progress.State
	logMessages    []LogMessage
	maxLogMessages int
}

// NewModel creates a dashboard for a batch of total items. ctrl may be nil,
// in which case the pause and cancel keys only change what is shown.
func NewModel(name string, total int, memoryLimitMB float64, ctrl Controller) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	bar := bprogress.New(bprogress.WithDefaultGradient())
	bar.Width = 40

	return Model{
		spinner:        s,
		bar:            bar,
		ctrl:           ctrl,
		name:           name,
		total:          total,
		status:         progress.StatusRunning,
		memoryLimitMB:  memoryLimitMB,
		startTime:      time.Now(),
		now:            time.Now,
		logMessages:    []LogMessage{},
		maxLogMessages: 50,
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// SetResumed records work done before this run
func (m *Model) SetResumed(completed, success, failed int) {
	m.completed = completed
	m.success = success
	m.failed = failed
	m.resumedFrom = completed
}

// ApplyUpdate folds one runner update into the counters
func (m *Model) ApplyUpdate(u batch.Update) {
	m.completed = u.Completed
	m.success = u.Success
	m.failed = u.Failed
	m.status = u.Status
	if u.Total > m.total {
		m.total = u.Total
	}
	if u.Err != nil {
		m.AddLogMessage("ERROR", fmt.Sprintf("item %d: %v", u.Index, u.Err))
	}
}

// AddLogMessage appends to the activity panel, keeping the newest entries
func (m *Model) AddLogMessage(level, message string) {
	m.logMessages = append(m.logMessages, LogMessage{
		Time:    m.now(),
		Level:   level,
		Message: message,
		Color:   levelColor(level),
	})

	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// Fraction is the completed share of the batch in [0, 1]
func (m *Model) Fraction() float64 {
	if m.total == 0 {
		return 0
	}
	f := float64(m.completed) / float64(m.total)
	if f > 1 {
		return 1
	}
	return f
}

// Rate returns new completions per minute
func (m *Model) Rate() float64 {
	minutes := m.now().Sub(m.startTime).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(m.completed-m.resumedFrom) / minutes
}

// ETA estimates the time left from the pace of this run. It is zero until
// something has completed.
func (m *Model) ETA() time.Duration {
	done := m.completed - m.resumedFrom
	if done <= 0 {
		return 0
	}
	perItem := m.now().Sub(m.startTime) / time.Duration(done)
	return perItem * time.Duration(m.total-m.completed)
}

// Paused reports whether the user paused dispatch
func (m *Model) Paused() bool {
	return m.paused
}

// Done reports whether the run has finished
func (m *Model) Done() bool {
	return m.done
}
