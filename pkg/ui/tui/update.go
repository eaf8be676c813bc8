package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"batchrun/pkg/batch"
	"batchrun/pkg/memory"
	"batchrun/pkg/progress"
)

// UpdateMsg carries one completion from the runner
type UpdateMsg batch.Update

// MemoryMsg carries a fresh memory sample in MB
type MemoryMsg float64

// DoneMsg is sent once with the final state of the run
type DoneMsg struct {
	State progress.State
}

// LogMsg adds a line to the activity panel
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to redraw rate and ETA
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = barWidth(msg.Width)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case UpdateMsg:
		m.ApplyUpdate(batch.Update(msg))
		return m, nil

	case MemoryMsg:
		if float64(msg) != memory.Unknown {
			m.memoryMB = float64(msg)
		}
		return m, nil

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil

	case DoneMsg:
		state := msg.State
		m.final = &state
		m.done = true
		m.status = state.Status
		m.completed = state.Completed
		m.success = state.Success
		m.failed = state.Failed
		m.AddLogMessage("SUCCESS", fmt.Sprintf("batch %s: %d succeeded, %d failed", state.Status, state.Success, state.Failed))
		return m, tea.Quit
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		if m.done {
			return m, tea.Quit
		}
		m.cancel()
		return m, nil

	case "p", "P":
		if m.done || m.cancelling {
			return m, nil
		}
		m.paused = !m.paused
		if m.paused {
			if m.ctrl != nil {
				m.ctrl.Pause()
			}
			m.status = progress.StatusPaused
			m.AddLogMessage("WARN", "Dispatch paused by user")
		} else {
			if m.ctrl != nil {
				m.ctrl.Resume()
			}
			m.status = progress.StatusRunning
			m.AddLogMessage("INFO", "Dispatch resumed by user")
		}
		return m, nil

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.logMessages = []LogMessage{}
		return m, nil
	}

	return m, nil
}

func (m *Model) cancel() {
	if m.cancelling {
		return
	}
	m.cancelling = true
	if m.ctrl != nil {
		m.ctrl.Cancel()
	}
	m.AddLogMessage("WARN", "Cancelling; waiting for the runner to save progress")
}

func barWidth(termWidth int) int {
	w := termWidth - 30
	switch {
	case w < 10:
		return 10
	case w > 80:
		return 80
	default:
		return w
	}
}

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
