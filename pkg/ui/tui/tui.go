package tui

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"batchrun/pkg/batch"
	"batchrun/pkg/memory"
	"batchrun/pkg/progress"
)

// TUI represents the terminal user interface
type TUI struct {
	program *tea.Program
	model   *Model
}

// Option configures the underlying Bubble Tea program
type Option func(*[]tea.ProgramOption)

// WithIO runs the program on the given streams without the alternate
// screen. Used for tests and non-standard terminals.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(opts *[]tea.ProgramOption) {
		*opts = append(*opts, tea.WithInput(in), tea.WithOutput(out))
	}
}

// NewTUI creates a dashboard for a batch run. ctrl receives the pause and
// cancel key presses.
func NewTUI(name string, total int, memoryLimitMB float64, ctrl Controller, options ...Option) *TUI {
	model := NewModel(name, total, memoryLimitMB, ctrl)

	var opts []tea.ProgramOption
	for _, o := range options {
		o(&opts)
	}
	if len(opts) == 0 {
		opts = append(opts, tea.WithAltScreen())
	}

	return &TUI{
		program: tea.NewProgram(&model, opts...),
		model:   &model,
	}
}

// Start runs the program until the batch finishes or the user quits
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI gracefully
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// SetResumed shows work done by an earlier run. Call before Start.
func (t *TUI) SetResumed(completed, success, failed int) {
	t.model.SetResumed(completed, success, failed)
}

// Handle is a batch.Options.OnProgress hook
func (t *TUI) Handle(u batch.Update) {
	t.Send(UpdateMsg(u))
}

// Finish shows the final state and ends the program
func (t *TUI) Finish(state progress.State) {
	t.Send(DoneMsg{State: state})
}

// Log adds a line to the activity panel
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}

// WatchMemory samples monitor every interval until ctx is done
func (t *TUI) WatchMemory(ctx context.Context, monitor memory.Monitor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.Send(MemoryMsg(monitor.CurrentUsageMB()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Send(MemoryMsg(monitor.CurrentUsageMB()))
		}
	}
}
