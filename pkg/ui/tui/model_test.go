package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchrun/pkg/batch"
	"batchrun/pkg/memory"
	"batchrun/pkg/progress"
)

type fakeController struct {
	pauses, resumes, cancels int
}

func (f *fakeController) Pause() {
	f.pauses++
}

func (f *fakeController) Resume() {
	f.resumes++
}

func (f *fakeController) Cancel() {
	f.cancels++
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(ctrl Controller) *Model {
	m := NewModel("nightly", 10, 500, ctrl)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.startTime = start
	m.now = func() time.Time { return start.Add(2 * time.Minute) }
	return &m
}

func TestApplyUpdate(t *testing.T) {
	m := newTestModel(nil)

	m.Update(UpdateMsg(batch.Update{Index: 0, Total: 10, Completed: 1, Success: 1, Status: progress.StatusRunning}))
	m.Update(UpdateMsg(batch.Update{Index: 3, Err: errors.New("exit status 2"), Total: 10, Completed: 2, Success: 1, Failed: 1, Status: progress.StatusRunning}))

	assert.Equal(t, 2, m.completed)
	assert.Equal(t, 1, m.success)
	assert.Equal(t, 1, m.failed)
	assert.InDelta(t, 0.2, m.Fraction(), 1e-9)
	require.Len(t, m.logMessages, 1)
	assert.Equal(t, "ERROR", m.logMessages[0].Level)
	assert.Contains(t, m.logMessages[0].Message, "item 3: exit status 2")
}

func TestRateAndETA(t *testing.T) {
	m := newTestModel(nil)
	assert.Zero(t, m.ETA())

	m.SetResumed(2, 2, 0)
	m.ApplyUpdate(batch.Update{Total: 10, Completed: 6, Success: 6})

	// four new items in two minutes
	assert.InDelta(t, 2.0, m.Rate(), 1e-9)
	assert.Equal(t, 2*time.Minute, m.ETA())
}

func TestPauseKeyTogglesRunner(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl)

	m.Update(key("p"))
	assert.True(t, m.Paused())
	assert.Equal(t, progress.StatusPaused, m.status)
	assert.Equal(t, 1, ctrl.pauses)

	m.Update(key("p"))
	assert.False(t, m.Paused())
	assert.Equal(t, 1, ctrl.resumes)
}

func TestQuitKeyCancelsOnce(t *testing.T) {
	ctrl := &fakeController{}
	m := newTestModel(ctrl)

	_, cmd := m.Update(key("q"))
	assert.Nil(t, cmd)
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, ctrl.cancels)

	// pausing is ignored once cancelling
	m.Update(key("p"))
	assert.Zero(t, ctrl.pauses)
}

func TestDoneQuits(t *testing.T) {
	m := newTestModel(&fakeController{})

	state := progress.New(10)
	state.Completed, state.Success, state.Failed = 7, 7, 0
	state.Skipped = 3
	state.Status = progress.StatusCancelled

	_, cmd := m.Update(DoneMsg{State: *state})
	require.NotNil(t, cmd)
	assert.True(t, m.Done())
	assert.Equal(t, progress.StatusCancelled, m.status)
	assert.Equal(t, 7, m.completed)

	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.Contains(t, m.View(), "Not run:")
}

func TestMemorySample(t *testing.T) {
	m := newTestModel(nil)

	m.Update(MemoryMsg(320))
	assert.Equal(t, 320.0, m.memoryMB)

	m.Update(MemoryMsg(memory.Unknown))
	assert.Equal(t, 320.0, m.memoryMB)
}

func TestView(t *testing.T) {
	m := newTestModel(nil)
	assert.Equal(t, "Initializing...", m.View())

	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m.ApplyUpdate(batch.Update{Total: 10, Completed: 4, Success: 4, Status: progress.StatusRunning})
	m.AddLogMessage("INFO", "started")

	view := m.View()
	assert.Contains(t, view, "nightly")
	assert.Contains(t, view, "4/10")
	assert.Contains(t, view, "started")
}

func TestLogMessagesAreBounded(t *testing.T) {
	m := newTestModel(nil)
	for i := 0; i < 60; i++ {
		m.AddLogMessage("INFO", "line")
	}
	assert.Len(t, m.logMessages, 50)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Empty(t, m.logMessages)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:45", formatDuration(45*time.Second))
	assert.Equal(t, "02:05", formatDuration(2*time.Minute+5*time.Second))
	assert.Equal(t, "01:01:01", formatDuration(time.Hour+time.Minute+time.Second))
	assert.Equal(t, "00:00", formatDuration(-time.Second))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
