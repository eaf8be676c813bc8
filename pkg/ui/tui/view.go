package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"batchrun/pkg/progress"
)

// View renders the entire TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{
		m.renderHeader(),
		m.renderProgressPanel(),
		m.renderStatsPanel(),
		m.renderLogsPanel(),
	}

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("p pause/resume • q cancel • ? help"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderHeader() string {
	indicator := m.spinner.View()
	switch {
	case m.done:
		indicator = successStyle.Render("✓")
	case m.cancelling:
		indicator = warningStyle.Render("■")
	case m.paused:
		indicator = warningStyle.Render("⏸")
	}
	return headerStyle.Render(fmt.Sprintf("%s batchrun • %s", indicator, m.name))
}

func (m *Model) renderProgressPanel() string {
	title := titleStyle.Render(" PROGRESS ")
	counts := fmt.Sprintf("%d/%d (%.1f%%)", m.completed, m.total, m.Fraction()*100)

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.bar.ViewAs(m.Fraction()),
		statsValueStyle.Render(counts),
	)
	return panelStyle.Width(m.panelWidth()).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

func (m *Model) renderStatsPanel() string {
	title := titleStyle.Render(" STATS ")

	eta := "calculating..."
	if d := m.ETA(); d > 0 || m.done {
		eta = formatDuration(d)
	}

	stats := []string{
		stat("Status:", statusStyle(m.status).Render(string(m.status))),
		stat("Elapsed:", statsValueStyle.Render(formatDuration(m.now().Sub(m.startTime)))),
		stat("Succeeded:", successStyle.Render(fmt.Sprintf("%d", m.success))),
		stat("Failed:", failedStyle(m.failed).Render(fmt.Sprintf("%d", m.failed))),
		stat("Rate:", statsValueStyle.Render(fmt.Sprintf("%.1f/min", m.Rate()))),
		stat("ETA:", statsValueStyle.Render(eta)),
		stat("Memory:", m.renderMemory()),
	}
	if m.final != nil && m.final.Skipped > 0 {
		stats = append(stats, stat("Not run:", warningStyle.Render(fmt.Sprintf("%d", m.final.Skipped))))
	}

	return panelStyle.Width(m.panelWidth()).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, stats...)),
	)
}

func (m *Model) renderMemory() string {
	if m.memoryMB <= 0 {
		return statsValueStyle.Render("unknown")
	}
	text := fmt.Sprintf("%.0f MB", m.memoryMB)
	if m.memoryLimitMB > 0 {
		text = fmt.Sprintf("%.0f / %.0f MB", m.memoryMB, m.memoryLimitMB)
	}
	return memoryStyle(m.memoryMB, m.memoryLimitMB).Render(text)
}

// renderLogsPanel shows the newest activity lines that fit
func (m *Model) renderLogsPanel() string {
	title := titleStyle.Render(" ACTIVITY ")
	width := m.panelWidth()

	lines := m.height - 24
	if lines < 3 {
		lines = 3
	}
	start := len(m.logMessages) - lines
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, log := range m.logMessages[start:] {
		timestamp := logTimestampStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, logMessageStyle.Render(truncate(log.Message, width-25))))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = lipgloss.NewStyle().Foreground(dimWhite).Render("No activity yet...")
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

func (m *Model) renderHelp() string {
	help := `
  Keys:
    p/P      - Pause or resume dispatch
    q/Ctrl+C - Cancel the batch (progress is saved)
    Ctrl+L   - Clear the activity panel
    ?        - Toggle this help

  Items already running finish while paused; new ones wait.
`
	return panelStyle.Width(m.panelWidth()).Render(help)
}

func (m *Model) panelWidth() int {
	if m.width < 20 {
		return 20
	}
	return m.width - 2
}

func stat(label, value string) string {
	return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), value)
}

func statusStyle(s progress.Status) lipgloss.Style {
	switch s {
	case progress.StatusCompleted:
		return successStyle
	case progress.StatusPaused, progress.StatusCancelled:
		return warningStyle
	case progress.StatusFailed:
		return errorStyle
	default:
		return statsValueStyle
	}
}

func failedStyle(failed int) lipgloss.Style {
	if failed > 0 {
		return errorStyle
	}
	return statsValueStyle
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// formatDuration formats a duration as mm:ss or hh:mm:ss
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
