package ui

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"

	"batchrun/pkg/config"
	"batchrun/pkg/progress"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		$template = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
		$text = $template.GetElementsByTagName("text")
		$text.Item(0).AppendChild($template.CreateTextNode('%s')) | Out-Null
		$text.Item(1).AppendChild($template.CreateTextNode('%s')) | Out-Null
		$toast = [Windows.UI.Notifications.ToastNotification]::new($template)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("batchrun").Show($toast)
	`, psQuote(title), psQuote(message))

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// PlatformSender returns the sender for the current OS, or nil where desktop
// notifications are not supported
func PlatformSender() NotificationSender {
	switch runtime.GOOS {
	case "linux":
		return &LinuxNotificationSender{}
	case "darwin":
		return &MacOSNotificationSender{}
	case "windows":
		return &WindowsNotificationSender{}
	default:
		return nil
	}
}

// Notifier announces finished batches. NotificationType "terminal" prints to
// out, "desktop" also uses sender, and "none" or Enabled=false stays silent.
type Notifier struct {
	cfg    config.NotificationConfig
	sender NotificationSender
	out    io.Writer
}

// NewNotifier creates a notifier
func NewNotifier(cfg config.NotificationConfig, sender NotificationSender, out io.Writer) *Notifier {
	kind := strings.ToLower(cfg.NotificationType)
	if !cfg.Enabled || kind == "none" {
		out = io.Discard
		sender = nil
	}
	if kind != "desktop" {
		sender = nil
	}
	return &Notifier{cfg: cfg, sender: sender, out: out}
}

// SendNotification prints to the console and sends a desktop notification
func (n *Notifier) SendNotification(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Cyan(title), Yellow(message))
	n.send(title, message)
}

// SendError sends an error notification
func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}

// SendSuccess sends a success notification
func (n *Notifier) SendSuccess(title, message string) {
	fmt.Fprintf(n.out, "\n%s: %s\n", Green(title), Green(message))
	n.send(title, message)
}

func (n *Notifier) send(title, message string) {
	if n.sender == nil {
		return
	}
	// desktop notifications are best effort
	_ = n.sender.Send(title, message)
}

// BatchFinished announces the outcome of a batch according to the
// OnComplete and OnError settings
func (n *Notifier) BatchFinished(name string, state progress.State) {
	title := "batchrun: " + name
	switch {
	case state.Status == progress.StatusCancelled:
		if n.cfg.OnError {
			n.SendError(title, fmt.Sprintf("cancelled after %d of %d items", state.Completed, state.Total))
		}
	case state.Status == progress.StatusFailed:
		if n.cfg.OnError {
			n.SendError(title, "batch failed to start")
		}
	case state.Failed > 0:
		if n.cfg.OnError {
			n.SendError(title, fmt.Sprintf("%d of %d items failed", state.Failed, state.Total))
		}
	default:
		if n.cfg.OnComplete {
			n.SendSuccess(title, fmt.Sprintf("all %d items done", state.Total))
		}
	}
}
