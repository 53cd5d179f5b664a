// Package notify surfaces terminal run outcomes on the desktop. Delivery
// is best effort; a missing notification daemon never fails a run.
package notify

import (
	"context"
	"runtime"
	"strings"
	"time"

	"autodev/internal/shell"
)

// DesktopNotifier sends native desktop notifications on Linux and macOS.
// Other platforms get a silent no-op.
type DesktopNotifier struct {
	runner *shell.Runner
}

// NewDesktopNotifier creates a notifier backed by the platform's
// notification command.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		runner: &shell.Runner{
			Allowed:        map[string]bool{"notify-send": true, "osascript": true},
			DefaultTimeout: 5 * time.Second,
		},
	}
}

// Notify sends one notification.
func (d *DesktopNotifier) Notify(title, message string) error {
	ctx := context.Background()
	switch runtime.GOOS {
	case "linux":
		_, err := d.runner.Run(ctx, shell.Spec{
			Binary: "notify-send",
			Args:   []string{"--app-name=autodev", title, message},
		})
		return err
	case "darwin":
		script := `display notification "` + escapeAppleScript(message) + `" with title "` + escapeAppleScript(title) + `"`
		_, err := d.runner.Run(ctx, shell.Spec{
			Binary: "osascript",
			Args:   []string{"-e", script},
		})
		return err
	default:
		return nil
	}
}

// escapeAppleScript escapes the two characters that break an AppleScript
// string literal.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
