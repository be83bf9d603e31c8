package infra

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Run(name string, args ...string) error
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

// Run executes a command and waits for it to complete
func (r *RealCommandRunner) Run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// DesktopNotifier implements domain.Notifier with the platform notification tool:
// osascript on macOS, notify-send elsewhere.
type DesktopNotifier struct {
	goos      string
	cmdRunner CommandRunner
	logger    *zap.Logger
}

// NewDesktopNotifier creates a notifier for the current platform.
func NewDesktopNotifier(logger *zap.Logger) *DesktopNotifier {
	return NewDesktopNotifierWithDeps(runtime.GOOS, &RealCommandRunner{}, logger)
}

// NewDesktopNotifierWithDeps creates a notifier with injectable dependencies (for testing)
func NewDesktopNotifierWithDeps(goos string, cmdRunner CommandRunner, logger *zap.Logger) *DesktopNotifier {
	return &DesktopNotifier{
		goos:      goos,
		cmdRunner: cmdRunner,
		logger:    logger,
	}
}

// Notify shows a notification with title and message.
func (n *DesktopNotifier) Notify(title, message string) error {
	var err error
	switch n.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s",
			appleScriptString(message), appleScriptString(title))
		err = n.cmdRunner.Run("osascript", "-e", script)
	case "linux", "freebsd", "openbsd":
		err = n.cmdRunner.Run("notify-send", "--app-name=sitemon", title, message)
	default:
		return fmt.Errorf("notifications not supported on %s", n.goos)
	}

	if err != nil {
		n.logger.Warn("failed to show notification", zap.String("title", title), zap.Error(err))
		return fmt.Errorf("failed to show notification: %w", err)
	}
	n.logger.Debug("notification shown", zap.String("title", title))
	return nil
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

var _ domain.Notifier = (*DesktopNotifier)(nil)
