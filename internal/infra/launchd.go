package infra

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// plistTemplate renders a LaunchAgent (user) or, with .System, a
// LaunchDaemon (root) that runs "sitemon daemon" at load.
var plistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>daemon</string>
    </array>
    <key>EnvironmentVariables</key>
    <dict>
        <key>{{.DataDirEnv}}</key>
        <string>{{.DataDir}}</string>
    </dict>
    <key>RunAtLoad</key>
    <true/>
{{- if .System}}
    <key>KeepAlive</key>
    <true/>
{{- else}}
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ProcessType</key>
    <string>Interactive</string>
{{- end}}
    <key>StandardOutPath</key>
    <string>{{.StdoutPath}}</string>
    <key>StandardErrorPath</key>
    <string>{{.StderrPath}}</string>
    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`))

type plistData struct {
	Label          string
	ExecutablePath string
	DataDirEnv     string
	DataDir        string
	StdoutPath     string
	StderrPath     string
	System         bool
}

// LaunchdManagerImpl implements domain.LaunchAgentManager for both modes.
type LaunchdManagerImpl struct {
	mode      ExecMode
	plistDir  string
	plistPath string
	dataDir   string
	uid       int
	cmdRunner CommandRunner
}

// NewLaunchdManager creates a launchd manager based on execution mode.
func NewLaunchdManager(config *ExecModeConfig) *LaunchdManagerImpl {
	return NewLaunchdManagerWithRunner(config, &RealCommandRunner{})
}

// NewLaunchdManagerWithRunner creates a launchd manager with an injectable
// command runner (for testing).
func NewLaunchdManagerWithRunner(config *ExecModeConfig, runner CommandRunner) *LaunchdManagerImpl {
	return &LaunchdManagerImpl{
		mode:      config.Mode,
		plistDir:  config.PlistDir,
		plistPath: config.PlistPath,
		dataDir:   config.DataDir,
		uid:       os.Getuid(),
		cmdRunner: runner,
	}
}

// render returns the plist for execPath.
func (m *LaunchdManagerImpl) render(execPath string) ([]byte, error) {
	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, plistData{
		Label:          LaunchdLabel,
		ExecutablePath: execPath,
		DataDirEnv:     DataDirEnv,
		DataDir:        m.dataDir,
		StdoutPath:     filepath.Join(m.dataDir, "launchd.out.log"),
		StderrPath:     filepath.Join(m.dataDir, "launchd.err.log"),
		System:         m.mode == ExecModeSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render plist: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the plist and bootstraps it into launchd, which starts the
// daemon. An already loaded service is booted out first.
func (m *LaunchdManagerImpl) Install(execPath string) error {
	content, err := m.render(execPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return fmt.Errorf("failed to create plist dir: %w", err)
	}
	if err := os.MkdirAll(m.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	if m.IsInstalled() {
		_ = m.bootout()
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write plist: %w", err)
	}
	return m.bootstrap()
}

// Uninstall stops the service and removes the plist.
func (m *LaunchdManagerImpl) Uninstall() error {
	_ = m.bootout()

	if err := os.Remove(m.plistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks if plist is installed.
func (m *LaunchdManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate reports whether the installed plist differs from the one
// execPath would get. A missing plist needs no update, only an install.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath string) bool {
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return !os.IsNotExist(err)
	}
	expected, err := m.render(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// GetPlistPath returns the plist file path.
func (m *LaunchdManagerImpl) GetPlistPath() string {
	return m.plistPath
}

// serviceDomain is the launchd domain: "system" for a LaunchDaemon,
// the user's GUI session for a LaunchAgent.
func (m *LaunchdManagerImpl) serviceDomain() string {
	if m.mode == ExecModeSystem {
		return "system"
	}
	return "gui/" + strconv.Itoa(m.uid)
}

func (m *LaunchdManagerImpl) bootstrap() error {
	if err := m.cmdRunner.Run("launchctl", "bootstrap", m.serviceDomain(), m.plistPath); err != nil {
		return fmt.Errorf("launchctl bootstrap failed: %w", err)
	}
	return nil
}

func (m *LaunchdManagerImpl) bootout() error {
	return m.cmdRunner.Run("launchctl", "bootout", m.serviceDomain()+"/"+LaunchdLabel)
}

// Ensure LaunchdManagerImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchdManagerImpl)(nil)
