package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as user with LaunchAgent (no sudo required)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with LaunchDaemon (sudo required)
	ExecModeSystem ExecMode = "system"
)

// DataDirEnv overrides the data directory (tests, portable installs).
const DataDirEnv = "SITEMON_HOME"

// LaunchdLabel is the plist label for the daemon.
const LaunchdLabel = "com.focusd.sitemon"

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	BinaryPath string // Where the binary should be installed
	PlistDir   string // Where the plist file goes
	PlistPath  string // Full path to plist file
	DataDir    string // State database, key, config, badge, registry and logs
	IsRoot     bool   // Whether running as root
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	var cfg *ExecModeConfig
	if os.Geteuid() == 0 {
		cfg = &ExecModeConfig{
			Mode:       ExecModeSystem,
			BinaryPath: "/usr/local/bin/sitemon",
			PlistDir:   "/Library/LaunchDaemons",
			PlistPath:  "/Library/LaunchDaemons/" + LaunchdLabel + ".plist",
			DataDir:    "/var/lib/sitemon",
			IsRoot:     true,
		}
	} else {
		home, _ := os.UserHomeDir()
		cfg = userModeConfig(home)
	}

	if dir := os.Getenv(DataDirEnv); dir != "" {
		cfg.DataDir = dir
	}
	return cfg
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (LaunchDaemon, root)"
	case ExecModeUser:
		return "user (LaunchAgent, non-root)"
	default:
		return "unknown"
	}
}

// GetUserModeConfig returns user mode config regardless of current euid.
// Used when running with sudo but wanting to install in user mode (--mode user).
func GetUserModeConfig() *ExecModeConfig {
	cfg := userModeConfig(GetRealUserHome())
	cfg.IsRoot = os.Geteuid() == 0
	if dir := os.Getenv(DataDirEnv); dir != "" {
		cfg.DataDir = dir
	}
	return cfg
}

func userModeConfig(home string) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		BinaryPath: filepath.Join(home, ".local", "bin", "sitemon"),
		PlistDir:   filepath.Join(home, "Library", "LaunchAgents"),
		PlistPath:  filepath.Join(home, "Library", "LaunchAgents", LaunchdLabel+".plist"),
		DataDir:    filepath.Join(home, ".sitemon"),
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /var/root, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
