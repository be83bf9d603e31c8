package domain

import (
	"context"
	"encoding/json"
	"time"
)

// StateStore is a key/value store for persisted state.
// Implementation: SQLCipher encrypted SQLite database.
type StateStore interface {
	// Get returns the raw JSON values of the requested keys.
	// Keys that were never set are absent from the result.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)

	// Set writes every entry of values in one transaction.
	Set(ctx context.Context, values map[string]any) error
}

// RulePersister saves the installed dynamic rules so they survive restarts.
type RulePersister interface {
	LoadRules(ctx context.Context) ([]Rule, error)
	ReplaceRules(ctx context.Context, rules []Rule) error
}

// RuleEngine is the declarative request-filtering engine.
type RuleEngine interface {
	// GetDynamicRules returns all currently installed dynamic rules.
	GetDynamicRules(ctx context.Context) ([]Rule, error)

	// UpdateDynamicRules removes and adds rules atomically.
	UpdateDynamicRules(ctx context.Context, update RuleUpdate) error
}

// AlarmScheduler manages named one-shot wake-ups.
// Alarms live in memory only and do not survive a process restart.
type AlarmScheduler interface {
	// Create schedules name to fire at when, replacing any alarm with the same name.
	Create(name string, when time.Time)

	// Clear cancels the named alarm and reports whether one existed.
	Clear(name string) bool
}

// Indicator renders the badge.
type Indicator interface {
	SetBadge(badge Badge) error
}

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(title, message string) error
}

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

// ProcessManager handles OS process checks.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry records the running daemon so the CLI can find it.
type DaemonRegistry interface {
	// Register saves the daemon's PID and control address.
	Register(info DaemonInfo) error

	// Get returns the registered daemon, or nil if none.
	Get() (*DaemonInfo, error)

	// IsAlive checks if the registered daemon is still running.
	IsAlive() bool

	// Clear removes the registration.
	Clear() error

	// GetRegistryPath returns the registry file path (for tests).
	GetRegistryPath() string
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// LaunchAgentManager handles macOS LaunchAgent plist operations.
type LaunchAgentManager interface {
	// Install creates and loads the plist.
	Install(execPath string) error

	// Uninstall unloads and removes the plist.
	Uninstall() error

	// IsInstalled checks if the plist is installed.
	IsInstalled() bool

	// GetPlistPath returns the plist file path.
	GetPlistPath() string
}
