package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// livePIDs is a domain.ProcessManager where only listed PIDs are running.
type livePIDs map[int]bool

func (l livePIDs) IsRunning(pid int) bool { return l[pid] }
func (l livePIDs) GetCurrentPID() int     { return os.Getpid() }

var _ domain.ProcessManager = livePIDs(nil)

func TestFileRegistry_RegisterAndGet(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "daemon.json")
	registry := NewFileRegistryWithPath(registryPath, livePIDs{})

	info := domain.DaemonInfo{
		PID:         12345,
		StartedAt:   time.Now().Unix(),
		ControlAddr: "127.0.0.1:47820",
		AppVersion:  "v1.2.3",
	}
	if err := registry.Register(info); err != nil {
		t.Fatalf("failed to register daemon: %v", err)
	}

	got, err := registry.Get()
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got == nil {
		t.Fatal("expected registered daemon, got nil")
	}
	if got.PID != 12345 {
		t.Errorf("expected PID 12345, got %d", got.PID)
	}
	if got.ControlAddr != "127.0.0.1:47820" {
		t.Errorf("expected control addr 127.0.0.1:47820, got %s", got.ControlAddr)
	}
	if got.AppVersion != "v1.2.3" {
		t.Errorf("expected app version v1.2.3, got %s", got.AppVersion)
	}
	if got.Mode != string(ExecModeUser) && got.Mode != string(ExecModeSystem) {
		t.Errorf("expected mode to be detected, got %q", got.Mode)
	}

	// Registry holds addresses only, keep it private.
	stat, err := os.Stat(registryPath)
	if err != nil {
		t.Fatalf("failed to stat registry: %v", err)
	}
	if stat.Mode().Perm() != 0600 {
		t.Errorf("expected permissions 0600, got %o", stat.Mode().Perm())
	}
}

func TestFileRegistry_GetEmpty(t *testing.T) {
	registry := NewFileRegistry(t.TempDir(), livePIDs{})

	got, err := registry.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for empty registry, got %+v", got)
	}
}

func TestFileRegistry_IsAlive(t *testing.T) {
	pm := livePIDs{}
	registry := NewFileRegistry(t.TempDir(), pm)

	if registry.IsAlive() {
		t.Error("empty registry must not be alive")
	}

	if err := registry.Register(domain.DaemonInfo{PID: 4242, ControlAddr: "127.0.0.1:1"}); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if registry.IsAlive() {
		t.Error("daemon with dead PID must not be alive")
	}

	pm[4242] = true
	if !registry.IsAlive() {
		t.Error("daemon with running PID must be alive")
	}
}

func TestFileRegistry_RegisterOverwrites(t *testing.T) {
	registry := NewFileRegistry(t.TempDir(), livePIDs{})

	_ = registry.Register(domain.DaemonInfo{PID: 1, ControlAddr: "127.0.0.1:1"})
	_ = registry.Register(domain.DaemonInfo{PID: 2, ControlAddr: "127.0.0.1:2"})

	got, err := registry.Get()
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if got.PID != 2 || got.ControlAddr != "127.0.0.1:2" {
		t.Errorf("expected latest registration, got %+v", got)
	}
}

func TestFileRegistry_Clear(t *testing.T) {
	registry := NewFileRegistry(t.TempDir(), livePIDs{})

	if err := registry.Clear(); err != nil {
		t.Errorf("clearing empty registry should succeed, got %v", err)
	}

	_ = registry.Register(domain.DaemonInfo{PID: 1})
	if err := registry.Clear(); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	if _, err := os.Stat(registry.GetRegistryPath()); !os.IsNotExist(err) {
		t.Error("registry file should be removed")
	}
}
