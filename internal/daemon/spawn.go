package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/site_mon/internal/infra"
)

// StartDetached spawns "<binary> daemon" in a new session so it outlives the
// calling shell. An empty binary means the running executable.
func StartDetached(binary, dataDir string) (int, error) {
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return 0, err
		}
		binary = exe
	}

	cmd := daemonCommand(binary, dataDir)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// The child is not waited on; release it so it is not left as our zombie.
	_ = cmd.Process.Release()
	return pid, nil
}

func daemonCommand(binary, dataDir string) *exec.Cmd {
	cmd := exec.Command(binary, "daemon")
	cmd.Env = append(os.Environ(), infra.DataDirEnv+"="+dataDir)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// No stdin/stdout/stderr - the daemon logs to its data dir
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd
}
