//go:build unix

package transport

import (
	"fmt"
	"os/exec"
	"syscall"
)

// newProcessGroup starts the child in its own process group so launchers
// like npx or uvx are stopped together with the servers they spawn.
func newProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessTree(cmd *exec.Cmd) error {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("failed to get process group of %d: %w", cmd.Process.Pid, err)
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("failed to kill process group %d: %w", pgid, err)
	}
	return nil
}
