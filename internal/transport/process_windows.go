//go:build windows

package transport

import (
	"fmt"
	"os/exec"
	"strconv"
)

func newProcessGroup(*exec.Cmd) {}

// killProcessTree terminates the child and its descendants through taskkill
func killProcessTree(cmd *exec.Cmd) error {
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("taskkill %d: %w", cmd.Process.Pid, err)
	}
	return nil
}
