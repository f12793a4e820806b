//go:build !windows

package instance

import (
	"os"
	"syscall"
)

// IsProcessRunning checks if a process with the given PID is running
func IsProcessRunning(pid int) (bool, error) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	// Signal 0 probes existence without delivering anything
	err = process.Signal(syscall.Signal(0))
	return err == nil, nil
}

// KillProcess terminates a process by PID
func KillProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}
