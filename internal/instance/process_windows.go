//go:build windows

package instance

import (
	"os"

	"golang.org/x/sys/windows"
)

// IsProcessRunning checks if a process with the given PID is running.
// FindProcess always succeeds on Windows, so the process must actually be
// opened to know.
func IsProcessRunning(pid int) (bool, error) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false, nil
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return true, nil
	}
	return code == 259, nil // STILL_ACTIVE
}

// KillProcess terminates a process by PID
func KillProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}
