//go:build windows

package health

import "os"

// ProcessAlive checks whether a process with the given PID is running.
// On Windows FindProcess opens a handle and fails when the process is gone.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
