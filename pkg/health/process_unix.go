//go:build !windows

package health

import (
	"errors"
	"os"
	"syscall"
)

// ProcessAlive checks whether a process with the given PID is running.
// Signal 0 checks for existence without signaling; EPERM still means the
// process exists but belongs to another user.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
