package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	errNoProcess  = errors.New("no such process")
	errInvalidPID = errors.New("invalid pid")
)

// ProcessChecker reports whether a process with the given id exists.
//
// Only existence is checked, not identity: a pid recycled by an unrelated
// process reads as alive.
type ProcessChecker struct {
	PID int
}

// NewProcessChecker creates a liveness checker for pid
func NewProcessChecker(pid int) *ProcessChecker {
	return &ProcessChecker{PID: pid}
}

func (p *ProcessChecker) Check(_ context.Context) Result {
	start := time.Now()
	target := fmt.Sprintf("pid %d", p.PID)

	var err error
	switch {
	case p.PID <= 0:
		err = errInvalidPID
	case !ProcessAlive(p.PID):
		err = errNoProcess
	}
	return newResult(target, start, err, "process running")
}

func (p *ProcessChecker) Type() CheckType { return CheckTypeProcess }
