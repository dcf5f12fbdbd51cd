package health

import (
	"context"
	"fmt"
	"time"
)

// CheckType names what a checker probes
type CheckType string

const (
	CheckTypePort    CheckType = "port"
	CheckTypeProcess CheckType = "process"
	CheckTypePing    CheckType = "ping"
)

// Result is the outcome of one probe
type Result struct {
	Healthy   bool
	Target    string
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one aspect of a worker
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// newResult builds a Result for target from the probe error.
func newResult(target string, start time.Time, err error, okMsg string) Result {
	r := Result{
		Healthy:   err == nil,
		Target:    target,
		Message:   okMsg,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		r.Message = fmt.Sprintf("%s: %v", target, err)
	}
	return r
}

// Policy says how often to probe and when to give up on a worker.
type Policy struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Threshold consecutive failures mark the worker unhealthy
	Threshold int
}

// DefaultPolicy is the heartbeat default: a ping roughly every two seconds,
// each allowed one interval, three misses in a row.
func DefaultPolicy() Policy {
	return Policy{
		Interval:  1950 * time.Millisecond,
		Timeout:   1950 * time.Millisecond,
		Threshold: 3,
	}
}

// Tracker counts consecutive failures against a Policy. A fresh tracker is
// healthy; any success makes it healthy again.
type Tracker struct {
	policy   Policy
	failures int
	tripped  bool
}

// NewTracker creates a healthy tracker
func NewTracker(p Policy) *Tracker {
	if p.Threshold <= 0 {
		p.Threshold = 1
	}
	return &Tracker{policy: p}
}

// Record adds a result and reports whether it is the one that turned the
// tracker unhealthy.
func (t *Tracker) Record(r Result) bool {
	if r.Healthy {
		t.failures = 0
		t.tripped = false
		return false
	}
	t.failures++
	if t.tripped || t.failures < t.policy.Threshold {
		return false
	}
	t.tripped = true
	return true
}

// Failures returns the current run of consecutive failures
func (t *Tracker) Failures() int { return t.failures }
