package framework

import (
	"context"
	"strings"
	"time"
)

// TestingT is an interface matching testing.T
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Helper()
}

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// CallOrder asserts that entries were recorded in log in this relative
// order, each at least once.
func (a *Assertions) CallOrder(log *CallLog, entries ...string) {
	a.t.Helper()

	last := -1
	for _, entry := range entries {
		idx := log.Index(entry)
		if idx < 0 {
			a.t.Fatalf("Call %q never recorded, log:\n  %s", entry, strings.Join(log.Entries(), "\n  "))
		}
		if idx < last {
			a.t.Fatalf("Call %q recorded out of order, log:\n  %s", entry, strings.Join(log.Entries(), "\n  "))
		}
		last = idx
	}
}

// CallCount asserts how often entry was recorded
func (a *Assertions) CallCount(log *CallLog, entry string, expected int) {
	a.t.Helper()

	if got := log.Count(entry); got != expected {
		a.t.Fatalf("Call %q recorded %d times, expected %d", entry, got, expected)
	}
}

// RequestCount asserts how many requests for method a worker received
func (a *Assertions) RequestCount(w *FakeWorker, method string, expected int) {
	a.t.Helper()

	if got := w.RequestCount(method); got != expected {
		a.t.Fatalf("Worker %s received %d %s requests, expected %d", w.Dir, got, method, expected)
	}
}

// Eventually asserts that condition becomes true within timeout
func (a *Assertions) Eventually(condition func() bool, timeout, interval time.Duration, msg string) {
	a.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := PollUntil(ctx, interval, condition); err != nil {
		a.t.Fatalf("Timeout waiting for condition: %s (timeout: %v)", msg, timeout)
	}
}

// Never asserts that condition stays false for the whole duration
func (a *Assertions) Never(condition func() bool, duration, interval time.Duration, msg string) {
	a.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	if err := PollUntil(ctx, interval, condition); err == nil {
		a.t.Fatalf("Condition became true: %s", msg)
	}
}

// NoError asserts that the error is nil
func (a *Assertions) NoError(err error, msg string) {
	a.t.Helper()

	if err != nil {
		a.t.Fatalf("%s: %v", msg, err)
	}
}

// Step logs a test step (for visibility in test output)
func (a *Assertions) Step(step string) {
	a.t.Helper()
	a.t.Logf("\n==> %s", step)
}

// Success logs a success message
func (a *Assertions) Success(msg string) {
	a.t.Helper()
	a.t.Logf("✓ %s", msg)
}
