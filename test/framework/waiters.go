package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/pqhost/pkg/events"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a new Waiter with the given timeout and polling interval
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{
		timeout:  timeout,
		interval: interval,
	}
}

// DefaultWaiter returns a waiter for local fake workers (5s timeout, 5ms interval)
func DefaultWaiter() *Waiter {
	return NewWaiter(5*time.Second, 5*time.Millisecond)
}

// WaitFor waits for a condition to become true
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := PollUntil(ctx, w.interval, condition); err != nil {
		return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
	}
	return nil
}

// StateSource reports a connection state by name
type StateSource interface {
	StateCode() (int, string)
}

// WaitForState waits until src reports the named state
func (w *Waiter) WaitForState(ctx context.Context, src StateSource, state string) error {
	return w.WaitFor(ctx, func() bool {
		_, name := src.StateCode()
		return name == state
	}, fmt.Sprintf("state %s", state))
}

// WaitForEvent reads sub until an event of type typ arrives
func (w *Waiter) WaitForEvent(ctx context.Context, sub events.Subscriber, typ events.EventType) (*events.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return nil, fmt.Errorf("subscription closed waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for event %s (timeout: %v)", typ, w.timeout)
		}
	}
}

// WaitForRequests waits until the worker received at least n requests for method
func (w *Waiter) WaitForRequests(ctx context.Context, worker *FakeWorker, method string, n int) error {
	return w.WaitFor(ctx, func() bool {
		return worker.RequestCount(method) >= n
	}, fmt.Sprintf("%d %s requests", n, method))
}

// WaitForWorkerClosed waits until the worker shut down
func (w *Waiter) WaitForWorkerClosed(ctx context.Context, worker *FakeWorker) error {
	return w.WaitFor(ctx, worker.Closed, fmt.Sprintf("worker %s to shut down", worker.Dir))
}

// PollUntil checks condition immediately and then every interval until it
// returns true or ctx ends.
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	if condition() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
