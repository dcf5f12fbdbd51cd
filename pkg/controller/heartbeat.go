package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/pqhost/pkg/health"
	"github.com/cuemby/pqhost/pkg/metrics"
	"github.com/cuemby/pqhost/pkg/protocol"
)

var errHeartbeat = errors.New("heartbeat failed")

// startHeartbeatLocked pings the worker on l every HeartbeatInterval. Each
// ping may take at most one interval; HeartbeatFailures misses in a row drop
// the connection.
func (c *Controller) startHeartbeatLocked(l *link) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.hbCancel = cancel
	c.hbRunning = true

	interval := c.cfg.HeartbeatInterval
	policy := health.Policy{
		Interval:  interval,
		Timeout:   interval,
		Threshold: c.cfg.HeartbeatFailures,
	}
	checker := health.NewPingChecker(func(ctx context.Context) error {
		_, err := l.registry.Issue(ctx, protocol.MethodPing, nil)
		return err
	})

	go c.heartbeatLoop(ctx, l, checker, policy)
}

func (c *Controller) stopHeartbeatLocked() {
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
	c.hbRunning = false
}

func (c *Controller) heartbeatLoop(ctx context.Context, l *link, checker health.Checker, policy health.Policy) {
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()

	tracker := health.NewTracker(policy)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
			result := checker.Check(pingCtx)
			cancel()

			if ctx.Err() != nil {
				return
			}
			tripped := tracker.Record(result)
			if result.Healthy {
				continue
			}

			metrics.HeartbeatFailuresTotal.Inc()
			c.logger.Warn().
				Int("consecutive_failures", tracker.Failures()).
				Str("result", result.Message).
				Msg("Heartbeat failed")
			if tripped {
				c.drop(l.gen, fmt.Errorf("%w: %d consecutive pings missed", errHeartbeat, tracker.Failures()))
				return
			}
		}
	}
}
