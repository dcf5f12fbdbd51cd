package health

import (
	"context"
	"time"
)

// PingFunc performs one round trip against the worker.
type PingFunc func(ctx context.Context) error

// PingChecker turns a request round trip into a health check.
type PingChecker struct {
	ping PingFunc
}

// NewPingChecker wraps fn
func NewPingChecker(fn PingFunc) *PingChecker {
	return &PingChecker{ping: fn}
}

func (p *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()
	return newResult("ping", start, p.ping(ctx), "ping acknowledged")
}

func (p *PingChecker) Type() CheckType { return CheckTypePing }
