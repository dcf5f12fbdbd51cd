package controller

import (
	"time"

	"github.com/cuemby/pqhost/pkg/config"
	"github.com/cuemby/pqhost/pkg/health"
)

// Config holds the controller's timing. Supervision timing lives in the
// supervisor.
type Config struct {
	// WorkerName is the lock file base name, used to journal the worker pid
	WorkerName string

	// HeartbeatInterval is the time between pings, also the per-ping timeout
	HeartbeatInterval time.Duration

	// HeartbeatFailures consecutive failed pings drop the connection
	HeartbeatFailures int

	// ReconnectDelay is the wait before each reconnect attempt
	ReconnectDelay time.Duration

	// MaxRetries is the number of automatic reconnect attempts
	MaxRetries int

	// ShutdownTimeout bounds the shutdown request sent on takeover
	ShutdownTimeout time.Duration

	// Transport labels journal records
	Transport string
}

// DefaultConfig returns the default timing.
func DefaultConfig() Config {
	hb := health.DefaultPolicy()
	return Config{
		WorkerName:        "PQServiceHost",
		HeartbeatInterval: hb.Interval,
		HeartbeatFailures: hb.Threshold,
		ReconnectDelay:    750 * time.Millisecond,
		MaxRetries:        5,
		ShutdownTimeout:   2 * time.Second,
		Transport:         "tcp",
	}
}

// ConfigFromSettings maps loaded settings onto a Config.
func ConfigFromSettings(s config.Settings) Config {
	cfg := DefaultConfig()
	if s.WorkerName != "" {
		cfg.WorkerName = s.WorkerName
	}
	if s.Transport != "" {
		cfg.Transport = s.Transport
	}
	cfg.HeartbeatInterval = s.Timing.HeartbeatInterval.Std()
	cfg.HeartbeatFailures = s.Timing.HeartbeatFailures
	cfg.ReconnectDelay = s.Timing.ReconnectDelay.Std()
	cfg.MaxRetries = s.Timing.MaxRetries
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WorkerName == "" {
		c.WorkerName = def.WorkerName
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatFailures <= 0 {
		c.HeartbeatFailures = def.HeartbeatFailures
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}
