package controller

import (
	"context"

	"github.com/cuemby/pqhost/pkg/config"
	"github.com/cuemby/pqhost/pkg/supervisor"
)

// configurable is implemented by supervisors whose timing can change at runtime.
type configurable interface {
	Config() supervisor.Config
	SetConfig(supervisor.Config)
}

// Watch applies configuration changes until ctx ends. A new worker location
// starts a connection cycle with takeover; timing changes take effect on the
// next cycle. Each hook sees every applied change.
func (c *Controller) Watch(ctx context.Context, p config.Provider, hooks ...func(config.Settings)) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-p.Changes():
			if !ok {
				return
			}
			for _, h := range hooks {
				h(s)
			}
			c.apply(s)
		}
	}
}

func (c *Controller) apply(s config.Settings) {
	c.SetConfig(ConfigFromSettings(s))
	if sc, ok := c.sup.(configurable); ok {
		cfg := sc.Config()
		cfg.Name = s.WorkerName
		cfg.PollInterval = s.Timing.PollInterval.Std()
		cfg.PollRounds = s.Timing.PollRounds
		sc.SetConfig(cfg)
	}

	if s.Location == "" || s.Location == c.target() {
		return
	}
	c.logger.Info().Str("worker_location", s.Location).Msg("Worker location changed")
	if err := c.Connect(s.Location); err != nil {
		c.logger.Warn().Err(err).Msg("Cannot apply new worker location")
	}
}
