package metrics

import (
	"time"
)

// StateSource is the view of the connection controller the collector samples.
type StateSource interface {
	// StateCode returns the numeric connection state and its name.
	StateCode() (int, string)
	IsReady() bool
}

// Collector periodically samples the connection controller into the
// state gauge and the health registry.
type Collector struct {
	source   StateSource
	health   *HealthRegistry
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StateSource, health *HealthRegistry, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		source:   source,
		health:   health,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect takes one sample.
func (c *Collector) Collect() {
	code, name := c.source.StateCode()
	ConnectionState.Set(float64(code))
	if c.health != nil {
		c.health.Report(ComponentWorker, c.source.IsReady(), name)
	}
}
