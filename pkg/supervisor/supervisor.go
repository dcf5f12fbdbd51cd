package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/cuemby/pqhost/pkg/health"
	"github.com/cuemby/pqhost/pkg/lockfile"
	"github.com/cuemby/pqhost/pkg/log"
	"github.com/cuemby/pqhost/pkg/metrics"
	"github.com/cuemby/pqhost/pkg/protocol"
	"github.com/rs/zerolog"
)

// DefaultName is the base name of the worker executable and its lock files.
const DefaultName = "PQServiceHost"

// Config controls how long the supervisor waits for a worker to publish a
// usable port.
type Config struct {
	// Name is the executable base name, also used for <Name>.pid and <Name>.port
	Name string

	// PollInterval is the delay between port polling rounds
	PollInterval time.Duration

	// PollRounds is the number of port polling rounds before giving up
	PollRounds int

	// ProbeTimeout bounds each connect probe against the advertised port
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default supervision timing.
func DefaultConfig() Config {
	return Config{
		Name:         DefaultName,
		PollInterval: 895 * time.Millisecond,
		PollRounds:   5,
		ProbeTimeout: 500 * time.Millisecond,
	}
}

// SupervisionError is returned when no verified worker endpoint was found.
type SupervisionError struct {
	Location string
	Rounds   int
	Err      error
}

func (e *SupervisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker at %s not started: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("worker at %s not listening after %d rounds", e.Location, e.Rounds)
}

// Unwrap exposes both the exhaustion sentinel and the underlying cause.
func (e *SupervisionError) Unwrap() []error {
	if e.Err != nil {
		return []error{protocol.ErrSupervisionExhausted, e.Err}
	}
	return []error{protocol.ErrSupervisionExhausted}
}

// Supervisor makes sure a worker process runs for a location and finds the
// port it listens on. It keeps no state between calls; serializing callers is
// up to the caller.
type Supervisor struct {
	mu      sync.RWMutex
	cfg     Config
	spawner Spawner
	logger  zerolog.Logger

	// probes, replaceable in tests
	alive func(pid int) bool
	probe func(ctx context.Context, port int) bool
}

// New creates a supervisor. A nil spawner starts the real executable.
func New(cfg Config, spawner Spawner) *Supervisor {
	if spawner == nil {
		spawner = &ExecSpawner{}
	}

	s := &Supervisor{
		cfg:     withDefaults(cfg),
		spawner: spawner,
		logger:  log.WithComponent("supervisor"),
	}
	s.alive = func(pid int) bool {
		return health.NewProcessChecker(pid).Check(context.Background()).Healthy
	}
	s.probe = func(ctx context.Context, port int) bool {
		return health.NewPortChecker(port).WithTimeout(s.Config().ProbeTimeout).Check(ctx).Healthy
	}
	return s
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollRounds <= 0 {
		cfg.PollRounds = def.PollRounds
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	return cfg
}

// WithLogger replaces the supervisor's logger.
func (s *Supervisor) WithLogger(logger zerolog.Logger) *Supervisor {
	s.logger = logger
	return s
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig replaces the configuration; calls already polling keep the old one.
func (s *Supervisor) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = withDefaults(cfg)
}

// Executable returns the worker executable path for location.
func (s *Supervisor) Executable(location string) string {
	name := s.Config().Name
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(location, name)
}

// Artifacts returns the lock files for location.
func (s *Supervisor) Artifacts(location string) lockfile.Artifacts {
	return lockfile.New(location, s.Config().Name)
}

// EnsureWorkerRunning starts the worker at location unless its pid file names
// a live process, then polls the port file until the advertised port accepts
// connections. Both lock values are treated as possibly stale.
func (s *Supervisor) EnsureWorkerRunning(ctx context.Context, location string) (int, error) {
	cfg := s.Config()
	logger := s.logger.With().Str("worker_location", location).Logger()
	artifacts := lockfile.New(location, cfg.Name)

	spawnedPID := 0
	if pid, ok := artifacts.PID(); ok && s.alive(pid) {
		logger.Debug().Int("pid", pid).Msg("Worker process already running")
	} else {
		exe := s.Executable(location)
		logger.Info().Str("executable", exe).Msg("Starting worker process")

		pid, err := s.spawner.Spawn(ctx, Command{Path: exe, Dir: location})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to start worker process")
			return 0, &SupervisionError{Location: location, Err: err}
		}
		metrics.WorkerSpawnsTotal.Inc()
		spawnedPID = pid
		logger.Info().Int("pid", pid).Msg("Worker process started")
	}

	for round := 1; round <= cfg.PollRounds; round++ {
		if round > 1 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(cfg.PollInterval):
			}
		}

		port, ok := s.checkRound(ctx, artifacts, spawnedPID)
		if ok {
			metrics.SupervisionRounds.Observe(float64(round))
			logger.Info().Int("port", port).Int("round", round).Msg("Worker endpoint verified")
			return port, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		logger.Debug().Int("round", round).Msg("Worker endpoint not ready")
	}

	metrics.SupervisionRounds.Observe(float64(cfg.PollRounds))
	logger.Warn().Int("rounds", cfg.PollRounds).Msg("Worker endpoint never became reachable")
	return 0, &SupervisionError{Location: location, Rounds: cfg.PollRounds}
}

// checkRound verifies the process and the port for one polling round.
func (s *Supervisor) checkRound(ctx context.Context, artifacts lockfile.Artifacts, spawnedPID int) (int, bool) {
	pidOK := spawnedPID > 0 && s.alive(spawnedPID)
	if !pidOK {
		if pid, ok := artifacts.PID(); ok && s.alive(pid) {
			pidOK = true
		}
	}
	if !pidOK {
		return 0, false
	}

	port, ok := artifacts.Port()
	if !ok {
		return 0, false
	}
	return port, s.probe(ctx, port)
}
