package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Settings is everything pqhost reads from its configuration file.
type Settings struct {
	// Location is the directory holding the worker executable and lock files
	Location string `yaml:"location" toml:"location"`

	// ConnectorPath is the connector file passed to evaluation requests
	ConnectorPath string `yaml:"connector_path" toml:"connector_path"`

	// WorkerName is the executable and lock file base name
	WorkerName string `yaml:"worker_name" toml:"worker_name"`

	// Transport is "tcp" or "websocket"
	Transport string `yaml:"transport" toml:"transport"`

	// Framing is "header" or "line" (tcp only)
	Framing string `yaml:"framing" toml:"framing"`

	// StateDir holds the connection journal; empty disables it
	StateDir string `yaml:"state_dir" toml:"state_dir"`

	Timing Timing      `yaml:"timing" toml:"timing"`
	Log    LogSettings `yaml:"log" toml:"log"`
}

// Timing holds supervision, heartbeat and reconnect timing.
type Timing struct {
	PollInterval      Duration `yaml:"poll_interval" toml:"poll_interval"`
	PollRounds        int      `yaml:"poll_rounds" toml:"poll_rounds"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	HeartbeatFailures int      `yaml:"heartbeat_failures" toml:"heartbeat_failures"`
	ReconnectDelay    Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	MaxRetries        int      `yaml:"max_retries" toml:"max_retries"`
}

// LogSettings configures pkg/log.
type LogSettings struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// Defaults returns settings with every default filled in.
func Defaults() Settings {
	return Settings{
		WorkerName: "PQServiceHost",
		Transport:  "tcp",
		Framing:    "header",
		Timing: Timing{
			PollInterval:      Duration(895 * time.Millisecond),
			PollRounds:        5,
			HeartbeatInterval: Duration(1950 * time.Millisecond),
			HeartbeatFailures: 3,
			ReconnectDelay:    Duration(750 * time.Millisecond),
			MaxRetries:        5,
		},
		Log: LogSettings{Level: "info"},
	}
}

// Load reads a YAML or TOML file, chosen by extension, on top of Defaults.
func Load(path string) (Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Decode(path, data, &s); err != nil {
		return s, err
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode parses data into s using the format implied by path's extension.
func Decode(path string, data []byte, s *Settings) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(s); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml", "":
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// applyDefaults fills zero values left by a partial file.
func (s *Settings) applyDefaults() {
	def := Defaults()
	if s.WorkerName == "" {
		s.WorkerName = def.WorkerName
	}
	if s.Transport == "" {
		s.Transport = def.Transport
	}
	if s.Framing == "" {
		s.Framing = def.Framing
	}
	if s.Timing.PollInterval <= 0 {
		s.Timing.PollInterval = def.Timing.PollInterval
	}
	if s.Timing.PollRounds <= 0 {
		s.Timing.PollRounds = def.Timing.PollRounds
	}
	if s.Timing.HeartbeatInterval <= 0 {
		s.Timing.HeartbeatInterval = def.Timing.HeartbeatInterval
	}
	if s.Timing.HeartbeatFailures <= 0 {
		s.Timing.HeartbeatFailures = def.Timing.HeartbeatFailures
	}
	if s.Timing.ReconnectDelay <= 0 {
		s.Timing.ReconnectDelay = def.Timing.ReconnectDelay
	}
	if s.Timing.MaxRetries < 0 {
		s.Timing.MaxRetries = def.Timing.MaxRetries
	}
	if s.Log.Level == "" {
		s.Log.Level = def.Log.Level
	}
}

// Validate checks values that cannot be defaulted.
func (s Settings) Validate() error {
	var errs []error
	if s.Location != "" && !filepath.IsAbs(s.Location) {
		errs = append(errs, fmt.Errorf("location must be an absolute path, got %q", s.Location))
	}
	switch strings.ToLower(s.Transport) {
	case "tcp", "websocket", "ws":
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", s.Transport))
	}
	switch strings.ToLower(s.Framing) {
	case "header", "content-length", "line", "newline":
	default:
		errs = append(errs, fmt.Errorf("unknown framing %q", s.Framing))
	}
	return errors.Join(errs...)
}
