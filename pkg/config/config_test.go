package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, 895*time.Millisecond, s.Timing.PollInterval.Std())
	assert.Equal(t, 5, s.Timing.PollRounds)
	assert.Equal(t, 1950*time.Millisecond, s.Timing.HeartbeatInterval.Std())
	assert.Equal(t, 3, s.Timing.HeartbeatFailures)
	assert.Equal(t, 750*time.Millisecond, s.Timing.ReconnectDelay.Std())
	assert.Equal(t, 5, s.Timing.MaxRetries)
	assert.NoError(t, s.Validate())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		check   func(t *testing.T, s Settings)
		wantErr bool
	}{
		{
			name: "yaml",
			file: "pqhost.yaml",
			content: `location: /opt/pq
connector_path: /work/conn.mez
timing:
  reconnect_delay: 100ms
  max_retries: 2
log:
  level: debug
`,
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, "/opt/pq", s.Location)
				assert.Equal(t, "/work/conn.mez", s.ConnectorPath)
				assert.Equal(t, 100*time.Millisecond, s.Timing.ReconnectDelay.Std())
				assert.Equal(t, 2, s.Timing.MaxRetries)
				assert.Equal(t, 5, s.Timing.PollRounds, "unset values keep defaults")
				assert.Equal(t, "debug", s.Log.Level)
			},
		},
		{
			name: "toml",
			file: "pqhost.toml",
			content: `location = "/opt/pq"
transport = "websocket"

[timing]
heartbeat_interval = "1s"
poll_rounds = 7
`,
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, "websocket", s.Transport)
				assert.Equal(t, time.Second, s.Timing.HeartbeatInterval.Std())
				assert.Equal(t, 7, s.Timing.PollRounds)
			},
		},
		{
			name:    "comments only",
			file:    "pqhost.yml",
			content: "# nothing yet\n",
			check: func(t *testing.T, s Settings) {
				assert.Equal(t, Defaults(), s)
			},
		},
		{
			name:    "bad duration",
			file:    "pqhost.yaml",
			content: "timing:\n  poll_interval: soon\n",
			wantErr: true,
		},
		{
			name:    "unknown field",
			file:    "pqhost.yaml",
			content: "locaton: /opt/pq\n",
			wantErr: true,
		},
		{
			name:    "relative location",
			file:    "pqhost.yaml",
			content: "location: worker\n",
			wantErr: true,
		},
		{
			name:    "unknown transport",
			file:    "pqhost.toml",
			content: `transport = "udp"`,
			wantErr: true,
		},
		{
			name:    "unsupported format",
			file:    "pqhost.json",
			content: "{}",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Load(writeConfig(t, tt.file, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
