package supervisor

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/pqhost/pkg/health"
	"github.com/cuemby/pqhost/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const livePID = 4242

type recordingSpawner struct {
	calls atomic.Int32
	pid   int
	err   error
	// onSpawn runs before returning, e.g. to write lock files
	onSpawn func()
}

func (r *recordingSpawner) Spawn(_ context.Context, _ Command) (int, error) {
	r.calls.Add(1)
	if r.onSpawn != nil {
		r.onSpawn()
	}
	return r.pid, r.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func listen(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func newTestSupervisor(spawner Spawner, probes *atomic.Int32) *Supervisor {
	s := New(Config{PollInterval: 5 * time.Millisecond, PollRounds: 4, ProbeTimeout: 200 * time.Millisecond}, spawner)
	s.WithLogger(zerolog.Nop())
	s.alive = func(pid int) bool { return pid == livePID }
	inner := s.probe
	s.probe = func(ctx context.Context, port int) bool {
		probes.Add(1)
		return inner(ctx, port)
	}
	return s
}

// TestEnsureWorkerRunning covers every lock file state
func TestEnsureWorkerRunning(t *testing.T) {
	tests := []struct {
		name       string
		pid        *string
		port       func(t *testing.T) *string
		spawnPID   int
		wantSpawn  int32
		wantOK     bool
		wantProbes int32
	}{
		{
			name:      "absent lock files spawn and time out",
			spawnPID:  livePID,
			wantSpawn: 1,
		},
		{
			name:      "malformed pid spawns",
			pid:       strPtr("not-a-pid"),
			spawnPID:  livePID,
			wantSpawn: 1,
		},
		{
			name:      "stale pid spawns",
			pid:       strPtr("999999"),
			spawnPID:  livePID,
			wantSpawn: 1,
		},
		{
			name:      "live pid without port",
			pid:       strPtr(strconv.Itoa(livePID)),
			wantSpawn: 0,
		},
		{
			name: "live pid with port not accepting",
			pid:  strPtr(strconv.Itoa(livePID)),
			port: func(t *testing.T) *string {
				return strPtr(strconv.Itoa(closedPort(t)))
			},
			wantProbes: 4,
		},
		{
			name: "live pid with port accepting",
			pid:  strPtr(strconv.Itoa(livePID)),
			port: func(t *testing.T) *string {
				return strPtr(strconv.Itoa(listen(t)))
			},
			wantOK:     true,
			wantProbes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.pid != nil {
				writeFile(t, filepath.Join(dir, DefaultName+".pid"), *tt.pid)
			}
			var port string
			if tt.port != nil {
				port = *tt.port(t)
				writeFile(t, filepath.Join(dir, DefaultName+".port"), port)
			}

			spawner := &recordingSpawner{pid: tt.spawnPID}
			var probes atomic.Int32
			s := newTestSupervisor(spawner, &probes)

			got, err := s.EnsureWorkerRunning(context.Background(), dir)

			assert.Equal(t, tt.wantSpawn, spawner.calls.Load())
			assert.Equal(t, tt.wantProbes, probes.Load())
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, port, strconv.Itoa(got))
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, protocol.ErrSupervisionExhausted))
			var serr *SupervisionError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, 4, serr.Rounds)
			assert.Equal(t, dir, serr.Location)
		})
	}
}

func TestEnsureWorkerRunningAfterSpawn(t *testing.T) {
	dir := t.TempDir()
	port := listen(t)

	spawner := &recordingSpawner{pid: livePID}
	spawner.onSpawn = func() {
		writeFile(t, filepath.Join(dir, DefaultName+".pid"), strconv.Itoa(livePID))
		writeFile(t, filepath.Join(dir, DefaultName+".port"), strconv.Itoa(port))
	}
	var probes atomic.Int32
	s := newTestSupervisor(spawner, &probes)

	got, err := s.EnsureWorkerRunning(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, port, got)
	assert.Equal(t, int32(1), spawner.calls.Load())
}

func TestEnsureWorkerRunningSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	spawner := &recordingSpawner{err: errors.New("permission denied")}
	var probes atomic.Int32
	s := newTestSupervisor(spawner, &probes)

	_, err := s.EnsureWorkerRunning(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrSupervisionExhausted))
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, int32(0), probes.Load())
}

func TestEnsureWorkerRunningCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, DefaultName+".pid"), strconv.Itoa(livePID))

	s := New(Config{PollInterval: time.Hour, PollRounds: 3}, &recordingSpawner{})
	s.WithLogger(zerolog.Nop())
	s.alive = func(pid int) bool { return pid == livePID }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.EnsureWorkerRunning(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutable(t *testing.T) {
	s := New(Config{}, nil)
	want := filepath.Join("/opt/pq", DefaultName)
	if runtime.GOOS == "windows" {
		want += ".exe"
	}
	assert.Equal(t, want, s.Executable("/opt/pq"))
	assert.Equal(t, filepath.Join("/opt/pq", DefaultName+".port"), s.Artifacts("/opt/pq").PortPath())

	cfg := s.Config()
	assert.Equal(t, 895*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5, cfg.PollRounds)
}

func TestExecSpawner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script worker")
	}
	dir := t.TempDir()
	exe := filepath.Join(dir, DefaultName)
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexit 0\n"), 0755))

	pid, err := (&ExecSpawner{}).Spawn(context.Background(), Command{Path: exe, Dir: dir})
	require.NoError(t, err)
	assert.Greater(t, pid, 0)
	assert.Eventually(t, func() bool { return !health.ProcessAlive(pid) }, 5*time.Second, 10*time.Millisecond,
		"an exited worker is reaped")

	_, err = (&ExecSpawner{}).Spawn(context.Background(), Command{Path: filepath.Join(dir, "missing"), Dir: dir})
	assert.Error(t, err)
}

func strPtr(s string) *string { return &s }

func TestAliveUsesProcessCheck(t *testing.T) {
	s := New(DefaultConfig(), nil)
	assert.True(t, s.alive(os.Getpid()))
	assert.False(t, s.alive(0))
	assert.False(t, s.alive(-1))
}

func TestSetConfig(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.SetConfig(Config{PollRounds: 9})

	cfg := s.Config()
	assert.Equal(t, 9, cfg.PollRounds)
	assert.Equal(t, DefaultName, cfg.Name, "zero values fall back to defaults")
	assert.Equal(t, 895*time.Millisecond, cfg.PollInterval)
}
