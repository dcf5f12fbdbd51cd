package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Command describes how to start the worker.
type Command struct {
	Path string
	Dir  string
}

// Spawner starts a worker process and returns its pid.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (int, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, cmd Command) (int, error)

// Spawn calls f.
func (f SpawnerFunc) Spawn(ctx context.Context, cmd Command) (int, error) {
	return f(ctx, cmd)
}

// ExecSpawner starts the executable detached from this process in its own
// session or process group, with stdio on the null device. The worker
// outlives pqhost.
type ExecSpawner struct{}

// Spawn starts cmd without arguments in cmd.Dir.
func (e *ExecSpawner) Spawn(ctx context.Context, c Command) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := os.Stat(c.Path); err != nil {
		return 0, fmt.Errorf("worker executable: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	// Not CommandContext: cancelling the caller must not kill the worker.
	cmd := exec.Command(c.Path)
	cmd.Dir = c.Dir
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start worker: %w", err)
	}
	pid := cmd.Process.Pid

	// Reap the child if it exits while pqhost runs; a zombie answers signal 0.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}
