package framework

import (
	"context"
	"os"
	"sync"

	"github.com/cuemby/pqhost/pkg/supervisor"
)

// FakeSpawner starts a FakeWorker in the command's directory instead of
// running an executable.
type FakeSpawner struct {
	Options WorkerOptions

	mu      sync.Mutex
	workers []*FakeWorker
	calls   int
}

// Spawn implements supervisor.Spawner.
func (s *FakeSpawner) Spawn(_ context.Context, cmd supervisor.Command) (int, error) {
	opts := s.Options
	if opts.Log != nil {
		opts.Log.Record("spawn:" + cmd.Dir)
	}
	w, err := StartFakeWorker(cmd.Dir, opts)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err != nil {
		return 0, err
	}
	s.workers = append(s.workers, w)
	return os.Getpid(), nil
}

// Calls returns how many times Spawn ran.
func (s *FakeSpawner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Workers returns the workers started so far.
func (s *FakeSpawner) Workers() []*FakeWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FakeWorker(nil), s.workers...)
}

// Close stops every spawned worker.
func (s *FakeSpawner) Close() {
	for _, w := range s.Workers() {
		w.Close()
	}
}
