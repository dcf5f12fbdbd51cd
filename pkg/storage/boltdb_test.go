package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*BoltStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestWorkerRecords(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetWorker("/opt/pq")
	assert.True(t, IsNotFound(err))

	rec := &WorkerRecord{Location: "/opt/pq", PID: 100, Port: 51234, SessionID: "sess", Transport: "tcp", ConnectedAt: time.Now().UTC()}
	require.NoError(t, s.SaveWorker(rec))

	rec.Port = 51235
	require.NoError(t, s.SaveWorker(rec))
	require.NoError(t, s.SaveWorker(&WorkerRecord{Location: "/srv/pq", PID: 200, Port: 40000}))

	got, err := s.GetWorker("/opt/pq")
	require.NoError(t, err)
	assert.Equal(t, 51235, got.Port)
	assert.Equal(t, "sess", got.SessionID)

	all, err := s.ListWorkers()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteWorker("/srv/pq"))
	all, err = s.ListWorkers()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTransitionsCapped(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetMaxTransitions(3)

	states := []string{"Idle", "Starting", "AwaitingPort", "Connecting", "Connected"}
	for i := 1; i < len(states); i++ {
		require.NoError(t, s.AppendTransition(&Transition{Location: "/opt/pq", From: states[i-1], To: states[i]}))
	}

	all, err := s.ListTransitions(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "AwaitingPort", all[0].To)
	assert.Equal(t, "Connected", all[2].To)
	assert.Equal(t, uint64(4), all[2].Seq)
	assert.False(t, all[2].At.IsZero())

	last, err := s.ListTransitions(1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "Connected", last[0].To)
}

func TestOpenReadOnly(t *testing.T) {
	_, err := OpenReadOnly(t.TempDir())
	assert.Error(t, err)

	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveWorker(&WorkerRecord{Location: "/opt/pq", Port: 1}))
	require.NoError(t, s.Close())

	ro, err := OpenReadOnly(dir)
	require.NoError(t, err)
	defer ro.Close()

	got, err := ro.GetWorker("/opt/pq")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Port)
	assert.Error(t, ro.SaveWorker(&WorkerRecord{Location: "/x"}))
}
