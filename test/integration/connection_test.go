package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/pqhost/pkg/client"
	"github.com/cuemby/pqhost/pkg/controller"
	"github.com/cuemby/pqhost/pkg/events"
	"github.com/cuemby/pqhost/pkg/protocol"
	"github.com/cuemby/pqhost/pkg/storage"
	"github.com/cuemby/pqhost/pkg/supervisor"
	"github.com/cuemby/pqhost/pkg/transport"
	"github.com/cuemby/pqhost/test/framework"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// env is a controller wired to a fake spawner, with a client on top.
type env struct {
	log     *framework.CallLog
	spawner *framework.FakeSpawner
	broker  *events.Broker
	ctrl    *controller.Controller
	client  *client.Client
}

func newEnv(t *testing.T, handlers map[string]framework.Handler, opts ...controller.Option) *env {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	e := &env{log: &framework.CallLog{}, broker: events.NewBroker()}
	e.spawner = &framework.FakeSpawner{Options: framework.WorkerOptions{Log: e.log, Handlers: handlers}}
	e.broker.Start()

	sup := supervisor.New(supervisor.Config{PollInterval: 10 * time.Millisecond, PollRounds: 5}, e.spawner)
	sup.WithLogger(zerolog.Nop())

	cfg := controller.Config{
		HeartbeatInterval: time.Minute,
		ReconnectDelay:    20 * time.Millisecond,
		MaxRetries:        3,
		ShutdownTimeout:   time.Second,
	}
	opts = append([]controller.Option{controller.WithBroker(e.broker), controller.WithLogger(zerolog.Nop())}, opts...)
	e.ctrl = controller.New(cfg, sup, transport.NewTCPDialer(transport.HeaderFramer{}), opts...)
	e.client = client.New(e.ctrl, client.Options{
		ConnectorPath: "/src/Conn.mez",
		Workspace:     client.StaticWorkspace{Folder: "/src"},
	}).WithLogger(zerolog.Nop())

	t.Cleanup(func() {
		e.ctrl.Close()
		e.broker.Stop()
		e.spawner.Close()
	})
	return e
}

func (e *env) connect(t *testing.T, location string) {
	t.Helper()
	require.NoError(t, e.ctrl.Connect(location))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.ctrl.WaitReady(ctx))
}

// TestSpawnConnectEvaluate starts from an empty worker location and runs
// requests through the client
func TestSpawnConnectEvaluate(t *testing.T) {
	handlers := map[string]framework.Handler{
		protocol.MethodRunTestBattery: func(*protocol.Request) *framework.Reply {
			// the worker double-encodes payloads and sometimes appends control bytes
			return &framework.Reply{Status: protocol.StatusSuccess, Payload: "{\"Rows\":2}\u0007"}
		},
		protocol.MethodTestConnection: func(*protocol.Request) *framework.Reply {
			return &framework.Reply{
				Status:         protocol.StatusFailure,
				InnerException: map[string]string{"Message": "bad creds"},
			}
		},
	}
	e := newEnv(t, handlers)
	a := framework.NewAssertions(t)
	dir := t.TempDir()

	a.Step("Connecting to an empty location")
	e.connect(t, dir)
	assert.Equal(t, 1, e.spawner.Calls())

	a.Step("Evaluating a query")
	payload, err := e.client.RunTestBattery(context.Background(), filepath.Join(dir, "q.pq"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Rows":2}`, string(payload))

	a.Step("Surfacing a worker failure")
	_, err = e.client.TestConnection(context.Background(), filepath.Join(dir, "q.pq"))
	var remote *protocol.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, "bad creds", remote.Message)
	assert.Equal(t, protocol.KindRemote, protocol.Classify(err))

	a.CallOrder(e.log, "spawn:"+dir, dir+":"+protocol.MethodRunTestBattery, dir+":"+protocol.MethodTestConnection)

	workers := e.spawner.Workers()
	require.Len(t, workers, 1)
	req := workers[0].Requests()[0]
	require.Len(t, req.Params, 1)
	assert.Equal(t, e.ctrl.SessionID(), req.Params[0].SessionID)
	assert.Equal(t, "/src/Conn.mez", req.Params[0].PathToConnector)
	assert.Equal(t, "/src", req.Params[0].WorkingDirectory)
	a.Success("Evaluation round trip complete")
}

// TestLocationSwitch moves the connection to a new location while connected
func TestLocationSwitch(t *testing.T) {
	e := newEnv(t, nil)
	a := framework.NewAssertions(t)
	w := framework.DefaultWaiter()
	first, second := t.TempDir(), t.TempDir()

	e.connect(t, first)
	e.connect(t, second)
	assert.Equal(t, second, e.ctrl.Location())

	a.CallCount(e.log, first+":"+protocol.MethodForceShutdown, 1)
	a.CallOrder(e.log, "spawn:"+first, first+":"+protocol.MethodForceShutdown, "spawn:"+second)

	workers := e.spawner.Workers()
	require.Len(t, workers, 2)
	require.NoError(t, w.WaitForWorkerClosed(context.Background(), workers[0]))
	assert.False(t, workers[1].Closed())

	require.NoError(t, e.client.Ping(context.Background()))
	a.RequestCount(workers[1], protocol.MethodPing, 1)
}

// TestWorkerRestart tests that a worker exiting is replaced by a fresh one
func TestWorkerRestart(t *testing.T) {
	e := newEnv(t, nil)
	w := framework.DefaultWaiter()
	sub := e.broker.Subscribe()
	dir := t.TempDir()

	e.connect(t, dir)
	worker := e.spawner.Workers()[0]

	// a real exit leaves no live pid behind
	worker.Close()
	require.NoError(t, os.Remove(filepath.Join(dir, "PQServiceHost.pid")))

	_, err := w.WaitForEvent(context.Background(), sub, events.EventDisconnected)
	require.NoError(t, err)
	_, err = w.WaitForEvent(context.Background(), sub, events.EventReady)
	require.NoError(t, err)

	assert.Equal(t, 2, e.spawner.Calls())
	require.NoError(t, e.client.Ping(context.Background()))
}

// TestGiveUpAndRecover exhausts retries on a location that never gets a
// worker, then recovers through an explicit reconnect
func TestGiveUpAndRecover(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	e := newEnv(t, nil, controller.WithStore(store))
	a := framework.NewAssertions(t)
	w := framework.DefaultWaiter()
	dir := t.TempDir()

	// the spawner cannot start a worker in a missing directory
	missing := filepath.Join(dir, "not-yet")
	require.NoError(t, e.ctrl.Connect(missing))
	require.NoError(t, w.WaitForState(context.Background(), e.ctrl, "Exhausted"))

	_, err = e.client.ListCredentials(context.Background())
	assert.True(t, errors.Is(err, protocol.ErrSupervisionExhausted))
	a.Never(func() bool { return e.spawner.Calls() > 4 }, 100*time.Millisecond, 5*time.Millisecond, "no retries after exhaustion")

	require.NoError(t, os.Mkdir(missing, 0755))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.client.EnsureReady(ctx))
	assert.Equal(t, 0, e.ctrl.Attempts())

	rec, err := store.GetWorker(missing)
	require.NoError(t, err)
	assert.Equal(t, e.spawner.Workers()[0].Port, rec.Port)
}
