package controller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/pqhost/pkg/events"
	"github.com/cuemby/pqhost/pkg/lockfile"
	"github.com/cuemby/pqhost/pkg/log"
	"github.com/cuemby/pqhost/pkg/metrics"
	"github.com/cuemby/pqhost/pkg/protocol"
	"github.com/cuemby/pqhost/pkg/rpc"
	"github.com/cuemby/pqhost/pkg/storage"
	"github.com/cuemby/pqhost/pkg/transport"
	"github.com/rs/zerolog"
)

// Supervisor ensures a worker runs at a location and returns its port.
type Supervisor interface {
	EnsureWorkerRunning(ctx context.Context, location string) (int, error)
}

// WarmupHook runs once, after the first successful connection of a
// controller's lifetime.
type WarmupHook func(ctx context.Context) error

// link is one live connection with its request table.
type link struct {
	conn     transport.Conn
	registry *rpc.Registry
	location string
	gen      uint64
}

// Controller owns the connection to one worker: it supervises the process,
// connects, heartbeats, and reconnects with bounded retries.
type Controller struct {
	cfg    Config
	sup    Supervisor
	dialer transport.Dialer
	broker *events.Broker
	store  storage.Store
	ids    *rpc.IDSource
	logger zerolog.Logger

	// transitions queued for the store; journalDone closes once drained
	journal     chan *storage.Transition
	journalDone chan struct{}

	// lifetime context, cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	state           State
	changed         chan struct{}
	location        string
	attempts        int
	inFlight        bool
	pendingLocation string
	hasPending      bool
	active          *link
	gen             uint64
	retryTimer      *time.Timer
	hbCancel        context.CancelFunc
	hbRunning       bool
	warmedUp        bool
	warmup          WarmupHook
}

// Option configures a Controller.
type Option func(*Controller)

// WithBroker publishes lifecycle events on b.
func WithBroker(b *events.Broker) Option {
	return func(c *Controller) { c.broker = b }
}

// WithStore journals workers and transitions into s.
func WithStore(s storage.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithLogger replaces the controller's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithIDSource sets the correlation id source.
func WithIDSource(ids *rpc.IDSource) Option {
	return func(c *Controller) { c.ids = ids }
}

// WithWarmup sets the warm-up hook.
func WithWarmup(h WarmupHook) Option {
	return func(c *Controller) { c.warmup = h }
}

// New creates an idle controller.
func New(cfg Config, sup Supervisor, dialer transport.Dialer, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:     cfg.withDefaults(),
		sup:     sup,
		dialer:  dialer,
		ids:     rpc.NewIDSource(),
		logger:  log.WithComponent("controller"),
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store != nil {
		c.journal = make(chan *storage.Transition, 64)
		c.journalDone = make(chan struct{})
		go c.journalLoop()
	}
	return c
}

// SessionID returns the session id stamped on every request.
func (c *Controller) SessionID() string {
	return c.ids.SessionID()
}

// SetWarmup replaces the warm-up hook. It has no effect once the first
// connection was made.
func (c *Controller) SetWarmup(h WarmupHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warmup = h
}

// SetConfig replaces the timing; it applies from the next cycle on.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg.withDefaults()
}

// Config returns the current timing.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StateCode reports the state for metrics sampling.
func (c *Controller) StateCode() (int, string) {
	s := c.State()
	return int(s), s.String()
}

// Location returns the worker location of the current or last cycle.
func (c *Controller) Location() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.location
}

// target is the location the controller will end up on: a deferred trigger's
// location when one waits, otherwise the current one.
func (c *Controller) target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasPending {
		return c.pendingLocation
	}
	return c.location
}

// Attempts returns the reconnect attempt counter.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// IsReady reports whether the heartbeat is running.
func (c *Controller) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hbRunning
}

// Connect starts a connection cycle to location. It is the explicit trigger
// used at startup and on location changes: it resets the attempt counter,
// and a live connection is taken over (its worker is asked to shut down)
// before the new worker is supervised. A trigger arriving while a cycle is
// in flight is discarded, but its location is applied once the cycle settles.
func (c *Controller) Connect(location string) error {
	if location == "" {
		return errors.New("worker location not configured")
	}
	c.trigger(location, true)
	if c.State() == StateDisposed {
		return ErrDisposed
	}
	return nil
}

// Reconnect restarts the cycle for the current location.
func (c *Controller) Reconnect() error {
	return c.Connect(c.Location())
}

// ErrDisposed is returned by Connect after Close.
var ErrDisposed = errors.New("controller disposed")

// Issue sends a request over the live connection. It fails immediately with
// a *protocol.NotReadyError unless the controller is Connected.
func (c *Controller) Issue(ctx context.Context, method string, params *protocol.Params) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.active == nil {
		state := c.state
		c.mu.Unlock()
		return nil, &protocol.NotReadyError{State: state.String()}
	}
	registry := c.active.registry
	c.mu.Unlock()
	return registry.Issue(ctx, method, params)
}

// WaitReady blocks until the controller is Connected. It fails once retries
// are exhausted, after Close, or when ctx ends.
func (c *Controller) WaitReady(ctx context.Context) error {
	for {
		c.mu.Lock()
		state := c.state
		changed := c.changed
		inFlight := c.inFlight
		c.mu.Unlock()

		switch {
		case state == StateConnected:
			return nil
		case state == StateDisposed, state == StateExhausted && !inFlight:
			return &protocol.NotReadyError{State: state.String()}
		case state == StateIdle && !inFlight:
			return &protocol.NotReadyError{State: state.String()}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close disposes the controller: timers and heartbeat stop, the connection
// closes and pending requests are rejected. The worker keeps running.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return nil
	}
	c.stopRetryLocked()
	c.stopHeartbeatLocked()
	old := c.active
	c.active = nil
	c.setStateLocked(StateDisposed, "closed")
	c.publishLocked(events.EventDisposed, "controller disposed")
	c.cancel()
	c.mu.Unlock()

	if old != nil {
		c.teardown(old, &protocol.TransportError{Op: "dispose", Err: transport.ErrClosed})
	}
	if c.journal != nil {
		close(c.journal)
		<-c.journalDone
	}
	return nil
}

// trigger starts a cycle unless one is in flight. Automatic retries
// (explicit=false) only proceed from Retrying.
func (c *Controller) trigger(location string, explicit bool) {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	if !explicit && c.state != StateRetrying {
		c.mu.Unlock()
		return
	}
	if explicit {
		c.attempts = 0
	}
	if c.inFlight {
		// A trigger back to the in-flight location cancels an earlier deferral.
		if location == c.location {
			c.pendingLocation = ""
			c.hasPending = false
		} else {
			c.pendingLocation = location
			c.hasPending = true
		}
		c.mu.Unlock()
		c.logger.Debug().Str("worker_location", location).Msg("Connection cycle in flight, trigger deferred")
		return
	}

	c.inFlight = true
	c.stopRetryLocked()
	if !explicit {
		c.attempts++
	}
	c.location = location

	old := c.active
	c.active = nil
	if old != nil {
		c.stopHeartbeatLocked()
		c.setStateLocked(StateDisconnecting, "takeover")
	} else {
		c.setStateLocked(StateStarting, "trigger")
	}
	c.mu.Unlock()

	go c.cycle(location, old)
}

// cycle runs takeover, supervision and connect for one attempt.
func (c *Controller) cycle(location string, old *link) {
	logger := c.logger.With().Str("worker_location", location).Logger()

	if old != nil {
		c.takeover(old)
		if !c.transition(StateStarting, "takeover complete") {
			return
		}
	}

	if !c.transition(StateAwaitingPort, "supervising") {
		return
	}
	port, err := c.sup.EnsureWorkerRunning(c.ctx, location)
	if err != nil {
		logger.Warn().Err(err).Msg("Worker supervision failed")
		c.settleFailure(err)
		return
	}

	if !c.transition(StateConnecting, "port verified") {
		return
	}
	conn, err := c.dialer.Dial(c.ctx, port)
	if err != nil {
		logger.Warn().Err(err).Int("port", port).Msg("Connect failed")
		c.settleFailure(err)
		return
	}

	c.settleSuccess(location, port, conn)
}

// takeover asks the previously connected worker to shut down, then drops
// the connection to it.
func (c *Controller) takeover(old *link) {
	metrics.TakeoversTotal.Inc()
	c.logger.Info().Str("worker_location", old.location).Msg("Shutting down previously connected worker")

	ctx, cancel := context.WithTimeout(c.ctx, c.Config().ShutdownTimeout)
	_, err := old.registry.Issue(ctx, protocol.MethodForceShutdown, nil)
	cancel()
	if err != nil {
		c.logger.Debug().Err(err).Msg("Shutdown request did not complete")
	}

	c.teardown(old, &protocol.TransportError{Op: "takeover", Err: transport.ErrClosed})
	c.publish(events.EventDisconnected, "previous worker shut down", nil)
}

func (c *Controller) settleSuccess(location string, port int, conn transport.Conn) {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}

	c.gen++
	l := &link{
		conn:     conn,
		registry: rpc.NewRegistry(c.ids, conn).WithLogger(c.logger),
		location: location,
		gen:      c.gen,
	}
	c.active = l
	c.attempts = 0
	c.inFlight = false
	warmup := c.warmup
	cfg := c.cfg
	pending, hasPending := c.takePendingLocked()
	deferred := hasPending && pending != location
	// The warm-up waits for the connection the deferred trigger makes.
	first := !c.warmedUp && !deferred
	if first {
		c.warmedUp = true
	}

	c.setStateLocked(StateConnected, "connected")
	c.startHeartbeatLocked(l)
	c.publishLocked(events.EventReady, "worker connected")
	c.mu.Unlock()

	go c.readLoop(l)

	metrics.ConnectAttemptsTotal.WithLabelValues("success").Inc()
	c.logger.Info().Str("worker_location", location).Int("port", port).Msg("Connected to worker")
	c.recordWorker(location, port, cfg)

	if deferred {
		c.trigger(pending, true)
		return
	}
	if first && warmup != nil {
		go c.runWarmup(warmup)
	}
}

func (c *Controller) settleFailure(err error) {
	metrics.ConnectAttemptsTotal.WithLabelValues("failure").Inc()

	c.mu.Lock()
	c.inFlight = false
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	if pending, ok := c.takePendingLocked(); ok {
		c.mu.Unlock()
		c.trigger(pending, true)
		return
	}
	c.scheduleRetryLocked(err.Error())
	c.mu.Unlock()
}

// drop tears down the live connection after a socket close or heartbeat
// failure and schedules a reconnect.
func (c *Controller) drop(gen uint64, cause error) {
	c.mu.Lock()
	if c.active == nil || c.active.gen != gen {
		c.mu.Unlock()
		return
	}
	l := c.active
	c.active = nil
	c.stopHeartbeatLocked()
	reason := "connection closed"
	if cause != nil {
		reason = cause.Error()
	}
	c.setStateLocked(StateDisconnecting, reason)
	c.mu.Unlock()

	c.logger.Warn().Str("worker_location", l.location).Str("reason", reason).Msg("Worker connection lost")
	c.teardown(l, &protocol.TransportError{Op: "disconnect", Err: cause})
	c.publish(events.EventDisconnected, reason, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisposed || c.inFlight {
		return
	}
	c.scheduleRetryLocked(reason)
}

// scheduleRetryLocked moves to Retrying, or to Exhausted once the attempt
// counter reached MaxRetries.
func (c *Controller) scheduleRetryLocked(reason string) {
	if c.attempts >= c.cfg.MaxRetries {
		c.setStateLocked(StateExhausted, reason)
		c.publishLocked(events.EventExhausted, "reconnect attempts exhausted")
		c.logger.Error().Int("attempts", c.attempts).Msg("Giving up on worker until reconnect is requested")
		return
	}

	c.setStateLocked(StateRetrying, reason)
	c.publishLocked(events.EventRetrying, reason)
	location := c.location
	c.retryTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.trigger(location, false)
	})
}

func (c *Controller) teardown(l *link, err error) {
	_ = l.conn.Close()
	l.registry.RejectAll(err)
}

// readLoop dispatches incoming messages until the connection ends.
func (c *Controller) readLoop(l *link) {
	for frame := range l.conn.Receive() {
		resp, err := protocol.DecodeResponse(frame)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping undecodable message")
			continue
		}
		if resp.IsNotification() {
			c.publish(events.EventWorkerNotification, resp.Method, resp.Params)
			continue
		}
		l.registry.Dispatch(resp)
	}

	cause := l.conn.Err()
	l.registry.RejectAll(&protocol.TransportError{Op: "read", Err: cause})
	c.drop(l.gen, cause)
}

func (c *Controller) runWarmup(h WarmupHook) {
	c.publish(events.EventWarmup, "running warm-up", nil)
	if err := h(c.ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Warm-up failed")
	}
}

func (c *Controller) takePendingLocked() (string, bool) {
	if !c.hasPending {
		return "", false
	}
	loc := c.pendingLocation
	c.pendingLocation = ""
	c.hasPending = false
	return loc, true
}

func (c *Controller) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// transition moves to s unless the controller was disposed meanwhile.
func (c *Controller) transition(s State, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisposed {
		return false
	}
	c.setStateLocked(s, reason)
	return true
}

func (c *Controller) setStateLocked(s State, reason string) {
	from := c.state
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	metrics.ConnectionState.Set(float64(s))

	c.logger.Debug().Str("from", from.String()).Str("to", s.String()).Str("reason", reason).Msg("State changed")
	if c.broker != nil {
		c.broker.Publish(&events.Event{
			Type:     events.EventStateChanged,
			State:    s.String(),
			Location: c.location,
			Attempt:  c.attempts,
			Message:  reason,
			Metadata: map[string]string{"from": from.String()},
		})
	}
	if c.journal != nil {
		t := &storage.Transition{At: time.Now(), Location: c.location, From: from.String(), To: s.String(), Attempt: c.attempts, Reason: reason}
		select {
		case c.journal <- t:
		default:
		}
	}
}

func (c *Controller) publishLocked(typ events.EventType, msg string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		Type:     typ,
		State:    c.state.String(),
		Location: c.location,
		Attempt:  c.attempts,
		Message:  msg,
	})
}

func (c *Controller) publish(typ events.EventType, msg string, payload json.RawMessage) {
	if c.broker == nil {
		return
	}
	c.mu.Lock()
	ev := &events.Event{
		Type:     typ,
		State:    c.state.String(),
		Location: c.location,
		Attempt:  c.attempts,
		Message:  msg,
		Payload:  payload,
	}
	c.mu.Unlock()
	c.broker.Publish(ev)
}

func (c *Controller) recordWorker(location string, port int, cfg Config) {
	if c.store == nil {
		return
	}
	pid, _ := lockfile.New(location, cfg.WorkerName).PID()
	rec := &storage.WorkerRecord{
		Location:    location,
		PID:         pid,
		Port:        port,
		SessionID:   c.ids.SessionID(),
		Transport:   cfg.Transport,
		ConnectedAt: time.Now().UTC(),
	}
	if err := c.store.SaveWorker(rec); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to journal worker")
	}
}

func (c *Controller) journalLoop() {
	defer close(c.journalDone)
	for t := range c.journal {
		if err := c.store.AppendTransition(t); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to journal transition")
		}
	}
}
