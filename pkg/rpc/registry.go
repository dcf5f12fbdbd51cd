package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/pqhost/pkg/log"
	"github.com/cuemby/pqhost/pkg/metrics"
	"github.com/cuemby/pqhost/pkg/protocol"
	"github.com/rs/zerolog"
)

// Sender writes one encoded request. transport.Conn satisfies it.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

type outcome struct {
	payload json.RawMessage
	err     error
}

type call struct {
	method string
	timer  *metrics.Timer
	done   chan outcome
}

// Registry correlates requests with responses for a single connection.
// Once RejectAll has run the registry is closed for good; a new connection
// gets a new registry sharing the same IDSource.
type Registry struct {
	ids    *IDSource
	sender Sender
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*call
	closed  error
}

// NewRegistry creates a registry sending through sender.
func NewRegistry(ids *IDSource, sender Sender) *Registry {
	return &Registry{
		ids:     ids,
		sender:  sender,
		logger:  log.WithComponent("rpc"),
		pending: make(map[string]*call),
	}
}

// WithLogger replaces the registry's logger.
func (r *Registry) WithLogger(logger zerolog.Logger) *Registry {
	r.logger = logger
	return r
}

// Issue sends method with params and waits for the matching response or
// for ctx to end. Cancelling ctx only abandons this request.
func (r *Registry) Issue(ctx context.Context, method string, params *protocol.Params) (json.RawMessage, error) {
	if params == nil {
		params = &protocol.Params{}
	}
	if params.SessionID == "" {
		params.SessionID = r.ids.SessionID()
	}

	r.mu.Lock()
	if r.closed != nil {
		err := r.closed
		r.mu.Unlock()
		return nil, err
	}
	id := r.ids.Next()
	c := &call{method: method, timer: metrics.NewTimer(), done: make(chan outcome, 1)}
	r.pending[id] = c
	r.mu.Unlock()
	metrics.PendingRequests.Inc()

	data, err := protocol.NewRequest(id, method, params).Encode()
	if err != nil {
		r.forget(id)
		return nil, err
	}

	r.logger.Debug().Str("request_id", id).Str("method", method).Msg("Sending request")
	if err := r.sender.Send(ctx, data); err != nil {
		r.forget(id)
		var terr *protocol.TransportError
		if !errors.As(err, &terr) {
			err = &protocol.TransportError{Op: "send", Err: err}
		}
		r.observe(method, c.timer, err)
		return nil, err
	}

	select {
	case o := <-c.done:
		return o.payload, o.err
	case <-ctx.Done():
		if r.forget(id) {
			r.observe(method, c.timer, ctx.Err())
			return nil, ctx.Err()
		}
		// Settled concurrently with cancellation.
		o := <-c.done
		return o.payload, o.err
	}
}

// Dispatch settles the pending request matching resp. It reports false for
// unknown ids, which are dropped.
func (r *Registry) Dispatch(resp *protocol.Response) bool {
	id := string(resp.ID)
	r.mu.Lock()
	c, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug().Str("request_id", id).Msg("Dropping response for unknown request")
		return false
	}
	metrics.PendingRequests.Dec()

	payload, err := settle(c.method, resp)
	r.observe(c.method, c.timer, err)
	c.done <- outcome{payload: payload, err: err}
	return true
}

// RejectAll fails every pending request with err and closes the registry.
func (r *Registry) RejectAll(err error) {
	r.mu.Lock()
	if r.closed == nil {
		r.closed = err
	}
	pending := r.pending
	r.pending = make(map[string]*call)
	r.mu.Unlock()

	for id, c := range pending {
		metrics.PendingRequests.Dec()
		r.observe(c.method, c.timer, err)
		r.logger.Debug().Str("request_id", id).Str("method", c.method).Msg("Rejecting pending request")
		c.done <- outcome{err: err}
	}
}

// Pending returns the number of requests awaiting a response.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// forget removes id, reporting whether it was still pending.
func (r *Registry) forget(id string) bool {
	r.mu.Lock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if ok {
		metrics.PendingRequests.Dec()
	}
	return ok
}

func (r *Registry) observe(method string, timer *metrics.Timer, err error) {
	metrics.RequestsTotal.WithLabelValues(method, protocol.StatusLabel(err)).Inc()
	timer.ObserveDurationVec(metrics.RequestDuration, method)
}

// settle turns a response into the caller's result.
func settle(method string, resp *protocol.Response) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, &protocol.RemoteError{
			Method:         method,
			Message:        resp.Error.Message,
			Code:           resp.Error.Code,
			InnerException: resp.Error.Data,
		}
	}

	res, err := resp.Outcome()
	if err != nil {
		return nil, &protocol.RemoteError{Method: method, Message: string(resp.Result), Decoding: true}
	}

	switch res.Status {
	case protocol.StatusSuccess, protocol.StatusAcknowledged:
		payload, err := protocol.DecodePayload(res.Payload)
		if err != nil {
			var rerr *protocol.RemoteError
			if errors.As(err, &rerr) {
				rerr.Method = method
			}
			return nil, err
		}
		return payload, nil
	case protocol.StatusFailure:
		return nil, &protocol.RemoteError{
			Method:         method,
			Message:        protocol.FailureMessage(res),
			InnerException: res.InnerException,
		}
	default:
		return nil, &protocol.RemoteError{
			Method:  method,
			Message: fmt.Sprintf("unexpected status %s", res.Status),
		}
	}
}
