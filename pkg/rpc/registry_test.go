package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/pqhost/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSender records every outgoing request.
type chanSender struct {
	frames chan []byte
	err    error
}

func newChanSender() *chanSender {
	return &chanSender{frames: make(chan []byte, 256)}
}

func (s *chanSender) Send(_ context.Context, frame []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames <- frame
	return nil
}

func (s *chanSender) next(t *testing.T) *protocol.Request {
	t.Helper()
	select {
	case frame := <-s.frames:
		var req protocol.Request
		require.NoError(t, json.Unmarshal(frame, &req))
		return &req
	case <-time.After(2 * time.Second):
		t.Fatal("no request sent")
		return nil
	}
}

func newTestRegistry(sender Sender) *Registry {
	return NewRegistry(NewIDSourceWithSession("sess"), sender).WithLogger(zerolog.Nop())
}

func response(t *testing.T, raw string) *protocol.Response {
	t.Helper()
	resp, err := protocol.DecodeResponse([]byte(raw))
	require.NoError(t, err)
	return resp
}

func waitPending(t *testing.T, r *Registry, n int) {
	t.Helper()
	assert.Eventually(t, func() bool { return r.Pending() == n }, 2*time.Second, time.Millisecond)
}

func TestIDSource(t *testing.T) {
	ids := NewIDSourceWithSession("abc")
	assert.Equal(t, "abc-1", ids.Next())
	assert.Equal(t, "abc-2", ids.Next())
	assert.Equal(t, "abc", ids.SessionID())

	random := NewIDSource()
	assert.Len(t, random.SessionID(), 36)
	assert.True(t, strings.HasPrefix(random.Next(), random.SessionID()+"-"))
}

func TestIssueEncodesRequest(t *testing.T) {
	sender := newChanSender()
	r := newTestRegistry(sender)

	done := make(chan error, 1)
	go func() {
		_, err := r.Issue(context.Background(), protocol.MethodPing, nil)
		done <- err
	}()

	req := sender.next(t)
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, "sess-1", req.ID)
	assert.Equal(t, protocol.MethodPing, req.Method)
	require.Len(t, req.Params, 1)
	assert.Equal(t, "sess", req.Params[0].SessionID)

	r.Dispatch(response(t, `{"id":"sess-1","result":{"Status":1,"Payload":null}}`))
	assert.NoError(t, <-done)
	assert.Equal(t, 0, r.Pending())
}

// TestConcurrentShuffledResponses tests that results are matched by id
// regardless of response order
func TestConcurrentShuffledResponses(t *testing.T) {
	const n = 32
	sender := newChanSender()
	r := newTestRegistry(sender)

	type result struct {
		want string
		got  json.RawMessage
		err  error
	}
	results := make(chan result, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/tmp/query-%d.pq", i)
			payload, err := r.Issue(context.Background(), protocol.MethodRunTestBattery, &protocol.Params{PathToQueryFile: path})
			results <- result{want: path, got: payload, err: err}
		}(i)
	}

	requests := make([]*protocol.Request, 0, n)
	for i := 0; i < n; i++ {
		requests = append(requests, sender.next(t))
	}
	rand.Shuffle(len(requests), func(i, j int) { requests[i], requests[j] = requests[j], requests[i] })

	for _, req := range requests {
		payload, err := json.Marshal(map[string]string{"path": req.Params[0].PathToQueryFile})
		require.NoError(t, err)
		encoded, err := json.Marshal(string(payload))
		require.NoError(t, err)
		raw := fmt.Sprintf(`{"id":%q,"result":{"Status":1,"Payload":%s}}`, req.ID, encoded)
		assert.True(t, r.Dispatch(response(t, raw)))
	}

	wg.Wait()
	close(results)
	count := 0
	for res := range results {
		require.NoError(t, res.err)
		var body map[string]string
		require.NoError(t, json.Unmarshal(res.got, &body))
		assert.Equal(t, res.want, body["path"])
		count++
	}
	assert.Equal(t, n, count)
	assert.Equal(t, 0, r.Pending())
}

func TestDispatchOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		result   string
		wantBody string
		wantKind protocol.Kind
		wantMsg  string
	}{
		{
			name:     "success with string payload",
			result:   `"result":{"Status":1,"Payload":"{\"a\":1}\u0007"}`,
			wantBody: `{"a":1}`,
		},
		{
			name:     "acknowledged counts as success",
			result:   `"result":{"Status":"Acknowledged","Payload":{"queued":true}}`,
			wantBody: `{"queued":true}`,
		},
		{
			name:     "failure with inner exception",
			result:   `"result":{"Status":2,"InnerException":{"Message":"bad creds"}}`,
			wantKind: protocol.KindRemote,
			wantMsg:  "bad creds",
		},
		{
			name:     "undecodable payload",
			result:   `"result":{"Status":1,"Payload":"not json"}`,
			wantKind: protocol.KindProtocolDecoding,
			wantMsg:  "not json",
		},
		{
			name:     "json-rpc error envelope",
			result:   `"error":{"code":-32601,"message":"method not found"}`,
			wantKind: protocol.KindRemote,
			wantMsg:  "method not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := newChanSender()
			r := newTestRegistry(sender)

			type res struct {
				body json.RawMessage
				err  error
			}
			done := make(chan res, 1)
			go func() {
				body, err := r.Issue(context.Background(), protocol.MethodListCredentials, nil)
				done <- res{body, err}
			}()

			req := sender.next(t)
			r.Dispatch(response(t, fmt.Sprintf(`{"id":%q,%s}`, req.ID, tt.result)))
			got := <-done

			if tt.wantBody != "" {
				require.NoError(t, got.err)
				assert.JSONEq(t, tt.wantBody, string(got.body))
				return
			}
			require.Error(t, got.err)
			assert.Equal(t, tt.wantKind, protocol.Classify(got.err))
			assert.Equal(t, tt.wantMsg, got.err.Error())

			var rerr *protocol.RemoteError
			require.True(t, errors.As(got.err, &rerr))
			assert.Equal(t, protocol.MethodListCredentials, rerr.Method)
		})
	}
}

func TestDispatchUnknownID(t *testing.T) {
	r := newTestRegistry(newChanSender())
	assert.False(t, r.Dispatch(response(t, `{"id":"other-9","result":{"Status":1}}`)))
}

// TestRejectAll tests that tearing down rejects every pending request
func TestRejectAll(t *testing.T) {
	const k = 5
	sender := newChanSender()
	r := newTestRegistry(sender)

	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		go func() {
			_, err := r.Issue(context.Background(), protocol.MethodPing, nil)
			errs <- err
		}()
	}
	waitPending(t, r, k)

	teardown := &protocol.TransportError{Op: "close"}
	r.RejectAll(teardown)

	for i := 0; i < k; i++ {
		err := <-errs
		assert.True(t, errors.Is(err, protocol.ErrTransport))
	}
	assert.Equal(t, 0, r.Pending())

	_, err := r.Issue(context.Background(), protocol.MethodPing, nil)
	assert.Same(t, teardown, err)
}

func TestIssueCancelRemovesOnlyOwnEntry(t *testing.T) {
	sender := newChanSender()
	r := newTestRegistry(sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := r.Issue(ctx, protocol.MethodTestConnection, nil)
		cancelled <- err
	}()
	first := sender.next(t)

	kept := make(chan error, 1)
	go func() {
		_, err := r.Issue(context.Background(), protocol.MethodPing, nil)
		kept <- err
	}()
	second := sender.next(t)
	waitPending(t, r, 2)

	cancel()
	assert.ErrorIs(t, <-cancelled, context.Canceled)
	assert.Equal(t, 1, r.Pending())

	// A late response for the abandoned request is ignored.
	assert.False(t, r.Dispatch(response(t, fmt.Sprintf(`{"id":%q,"result":{"Status":1}}`, first.ID))))
	assert.True(t, r.Dispatch(response(t, fmt.Sprintf(`{"id":%q,"result":{"Status":1}}`, second.ID))))
	assert.NoError(t, <-kept)
}

func TestIssueSendFailure(t *testing.T) {
	sender := newChanSender()
	sender.err = errors.New("broken pipe")
	r := newTestRegistry(sender)

	_, err := r.Issue(context.Background(), protocol.MethodPing, nil)
	assert.True(t, errors.Is(err, protocol.ErrTransport))
	assert.Equal(t, 0, r.Pending())
}
