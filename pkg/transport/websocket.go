package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/pqhost/pkg/protocol"
	"nhooyr.io/websocket"
)

// WebSocketDialer connects to ws://127.0.0.1:<port>/ and exchanges one JSON
// document per text message.
type WebSocketDialer struct {
	Path      string
	ReadLimit int64
}

// NewWebSocketDialer creates a dialer for the root path.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{Path: "/", ReadLimit: MaxFrameSize}
}

// Dial performs the handshake and starts the read loop.
func (d *WebSocketDialer) Dial(ctx context.Context, port int) (Conn, error) {
	url := fmt.Sprintf("ws://127.0.0.1:%d%s", port, d.Path)
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, &protocol.TransportError{Op: "dial", Err: err}
	}
	ws.SetReadLimit(d.ReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		ws:     ws,
		recv:   make(chan []byte, receiveBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	c.live.Store(true)
	go c.readLoop(readCtx)
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	recv   chan []byte
	done   chan struct{}
	cancel context.CancelFunc
	live   atomic.Bool

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (c *wsConn) readLoop(ctx context.Context) {
	defer close(c.recv)
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.finish(&protocol.TransportError{Op: "read", Err: err}, websocket.StatusGoingAway)
			return
		}
		if typ != websocket.MessageText || !c.live.Load() {
			continue
		}
		select {
		case c.recv <- data:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) finish(err error, code websocket.StatusCode) {
	c.once.Do(func() {
		c.live.Store(false)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.cancel()
		_ = c.ws.Close(code, "")
	})
}

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	if !c.live.Load() {
		return &protocol.TransportError{Op: "send", Err: ErrClosed}
	}
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		terr := &protocol.TransportError{Op: "send", Err: err}
		c.finish(terr, websocket.StatusInternalError)
		return terr
	}
	return nil
}

func (c *wsConn) Receive() <-chan []byte { return c.recv }

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.live.Store(false)
	c.finish(nil, websocket.StatusNormalClosure)
	return nil
}

func (c *wsConn) Live() bool { return c.live.Load() }
