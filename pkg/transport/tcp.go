package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/pqhost/pkg/protocol"
)

const receiveBuffer = 64

// TCPDialer connects over plain TCP to 127.0.0.1:<port>.
type TCPDialer struct {
	Framer    Framer
	KeepAlive time.Duration
	Timeout   time.Duration
}

// NewTCPDialer creates a dialer using framer.
func NewTCPDialer(framer Framer) *TCPDialer {
	if framer == nil {
		framer = HeaderFramer{}
	}
	return &TCPDialer{
		Framer:    framer,
		KeepAlive: 15 * time.Second,
		Timeout:   5 * time.Second,
	}
}

// Dial connects and starts the read loop.
func (d *TCPDialer) Dial(ctx context.Context, port int) (Conn, error) {
	dialer := &net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: d.KeepAlive,
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &protocol.TransportError{Op: "dial", Err: err}
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
	}
	return newStreamConn(nc, d.Framer), nil
}

// streamConn frames messages over any net.Conn.
type streamConn struct {
	conn   net.Conn
	framer Framer

	writeMu sync.Mutex
	recv    chan []byte
	done    chan struct{}
	live    atomic.Bool

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newStreamConn(nc net.Conn, framer Framer) *streamConn {
	c := &streamConn{
		conn:   nc,
		framer: framer,
		recv:   make(chan []byte, receiveBuffer),
		done:   make(chan struct{}),
	}
	c.live.Store(true)
	go c.readLoop()
	return c
}

func (c *streamConn) readLoop() {
	defer close(c.recv)
	reader := c.framer.NewReader(c.conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			c.finish(&protocol.TransportError{Op: "read", Err: err})
			return
		}
		if !c.live.Load() {
			continue
		}
		select {
		case c.recv <- frame:
		case <-c.done:
			return
		}
	}
}

// finish records the terminal error and releases the socket once.
func (c *streamConn) finish(err error) {
	c.once.Do(func() {
		c.live.Store(false)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *streamConn) Send(ctx context.Context, frame []byte) error {
	if !c.live.Load() {
		return &protocol.TransportError{Op: "send", Err: ErrClosed}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := c.framer.WriteFrame(c.conn, frame); err != nil {
		terr := &protocol.TransportError{Op: "send", Err: err}
		c.finish(terr)
		return terr
	}
	return nil
}

func (c *streamConn) Receive() <-chan []byte { return c.recv }

func (c *streamConn) Done() <-chan struct{} { return c.done }

func (c *streamConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *streamConn) Close() error {
	c.live.Store(false)
	c.finish(nil)
	return nil
}

func (c *streamConn) Live() bool { return c.live.Load() }
