package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is reported by Send after the connection was closed.
var ErrClosed = errors.New("connection closed")

// Conn is a message-oriented connection to the worker. Every value delivered
// on Receive is one complete JSON message.
type Conn interface {
	// Send writes one message.
	Send(ctx context.Context, frame []byte) error

	// Receive yields incoming messages; closed when the read loop ends.
	Receive() <-chan []byte

	// Done is closed once the connection is no longer usable.
	Done() <-chan struct{}

	// Err returns the error that ended the connection, nil after a local Close.
	Err() error

	// Close tears down the connection. Safe to call more than once.
	Close() error

	// Live reports whether incoming messages are still delivered.
	Live() bool
}

// Dialer connects to a worker listening on a loopback port.
type Dialer interface {
	Dial(ctx context.Context, port int) (Conn, error)
}

// Kind names a transport variant.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "websocket"
)

// NewDialer builds the dialer for a transport kind and framing name.
// Framing is ignored by the WebSocket transport.
func NewDialer(kind, framing string) (Dialer, error) {
	switch Kind(strings.ToLower(kind)) {
	case "", KindTCP:
		framer, err := ParseFramer(framing)
		if err != nil {
			return nil, err
		}
		return NewTCPDialer(framer), nil
	case KindWebSocket, "ws":
		return NewWebSocketDialer(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
