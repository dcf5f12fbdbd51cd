package health

import (
	"context"
	"net"
	"strconv"
	"time"
)

// LoopbackHost is the only host the worker ever listens on.
const LoopbackHost = "127.0.0.1"

// PortChecker proves that something accepts connections on a loopback port.
// The connection is closed right away; nothing is written.
type PortChecker struct {
	Port    int
	Timeout time.Duration
}

// NewPortChecker probes port with a one second connect timeout
func NewPortChecker(port int) *PortChecker {
	return &PortChecker{Port: port, Timeout: time.Second}
}

// Address returns the probed host:port
func (p *PortChecker) Address() string {
	return net.JoinHostPort(LoopbackHost, strconv.Itoa(p.Port))
}

func (p *PortChecker) Check(ctx context.Context) Result {
	start := time.Now()
	addr := p.Address()

	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err == nil {
		conn.Close()
	}
	return newResult(addr, start, err, "accepting connections")
}

func (p *PortChecker) Type() CheckType { return CheckTypePort }

// WithTimeout sets the connect timeout
func (p *PortChecker) WithTimeout(timeout time.Duration) *PortChecker {
	p.Timeout = timeout
	return p
}
