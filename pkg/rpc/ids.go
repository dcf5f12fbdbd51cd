package rpc

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDSource hands out correlation ids of the form <session>-<n>. One source
// lives as long as its controller, so ids never repeat across reconnects.
type IDSource struct {
	session string
	counter atomic.Uint64
}

// NewIDSource creates a source with a fresh random session id.
func NewIDSource() *IDSource {
	return NewIDSourceWithSession(uuid.NewString())
}

// NewIDSourceWithSession creates a source for a known session id.
func NewIDSourceWithSession(session string) *IDSource {
	return &IDSource{session: session}
}

// SessionID returns the session part of every id.
func (s *IDSource) SessionID() string {
	return s.session
}

// Next returns the next id.
func (s *IDSource) Next() string {
	n := s.counter.Add(1)
	return s.session + "-" + strconv.FormatUint(n, 10)
}
