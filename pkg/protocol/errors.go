package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinels for errors.Is classification.
var (
	ErrNotReady             = errors.New("worker not ready")
	ErrTransport            = errors.New("transport failure")
	ErrRemote               = errors.New("worker reported an error")
	ErrProtocolDecoding     = errors.New("undecodable worker payload")
	ErrSupervisionExhausted = errors.New("worker supervision exhausted")
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotReady
	KindTransport
	KindRemote
	KindProtocolDecoding
	KindSupervisionExhausted
)

func (k Kind) String() string {
	switch k {
	case KindNotReady:
		return "NotReady"
	case KindTransport:
		return "TransportError"
	case KindRemote:
		return "RemoteApplicationError"
	case KindProtocolDecoding:
		return "ProtocolDecodingError"
	case KindSupervisionExhausted:
		return "SupervisionExhausted"
	default:
		return "Unknown"
	}
}

// NotReadyError is returned synchronously when a call is attempted while the
// connection is not established.
type NotReadyError struct {
	State string
}

func (e *NotReadyError) Error() string {
	if e.State == "Exhausted" {
		return "worker not ready: reconnect attempts exhausted"
	}
	return fmt.Sprintf("worker not ready (state %s)", e.State)
}

// Is matches ErrNotReady, and ErrSupervisionExhausted once retries gave up.
func (e *NotReadyError) Is(target error) bool {
	if target == ErrNotReady {
		return true
	}
	return target == ErrSupervisionExhausted && e.State == "Exhausted"
}

// TransportError is a socket level failure. In-flight requests are rejected
// with it whenever the connection is torn down.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s failed", e.Op)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// RemoteError is a failure reported by the worker: a Failure status envelope,
// a JSON-RPC error envelope, or a payload that could not be decoded
// (Decoding set, Message holds the raw text).
type RemoteError struct {
	Method         string
	Message        string
	Code           int
	InnerException json.RawMessage
	Decoding       bool
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRemote:
		return true
	case ErrProtocolDecoding:
		return e.Decoding
	}
	return false
}

func decodingError(raw string) *RemoteError {
	return &RemoteError{Message: raw, Decoding: true}
}

// Classify maps an error onto a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrProtocolDecoding):
		return KindProtocolDecoding
	case errors.Is(err, ErrRemote):
		return KindRemote
	case errors.Is(err, ErrSupervisionExhausted):
		return KindSupervisionExhausted
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindUnknown
	}
}

// StatusLabel is the metrics label for a request outcome.
func StatusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return Classify(err).String()
	}
}
