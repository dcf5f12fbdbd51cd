// Package lockfile reads the small text artifacts the worker writes on
// startup: its process id and its listening port.
//
// Values are re-read on every call. The worker rewrites the files whenever it
// restarts, and stale content is normal: callers must verify a pid with a
// liveness probe and a port with a connect probe before trusting either.
package lockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
)

const (
	pidSuffix  = ".pid"
	portSuffix = ".port"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadInteger returns the decimal integer stored in path. The second result
// is false when the file is missing, unreadable or does not hold an integer.
func ReadInteger(path string) (int, bool) {
	data, err := os.ReadFile(path) //nolint:gosec // lock file path is derived from configuration
	if err != nil {
		return 0, false
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	n, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Artifacts locates the lock files of one worker installation.
type Artifacts struct {
	Dir  string
	Name string
}

// New returns the artifacts of the worker called name inside dir.
func New(dir, name string) Artifacts {
	return Artifacts{Dir: dir, Name: name}
}

// PIDPath is <Dir>/<Name>.pid.
func (a Artifacts) PIDPath() string {
	return filepath.Join(a.Dir, a.Name+pidSuffix)
}

// PortPath is <Dir>/<Name>.port.
func (a Artifacts) PortPath() string {
	return filepath.Join(a.Dir, a.Name+portSuffix)
}

// PID reads the pid file.
func (a Artifacts) PID() (int, bool) {
	return ReadInteger(a.PIDPath())
}

// Port reads the port file. Only values in the TCP port range count.
func (a Artifacts) Port() (int, bool) {
	port, ok := ReadInteger(a.PortPath())
	if !ok || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

// Snapshot is one read of both artifacts.
type Snapshot struct {
	PID     int  `json:"pid" yaml:"pid"`
	HasPID  bool `json:"has_pid" yaml:"has_pid"`
	Port    int  `json:"port" yaml:"port"`
	HasPort bool `json:"has_port" yaml:"has_port"`
}

// Read reads both artifacts.
func (a Artifacts) Read() Snapshot {
	var s Snapshot
	s.PID, s.HasPID = a.PID()
	s.Port, s.HasPort = a.Port()
	return s
}
