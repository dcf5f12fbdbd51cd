package controller

import "strconv"

// State is the connection state of a Controller.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateAwaitingPort
	StateConnecting
	StateConnected
	StateDisconnecting
	StateRetrying
	StateExhausted
	StateDisposed
)

var stateNames = [...]string{
	StateIdle:          "Idle",
	StateStarting:      "Starting",
	StateAwaitingPort:  "AwaitingPort",
	StateConnecting:    "Connecting",
	StateConnected:     "Connected",
	StateDisconnecting: "Disconnecting",
	StateRetrying:      "Retrying",
	StateExhausted:     "Exhausted",
	StateDisposed:      "Disposed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}
