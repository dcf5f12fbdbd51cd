package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// WorkerRecord is the last worker a controller connected to at a location
type WorkerRecord struct {
	Location    string    `json:"location" yaml:"location"`
	PID         int       `json:"pid" yaml:"pid"`
	Port        int       `json:"port" yaml:"port"`
	SessionID   string    `json:"session_id" yaml:"session_id"`
	Transport   string    `json:"transport" yaml:"transport"`
	ConnectedAt time.Time `json:"connected_at" yaml:"connected_at"`
}

// Transition is one journaled connection state change
type Transition struct {
	Seq      uint64    `json:"seq" yaml:"seq"`
	At       time.Time `json:"at" yaml:"at"`
	Location string    `json:"location" yaml:"location"`
	From     string    `json:"from" yaml:"from"`
	To       string    `json:"to" yaml:"to"`
	Attempt  int       `json:"attempt" yaml:"attempt"`
	Reason   string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Store persists the connection journal
type Store interface {
	// Workers
	SaveWorker(record *WorkerRecord) error
	GetWorker(location string) (*WorkerRecord, error)
	ListWorkers() ([]*WorkerRecord, error)
	DeleteWorker(location string) error

	// Transitions, oldest first
	AppendTransition(t *Transition) error
	ListTransitions(limit int) ([]*Transition, error)

	// Utility
	Close() error
}
