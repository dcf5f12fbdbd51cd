package framework

import "sync"

// CallLog records the order of interesting calls across fakes.
type CallLog struct {
	mu      sync.Mutex
	entries []string
}

// Record appends an entry.
func (l *CallLog) Record(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of all entries.
func (l *CallLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// Count returns how many entries equal entry.
func (l *CallLog) Count(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e == entry {
			n++
		}
	}
	return n
}

// Index returns the position of the first entry equal to entry, or -1.
func (l *CallLog) Index(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e == entry {
			return i
		}
	}
	return -1
}
