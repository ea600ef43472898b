package events

import "sync"

// Ledger stores events in memory for quick inspection.
type Ledger struct {
	mu     sync.Mutex
	events []Event
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{events: make([]Event, 0, capacity)}
}

// Emit appends an event to the ledger.
func (l *Ledger) Emit(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Snapshot returns a copy of the recorded events.
func (l *Ledger) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Filter returns the recorded events of the given kind.
func (l *Ledger) Filter(kind Kind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset clears all stored events.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.events = l.events[:0]
	l.mu.Unlock()
}
