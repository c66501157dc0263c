package host

import (
	"sync"
	"time"
)

// EventKind classifies instance lifecycle events.
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventConfigured   EventKind = "configured"
	EventStarted      EventKind = "started"
	EventStopped      EventKind = "stopped"
	EventDestroyed    EventKind = "destroyed"
	EventFault        EventKind = "fault"
	EventInputAdded   EventKind = "input_added"
	EventInputRemoved EventKind = "input_removed"
)

// Event is one recorded lifecycle occurrence.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	InstanceID uint64    `json:"instance_id"`
	Plugin     string    `json:"plugin"`
	Kind       EventKind `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
}

// EventLog is a fixed-size ring buffer of lifecycle events.
type EventLog struct {
	mu      sync.RWMutex
	entries []Event
	head    int
	count   int
}

// NewEventLog creates a log holding at most size entries.
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = 256
	}
	return &EventLog{entries: make([]Event, size)}
}

// Record appends an event, evicting the oldest when full.
func (l *EventLog) Record(id uint64, pluginName string, kind EventKind, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.head] = Event{
		Timestamp:  time.Now(),
		InstanceID: id,
		Plugin:     pluginName,
		Kind:       kind,
		Detail:     detail,
	}
	l.head = (l.head + 1) % len(l.entries)
	if l.count < len(l.entries) {
		l.count++
	}
}

// Recent returns up to n events, newest first.
func (l *EventLog) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.head - 1 - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
