// Package eventlog keeps the rolling, newest-first log of controller events.
package eventlog

import "furitingoasis/growbox/internal/models"

// DefaultCapacity is the number of entries kept when no capacity is configured.
const DefaultCapacity = 50

// Log is a fixed-capacity ring buffer of events. It is not safe for concurrent use;
// the control loop is its only writer.
type Log struct {
	capacity int
	entries  []models.EventLogEntry
}

// New returns an empty log. Capacities below one fall back to DefaultCapacity.
func New(capacity int) *Log {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		entries:  make([]models.EventLogEntry, 0, capacity+1),
	}
}

// Append inserts e at the front, evicting the oldest entry once the log is over capacity.
func (l *Log) Append(e models.EventLogEntry) {
	l.entries = append(l.entries, models.EventLogEntry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
}

// Snapshot returns a copy of the entries, newest first.
func (l *Log) Snapshot() []models.EventLogEntry {
	out := make([]models.EventLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len is the number of entries currently held.
func (l *Log) Len() int {
	return len(l.entries)
}

// Capacity is the maximum number of entries held.
func (l *Log) Capacity() int {
	return l.capacity
}
