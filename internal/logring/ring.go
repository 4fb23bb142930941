// Package logring keeps the most recent operator-facing status lines in
// memory so the control panel can show them without touching log files.
package logring

import (
	"sync"
	"time"
)

// DefaultCap bounds the ring when no explicit capacity is given.
const DefaultCap = 50

const lineTimeFormat = "[2006-01-02 15:04:05 UTC] "

// Entry is one timestamped status line.
type Entry struct {
	At      time.Time
	Message string
}

// Ring is a bounded FIFO of status lines. When full, the oldest entry is
// evicted. Safe for concurrent use from any goroutine.
type Ring struct {
	mu      sync.Mutex
	max     int
	entries []Entry
}

func New(max int) *Ring {
	if max <= 0 {
		max = DefaultCap
	}
	return &Ring{max: max, entries: make([]Entry, 0, max)}
}

// Append records msg with the current time.
func (r *Ring) Append(msg string) {
	r.AppendAt(time.Now(), msg)
}

// AppendAt records msg with an explicit timestamp.
func (r *Ring) AppendAt(at time.Time, msg string) {
	if msg == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.max {
		// Evict oldest. Copy down instead of re-slicing so the backing
		// array never grows past max.
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, Entry{At: at, Message: msg})
}

// Entries returns a copy of the buffered entries, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lines renders the buffered entries as "[YYYY-MM-DD HH:MM:SS UTC] message"
// strings, oldest first.
func (r *Ring) Lines() []string {
	entries := r.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.At.UTC().Format(lineTimeFormat)+e.Message)
	}
	return out
}

// Len reports the current number of buffered entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
