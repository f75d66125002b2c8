// Package progress keeps the short, human-readable status log a scan reports
// to whoever is polling it.
package progress

import "sync"

// DefaultCapacity is the number of lines a Log retains.
const DefaultCapacity = 10

// Log is a bounded, most-recent-N list of status lines. The oldest line is
// evicted first. A single writer and any number of readers may use it
// concurrently.
type Log struct {
	mu    sync.RWMutex
	lines []string // ring storage, len == capacity once full
	start int      // index of the oldest line
	size  int
}

// New creates a Log that keeps at most capacity lines.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest one when the log is full.
func (l *Log) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := len(l.lines)
	if l.size < c {
		l.lines[(l.start+l.size)%c] = line
		l.size++
		return
	}
	l.lines[l.start] = line
	l.start = (l.start + 1) % c
}

// Snapshot returns the retained lines, oldest first.
func (l *Log) Snapshot() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, l.size)
	c := len(l.lines)
	for i := range l.size {
		out[i] = l.lines[(l.start+i)%c]
	}
	return out
}

// Reset replaces the whole log with a single line.
func (l *Log) Reset(initial string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.lines)
	l.start = 0
	l.size = 0
	if initial != "" {
		l.lines[0] = initial
		l.size = 1
	}
}
