package logx

import (
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// ringBuffer keeps the most recent entries for run summaries.
type ringBuffer struct {
	entries []Entry
	maxSize int
	mu      sync.RWMutex
}

func newRingBuffer(maxSize int) *ringBuffer {
	return &ringBuffer{maxSize: maxSize}
}

func (b *ringBuffer) add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

func (b *ringBuffer) since(t time.Time, levels ...Level) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, 0, len(b.entries))
	for i := range b.entries {
		e := &b.entries[i]
		if e.Timestamp.Before(t) {
			continue
		}
		if len(levels) > 0 && !containsLevel(levels, e.Level) {
			continue
		}
		out = append(out, *e)
	}
	return out
}

func containsLevel(levels []Level, l Level) bool {
	for _, candidate := range levels {
		if candidate == l {
			return true
		}
	}
	return false
}

// RecentEntries returns captured entries newer than since, optionally filtered by level.
func RecentEntries(since time.Time, levels ...Level) []Entry {
	return recent.since(since, levels...)
}
