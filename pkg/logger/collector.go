package logger

import (
	"sync"
	"time"
)

// Entry is one collected error log line.
type Entry struct {
	Level    string                 `json:"level"`
	Message  string                 `json:"message"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
	Caller   string                 `json:"caller"`
	Count    int                    `json:"count"`
	LastSeen time.Time              `json:"last_seen"`
}

// Collector keeps a bounded ring of recent error entries. The health
// endpoint reads it so operators see what went wrong without log access.
// Repeats of the same message/caller pair collapse into a count.
type Collector struct {
	mu      sync.RWMutex
	max     int
	entries []*Entry
}

// NewCollector creates a collector retaining at most max entries.
func NewCollector(max int) *Collector {
	if max <= 0 {
		max = 100
	}
	return &Collector{max: max}
}

// Add records an error entry, collapsing repeats.
func (c *Collector) Add(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.Message == message && e.Caller == caller && e.Level == level {
			e.Count++
			e.LastSeen = now
			e.Fields = fields
			return
		}
	}

	c.entries = append(c.entries, &Entry{
		Level:    level,
		Message:  message,
		Fields:   fields,
		Caller:   caller,
		Count:    1,
		LastSeen: now,
	})
	if len(c.entries) > c.max {
		c.entries = c.entries[len(c.entries)-c.max:]
	}
}

// Recent returns up to n entries, most recent last.
func (c *Collector) Recent(n int) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > len(c.entries) {
		n = len(c.entries)
	}
	out := make([]Entry, 0, n)
	for _, e := range c.entries[len(c.entries)-n:] {
		out = append(out, *e)
	}
	return out
}
