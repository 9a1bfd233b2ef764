package diagnostics

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry types.
const (
	TypeError   = "error"
	TypeWarning = "warning"
	TypeInfo    = "info"
)

// Entry is one captured diagnostic record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Filter narrows Query results. Zero values match everything; Limit keeps the newest N.
type Filter struct {
	Type     string
	Category string
	Limit    int
}

// Ring is a fixed-capacity buffer that overwrites its oldest entry when full.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Append stores e, filling in ID and Timestamp when missing.
func (r *Ring) Append(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Category == "" {
		e.Category = "other"
	}
	r.mu.Lock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Query returns matching entries, oldest first.
func (r *Ring) Query(f Filter) []Entry {
	r.mu.Lock()
	ordered := r.snapshotLocked()
	r.mu.Unlock()

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Len reports how many entries are held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// Flush drops every entry and returns how many were removed.
func (r *Ring) Flush() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.entries)
	}
	r.entries = make([]Entry, len(r.entries))
	r.next = 0
	r.full = false
	return n
}

func (r *Ring) snapshotLocked() []Entry {
	if !r.full {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}
