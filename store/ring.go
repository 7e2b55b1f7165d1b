package store

import "time"

// Ring is a bounded buffer of timestamps. Pushing beyond the limit evicts the oldest entry.
type Ring struct {
	limit   int
	entries []time.Time
}

// NewRing creates a ring holding at most limit entries.
func NewRing(limit int) *Ring {
	if limit < 1 {
		limit = 1
	}
	return &Ring{limit: limit, entries: make([]time.Time, 0, limit)}
}

// Push appends a timestamp, evicting the oldest entry once the limit is exceeded.
func (r *Ring) Push(at time.Time) {
	if len(r.entries) == r.limit {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, at)
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	return len(r.entries)
}

// Limit returns the capacity of the ring.
func (r *Ring) Limit() int {
	return r.limit
}

// Since counts entries strictly newer than cutoff.
func (r *Ring) Since(cutoff time.Time) int {
	count := 0
	for _, at := range r.entries {
		if at.After(cutoff) {
			count++
		}
	}
	return count
}

// Last returns a copy of the newest n entries, oldest first.
func (r *Ring) Last(n int) []time.Time {
	if n > len(r.entries) {
		n = len(r.entries)
	}
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, n)
	copy(out, r.entries[len(r.entries)-n:])
	return out
}

// Entries returns a copy of every buffered entry, oldest first.
func (r *Ring) Entries() []time.Time {
	return r.Last(len(r.entries))
}
