package trace

import (
	"context"
	"sync"
)

// MemoryJournal is a ring-buffered, process-memory Journal. It never errors
// on Record and is meant for tests and local development where trace
// records only need to be inspectable within the running process.
type MemoryJournal struct {
	mu       sync.RWMutex
	capacity int
	records  []Record
}

// NewMemoryJournal constructs a MemoryJournal holding at most capacity
// records; once full, the oldest record is evicted on each insert. A
// capacity of zero or less means unbounded.
func NewMemoryJournal(capacity int) *MemoryJournal {
	return &MemoryJournal{capacity: capacity}
}

func (j *MemoryJournal) Record(_ context.Context, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	if j.capacity > 0 && len(j.records) > j.capacity {
		j.records = j.records[len(j.records)-j.capacity:]
	}
	return nil
}

// ForSession returns a copy of the records recorded for sessionID, oldest
// first.
func (j *MemoryJournal) ForSession(sessionID string) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Record
	for _, r := range j.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

// All returns a copy of every record currently retained.
func (j *MemoryJournal) All() []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Record, len(j.records))
	copy(out, j.records)
	return out
}

var _ Journal = (*MemoryJournal)(nil)
