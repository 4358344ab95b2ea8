// Package correlation provides the correlation-id plumbing shared by every
// asynchronous request/response exchange in the kernel: fresh id
// generation and an in-flight table that purges entries at phase
// boundaries so a late reply is harmlessly discarded instead of matched
// to the wrong wait.
package correlation

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// ID is a 128-bit correlation identifier. uuid.NewV7 is time-ordered,
// which keeps ids roughly sortable in logs without adding a sequence
// counter to every actor.
type ID uuid.UUID

// String renders the id in canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// New mints a fresh correlation id. It never returns an error in
// practice (uuid.NewV7 only fails if the runtime's random source is
// broken); a failure there falls back to a random v4 id rather than
// propagating, since a correlation id must never block a phase.
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		return ID(uuid.New())
	}
	return ID(id)
}

// MarshalJSON renders the id as its canonical UUID string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the canonical UUID string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

// Table is an in-flight table of outstanding requests keyed by
// correlation id, generic over the per-entry bookkeeping value (e.g. the
// target region id and sensor name for a measurement, or the region id
// for a proposal). It is safe for concurrent use: entries are written by
// the goroutine issuing a request and read/deleted by whichever
// goroutine later receives the matching reply or purges the table at
// phase end.
type Table[V any] struct {
	mu      sync.Mutex
	entries map[ID]V
}

// NewTable constructs an empty table.
func NewTable[V any]() *Table[V] {
	return &Table[V]{entries: make(map[ID]V)}
}

// Put registers a new in-flight entry.
func (t *Table[V]) Put(id ID, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = v
}

// Take removes and returns the entry for id, if still in flight. A
// missing entry means the id is unknown: either it never existed, it was
// already consumed, or it was purged at phase end — the caller should log
// a protocol-violation warning and drop the reply.
func (t *Table[V]) Take(id ID) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return v, ok
}

// Len reports the number of entries still outstanding.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// PurgeAll drops every outstanding entry, returning them so the caller
// can log which correlation ids were abandoned at the phase deadline.
func (t *Table[V]) PurgeAll() map[ID]V {
	t.mu.Lock()
	defer t.mu.Unlock()
	purged := t.entries
	t.entries = make(map[ID]V)
	return purged
}
