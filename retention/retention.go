// Package retention implements the sender-side retention map of spec.md
// §3/§4.5 (component C5): prodindex -> retention entry, guarded by a
// reader/writer lock so concurrent per-connection retransmission
// servicers can look up entries without blocking each other while
// timer-driven removal takes the writer lock.
//
// Grounded on the sync.RWMutex-guarded map pattern in client2/arq.go's
// `ARQ.surbIDMap` (lookup/delete under a single map-wide lock, keyed by an
// opaque identifier) adapted to RMTP's prodindex/pending-receiver-set
// model.
package retention

import (
	"sync"

	"github.com/Unidata/rmtp"
)

// Entry is one live product's retention record (spec.md §3).
type Entry struct {
	Index    rmtp.ProdIndex
	Len      uint32
	Metadata []byte
	Payload  []byte

	mu      sync.Mutex
	pending map[string]bool
}

// NewEntry creates a retention entry with pending seeded from the given
// snapshot of connected receiver stream identifiers.
func NewEntry(index rmtp.ProdIndex, payload, metadata []byte, receivers []string) *Entry {
	pending := make(map[string]bool, len(receivers))
	for _, r := range receivers {
		pending[r] = true
	}
	return &Entry{
		Index:    index,
		Len:      uint32(len(payload)),
		Metadata: metadata,
		Payload:  payload,
		pending:  pending,
	}
}

// releaseReceiver removes streamID from pending. It reports whether this
// call emptied the pending set (i.e. this was the last receiver), which is
// true at most once for any given (entry, streamID) pair: removing a
// streamID not in pending is a no-op.
func (e *Entry) releaseReceiver(streamID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pending[streamID] {
		return false
	}
	delete(e.pending, streamID)
	return len(e.pending) == 0
}

// Map is the sender's retention map: prodindex -> *Entry.
type Map struct {
	mu      sync.RWMutex
	entries map[rmtp.ProdIndex]*Entry
}

// New returns an empty retention map.
func New() *Map {
	return &Map{entries: make(map[rmtp.ProdIndex]*Entry)}
}

// Add inserts entry, keyed by entry.Index. prodindex is guaranteed unique
// across live entries by the sender (spec.md §3 invariant); Add overwrites
// silently if violated, which should never happen in practice.
func (m *Map) Add(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Index] = e
}

// Get looks up a retention entry by prodindex. Safe for concurrent lookups
// from multiple per-connection retransmission servicers.
func (m *Map) Get(index rmtp.ProdIndex) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[index]
	return e, ok
}

// Remove unconditionally removes index from the map (used by the
// retention-timer thread when a deadline expires regardless of pending
// receivers). It reports whether an entry was actually present; repeated
// calls for the same index return true at most once.
func (m *Map) Remove(index rmtp.ProdIndex) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[index]; !ok {
		return false
	}
	delete(m.entries, index)
	return true
}

// ReleaseReceiver retires streamID from index's pending set. If this
// empties the pending set, the entry is removed from the map atomically
// with respect to concurrent Get/Remove calls, and true is returned
// exactly once for that entry.
func (m *Map) ReleaseReceiver(index rmtp.ProdIndex, streamID string) bool {
	m.mu.Lock()
	e, ok := m.entries[index]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	if !e.releaseReceiver(streamID) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[index]; ok && cur == e {
		delete(m.entries, index)
		return true
	}
	return false
}

// Len returns the number of live retention entries.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Indices returns a snapshot of every prodindex currently live in the
// map, for callers (e.g. the connection-loss handler) that must iterate
// all entries to release one receiver from each.
func (m *Map) Indices() []rmtp.ProdIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rmtp.ProdIndex, 0, len(m.entries))
	for idx := range m.entries {
		out = append(out, idx)
	}
	return out
}
