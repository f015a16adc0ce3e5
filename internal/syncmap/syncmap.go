// Package syncmap implements the process-wide, string-keyed slot registry
// that producer plugins and the barlib use to rendezvous (e.g. to share a
// file descriptor). All inserts happen during the single-threaded startup
// phase; the map is then frozen for the rest of the process lifetime.
package syncmap

import "fmt"

// Slot is one map entry. Its address is stable for the process lifetime, so
// collaborators may cache the pointer they obtained before the freeze. The
// map never interprets or releases Value; it points to externally-owned data.
type Slot struct {
	key   string
	Value any
}

// Key returns the key the slot was created under.
func (s *Slot) Key() string { return s.key }

// Map is a flat list of individually allocated slots. Flat storage is
// intentional: entry counts are small, so a scan's locality beats a tree's
// pointer chasing. The map is not locked; it relies on the startup phase
// being single-threaded and on Freeze happening before any producer thread
// or event watcher starts.
type Map struct {
	entries []*Slot
	frozen  bool
}

// New creates an empty, unfrozen map.
func New() *Map {
	return &Map{}
}

// GetOrInsert returns the slot for key, creating it with a nil Value on
// first sight. Creating a slot after Freeze is a broken invariant — a
// collaborator trying to negotiate a new name after the negotiation window
// has closed — and panics rather than failing recoverably.
func (m *Map) GetOrInsert(key string) *Slot {
	for _, e := range m.entries {
		if e.key == key {
			return e
		}
	}
	if m.frozen {
		panic(fmt.Sprintf("syncmap: GetOrInsert(%q) called after the map has been frozen", key))
	}
	e := &Slot{key: key}
	m.entries = append(m.entries, e)
	return e
}

// Freeze closes the negotiation window.
func (m *Map) Freeze() {
	m.frozen = true
}

// Frozen reports whether Freeze has been called.
func (m *Map) Frozen() bool {
	return m.frozen
}

// Len returns the number of slots.
func (m *Map) Len() int {
	return len(m.entries)
}
