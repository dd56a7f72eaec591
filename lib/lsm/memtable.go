package lsm

import (
	"sort"
	"sync"
)

// memtable is the mutable, in-memory write buffer. Writers hold mu only
// long enough to mutate the map and keys slice; nothing that blocks on I/O
// ever runs while mu is held.
type memtable struct {
	mu        sync.RWMutex
	entries   map[string]Record
	keys      []string // kept sorted; rebuilt lazily on read after a burst of writes
	sizeBytes int
	dirty     bool // true when keys needs re-sorting
}

func newMemtable() *memtable {
	return &memtable{entries: make(map[string]Record)}
}

// upsert inserts or overwrites the record for r.Key, growing sizeBytes by
// the delta between the new and any previous record.
func (m *memtable) upsert(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(r.Key)
	if old, ok := m.entries[k]; ok {
		m.sizeBytes -= old.Size()
	} else {
		m.keys = append(m.keys, k)
		m.dirty = true
	}
	m.entries[k] = r
	m.sizeBytes += r.Size()
}

// get returns the record stored for key, if any.
func (m *memtable) get(key []byte) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.entries[string(key)]
	return r, ok
}

// size reports the current approximate footprint in bytes.
func (m *memtable) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes
}

// snapshot returns records in [from, to) in ascending key order. The
// returned slice is a private copy safe for the caller to iterate without
// holding any lock.
func (m *memtable) snapshot(from, to []byte) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dirty {
		sort.Strings(m.keys)
		m.dirty = false
	}

	lo := 0
	if from != nil {
		lo = sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= string(from) })
	}
	out := make([]Record, 0, len(m.keys)-lo)
	for i := lo; i < len(m.keys); i++ {
		if to != nil && m.keys[i] >= string(to) {
			break
		}
		out = append(out, m.entries[m.keys[i]])
	}
	return out
}

// clear empties the memtable. Called only once the caller has durably
// flushed its contents to an SSTable.
func (m *memtable) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Record)
	m.keys = nil
	m.sizeBytes = 0
	m.dirty = false
}
