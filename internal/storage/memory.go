package storage

import (
	"encoding/gob"
	"io"
	"sync"

	"github.com/vectorcore/vectorcore/internal/record"
)

// MemoryBackend is the simplest storage variant: a hash map id -> record,
// guarded by its own mutex in addition to the owning shard's RWMutex.
type MemoryBackend struct {
	mu   sync.Mutex // held by every method that reads or writes data
	data map[string]*record.Vector
}

// NewMemory constructs an empty in-memory map backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]*record.Vector)}
}

func (m *MemoryBackend) Insert(v *record.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[v.ID] = v.Clone()
	return nil
}

func (m *MemoryBackend) Get(id string) (*record.Vector, error) {
	m.mu.Lock()
	v, ok := m.data[id]
	m.mu.Unlock()
	if !ok {
		return nil, notFound("storage.memory.get", id)
	}
	return v.Clone(), nil
}

func (m *MemoryBackend) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return notFound("storage.memory.delete", id)
	}
	delete(m.data, id)
	return nil
}

func (m *MemoryBackend) Iter(fn func(*record.Vector) bool) {
	m.mu.Lock()
	snapshot := make([]*record.Vector, 0, len(m.data))
	for _, v := range m.data {
		snapshot = append(snapshot, v)
	}
	m.mu.Unlock()
	for _, v := range snapshot {
		if !fn(v) {
			return
		}
	}
}

func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Save writes a gob snapshot of every record, grounded on pkg/core/io.go's
// persistence idiom.
func (m *MemoryBackend) Save(w io.Writer) error {
	m.mu.Lock()
	entries := make([]snapshotEntry, 0, len(m.data))
	for _, v := range m.data {
		entries = append(entries, entryFromVector(v))
	}
	m.mu.Unlock()
	return gob.NewEncoder(w).Encode(entries)
}

// LoadMemory reconstructs a MemoryBackend from a Save snapshot.
func LoadMemory(r io.Reader) (*MemoryBackend, error) {
	var entries []snapshotEntry
	if err := gob.NewDecoder(r).Decode(&entries); err != nil {
		return nil, err
	}
	m := NewMemory()
	for _, e := range entries {
		m.data[e.ID] = vectorFromEntry(e)
	}
	return m, nil
}

func (m *MemoryBackend) Close() error { return nil }
