package storage

import (
	"encoding/gob"
	"io"
	"math"
	"os"
	"sync"
	"syscall"

	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// MmapBackend memory-maps a dense D*4-byte-slot file, appended in insertion
// order; side maps (id->slot, metadata, sparse payload, free-slot bitmap)
// live in memory and are snapshotted separately via gob. Grounded on
// spec §4.2's variant description; no example repo in the pack carries an
// mmap dependency, so this is built directly on the standard library's
// syscall.Mmap rather than inventing a third-party dependency (documented
// as a stdlib exception in DESIGN.md).
type MmapBackend struct {
	mu sync.Mutex

	dimension int
	path      string
	file      *os.File
	mapped    []byte // mmap of the current file region
	capacity  int     // slots currently backed by the mapping

	slotOf   map[string]int
	idOfSlot map[int]string
	metadata map[string]map[string]any
	sparse   map[string]map[int]float32
	free     map[int]bool
}

const growChunkSlots = 4096

// NewMmap opens (creating if necessary) a dense vector file at path.
func NewMmap(path string, dimension int) (*MmapBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, vectorerr.New(vectorerr.IoError, "storage.mmap.open", err)
	}
	m := &MmapBackend{
		dimension: dimension,
		path:      path,
		file:      f,
		slotOf:    make(map[string]int),
		idOfSlot:  make(map[int]string),
		metadata:  make(map[string]map[string]any),
		sparse:    make(map[string]map[int]float32),
		free:      make(map[int]bool),
	}
	if err := m.remapLocked(growChunkSlots); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

func (m *MmapBackend) slotBytes() int { return m.dimension * 4 }

func (m *MmapBackend) remapLocked(minSlots int) error {
	if minSlots <= m.capacity {
		return nil
	}
	if m.mapped != nil {
		if err := syscall.Munmap(m.mapped); err != nil {
			return vectorerr.New(vectorerr.IoError, "storage.mmap.unmap", err)
		}
		m.mapped = nil
	}
	newSize := int64(minSlots) * int64(m.slotBytes())
	if err := m.file.Truncate(newSize); err != nil {
		return vectorerr.New(vectorerr.IoError, "storage.mmap.truncate", err)
	}
	mapped, err := syscall.Mmap(int(m.file.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return vectorerr.New(vectorerr.IoError, "storage.mmap.map", err)
	}
	m.mapped = mapped
	m.capacity = minSlots
	return nil
}

func (m *MmapBackend) Insert(v *record.Vector) error {
	const op = "storage.mmap.insert"
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, existed := m.slotOf[v.ID]
	if !existed {
		slot = m.allocSlotLocked()
		if err := m.remapLocked(slot + 1); err != nil {
			return err
		}
	}
	m.writeSlotLocked(slot, v.Dense)
	m.slotOf[v.ID] = slot
	m.idOfSlot[slot] = v.ID
	delete(m.free, slot)
	if v.Metadata != nil {
		m.metadata[v.ID] = v.Metadata
	}
	if v.Sparse != nil {
		m.sparse[v.ID] = v.Sparse
	}
	_ = op
	return nil
}

func (m *MmapBackend) allocSlotLocked() int {
	for slot := range m.free {
		return slot
	}
	return len(m.slotOf) + len(m.free)
}

func (m *MmapBackend) writeSlotLocked(slot int, dense []float32) {
	base := slot * m.slotBytes()
	for i, f := range dense {
		bits := math.Float32bits(f)
		off := base + i*4
		m.mapped[off] = byte(bits)
		m.mapped[off+1] = byte(bits >> 8)
		m.mapped[off+2] = byte(bits >> 16)
		m.mapped[off+3] = byte(bits >> 24)
	}
}

func (m *MmapBackend) readSlotLocked(slot int) []float32 {
	base := slot * m.slotBytes()
	out := make([]float32, m.dimension)
	for i := range out {
		off := base + i*4
		bits := uint32(m.mapped[off]) | uint32(m.mapped[off+1])<<8 | uint32(m.mapped[off+2])<<16 | uint32(m.mapped[off+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func (m *MmapBackend) Get(id string) (*record.Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slotOf[id]
	if !ok {
		return nil, notFound("storage.mmap.get", id)
	}
	return &record.Vector{
		ID:       id,
		Dense:    m.readSlotLocked(slot),
		Metadata: m.metadata[id],
		Sparse:   m.sparse[id],
	}, nil
}

// Delete frees the slot in the side bitmap; the slot's bytes are left in
// place (reclaimed only by offline compaction, per spec §4.2).
func (m *MmapBackend) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slotOf[id]
	if !ok {
		return notFound("storage.mmap.delete", id)
	}
	delete(m.slotOf, id)
	delete(m.idOfSlot, slot)
	delete(m.metadata, id)
	delete(m.sparse, id)
	m.free[slot] = true
	return nil
}

func (m *MmapBackend) Iter(fn func(*record.Vector) bool) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.slotOf))
	for id := range m.slotOf {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		v, err := m.Get(id)
		if err != nil {
			continue
		}
		if !fn(v) {
			return
		}
	}
}

func (m *MmapBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slotOf)
}

type mmapSnapshot struct {
	Dimension int
	SlotOf    map[string]int
	Metadata  map[string]map[string]any
	Sparse    map[string]map[int]float32
	Free      map[int]bool
}

// Save persists the side maps; the dense slots themselves already live in
// the backing file at m.path and are not duplicated into the snapshot.
func (m *MmapBackend) Save(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return vectorerr.New(vectorerr.IoError, "storage.mmap.save", err)
	}
	snap := mmapSnapshot{
		Dimension: m.dimension, SlotOf: m.slotOf,
		Metadata: m.metadata, Sparse: m.sparse, Free: m.free,
	}
	return gob.NewEncoder(w).Encode(snap)
}

// LoadMmap reconstructs an MmapBackend's side maps and reopens the dense
// file at path.
func LoadMmap(r io.Reader, path string) (*MmapBackend, error) {
	var snap mmapSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, vectorerr.New(vectorerr.IoError, "storage.mmap.load", err)
	}
	m, err := NewMmap(path, snap.Dimension)
	if err != nil {
		return nil, err
	}
	m.slotOf = snap.SlotOf
	m.metadata = snap.Metadata
	m.sparse = snap.Sparse
	m.free = snap.Free
	for id, slot := range m.slotOf {
		m.idOfSlot[slot] = id
	}
	maxSlot := 0
	for _, slot := range m.slotOf {
		if slot+1 > maxSlot {
			maxSlot = slot + 1
		}
	}
	if err := m.remapLocked(maxSlot); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MmapBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapped != nil {
		syscall.Munmap(m.mapped)
		m.mapped = nil
	}
	return m.file.Close()
}
