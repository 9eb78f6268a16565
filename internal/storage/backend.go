// Package storage implements the L1 storage backend: the canonical bytes
// of each vector plus side data, independent of the graph index. Grounded
// on pkg/core/io.go's gob snapshot idiom for persistence and contextd's
// wal.go atomic-file-write helpers for crash-safe writes.
package storage

import (
	"encoding/gob"
	"io"

	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// Kind selects a storage backend variant, per spec §6.3 storage.kind.
type Kind string

const (
	KindMemory Kind = "memory"
	KindMmap   Kind = "mmap"
)

// Backend is the capability set {insert, get, delete, iter} every storage
// variant exposes, per spec §9 ("Dynamic dispatch across storage/embedding
// variants... capability set {insert, get, delete, iter}").
type Backend interface {
	Insert(v *record.Vector) error
	Get(id string) (*record.Vector, error)
	Delete(id string) error
	Iter(fn func(*record.Vector) bool)
	Len() int
	Save(w io.Writer) error
	Close() error
}

type snapshotEntry struct {
	ID       string
	Dense    []float32
	Sparse   map[int]float32
	Metadata map[string]any
}

func init() {
	gob.Register(map[string]any{})
}

func entryFromVector(v *record.Vector) snapshotEntry {
	return snapshotEntry{ID: v.ID, Dense: v.Dense, Sparse: v.Sparse, Metadata: v.Metadata}
}

func vectorFromEntry(e snapshotEntry) *record.Vector {
	return &record.Vector{ID: e.ID, Dense: e.Dense, Sparse: e.Sparse, Metadata: e.Metadata}
}

func notFound(op, id string) error {
	return vectorerr.Newf(vectorerr.VectorNotFound, op, "id %q not found", id)
}
