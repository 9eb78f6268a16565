// Package shard implements the L2 shard: one ANN graph index, one storage
// backend, one WAL segment, and a stats record, bounded to at most
// target_max vectors (spec §3 "Shard"). Grounded on pkg/core/store_index.go
// and pkg/core/store_crud.go's "validate, mutate memory, then persist"
// idiom, generalized to own an explicit WAL instead of a SQL transaction.
package shard

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vectorcore/vectorcore/internal/graph"
	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/storage"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
	"github.com/vectorcore/vectorcore/internal/walog"
)

// State is a shard's lifecycle state, per spec §4.4's state machine.
type State int

const (
	StateLive State = iota
	StateSplittingSource
	StateMergingParticipant
	StateRetired
)

// Stats mirrors spec §3's "stats record (size, latency histograms,
// counters)".
type Stats struct {
	Size            int
	TombstoneCount  int
	InsertLatencyP50 time.Duration
	InsertLatencyP99 time.Duration
	SearchLatencyP50 time.Duration
	SearchLatencyP99 time.Duration
	LastSplitAt     time.Time
	LastMergeAt     time.Time
}

// Config configures a new shard.
type Config struct {
	ID          string
	Dimension   int
	Metric      graph.Metric
	M           int
	EfConstruction int
	TargetMax   int
	StorageKind storage.Kind
	DataDir     string
	FsyncEveryN int

	// Logger receives this shard's durability/integrity events. Nil
	// defaults to a no-op logger (spec SPEC_FULL §2 ambient stack: "one
	// *zap.Logger threaded from store.Store down through
	// collection.Collection and shard.Shard").
	Logger *zap.Logger
}

// Shard is the unit of write concurrency: reads hold a shared lock, writes
// hold an exclusive lock (spec §5).
type Shard struct {
	mu sync.RWMutex

	ID        string
	TargetMax int
	state     State

	index   *graph.HNSW
	backend storage.Backend
	wal     *walog.WAL
	logger  *zap.Logger

	insertLat latencyHistogram
	searchLat latencyHistogram
}

// New constructs a fresh Live shard with an empty index, storage backend
// and WAL.
func New(cfg Config) (*Shard, error) {
	idx := graph.New(graph.Config{
		Dimension: cfg.Dimension, Metric: cfg.Metric, M: cfg.M, EfConstruction: cfg.EfConstruction,
	})

	var backend storage.Backend
	var err error
	switch cfg.StorageKind {
	case storage.KindMmap:
		backend, err = storage.NewMmap(filepath.Join(cfg.DataDir, "storage.bin"), cfg.Dimension)
	default:
		backend = storage.NewMemory()
	}
	if err != nil {
		return nil, err
	}

	w, err := walog.Open(filepath.Join(cfg.DataDir, "wal"), cfg.FsyncEveryN)
	if err != nil {
		return nil, err
	}

	targetMax := cfg.TargetMax
	if targetMax <= 0 {
		targetMax = 10000
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Shard{
		ID: cfg.ID, TargetMax: targetMax, state: StateLive,
		index: idx, backend: backend, wal: w, logger: logger,
	}, nil
}

// State returns the shard's current lifecycle state.
func (s *Shard) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState transitions the shard's lifecycle state (tree-level code is
// responsible for enforcing the legal transitions in spec §4.4).
func (s *Shard) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Insert journals the mutation, then applies it to the graph and storage.
// The WAL entry is written before memory is mutated; WAL.Append assigns
// the entry's seq and advances the WAL's next seq as soon as the entry is
// written, before the graph and storage are touched.
func (s *Shard) Insert(v *record.Vector) error {
	const op = "shard.insert"
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRetired {
		return vectorerr.New(vectorerr.ShardNotFound, op, nil)
	}

	if err := s.wal.Append(walog.Entry{Op: walog.OpInsert, ID: v.ID, Vector: v.Dense, Metadata: v.Metadata}); err != nil {
		s.logger.Error("wal append failed, shard degraded", zap.String("shard", s.ID), zap.Error(err))
		return err
	}
	if err := s.index.Insert(v.ID, v.Dense); err != nil {
		return err
	}
	if err := s.backend.Insert(v); err != nil {
		return err
	}
	s.insertLat.observe(time.Since(start))
	return nil
}

// Delete tombstones id in the graph and frees its storage slot atomically
// within the shard's write lock (spec §4.2's invariant).
func (s *Shard) Delete(id string) error {
	const op = "shard.delete"
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.index.GetVector(id); err != nil {
		return err
	}
	if err := s.wal.Append(walog.Entry{Op: walog.OpDelete, ID: id}); err != nil {
		s.logger.Error("wal append failed, shard degraded", zap.String("shard", s.ID), zap.Error(err))
		return err
	}
	if err := s.index.MarkDeleted(id); err != nil {
		return err
	}
	if err := s.backend.Delete(id); err != nil {
		return err
	}
	return nil
}

// Result is one (id, score) pair from a local search.
type Result struct {
	ID    string
	Score float32
}

// Search runs a local top-k query against the graph. Read operations hold
// a shared lock (spec §5).
func (s *Shard) Search(query []float32, k, ef int) ([]Result, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, scores, err := s.index.Search(query, k, ef)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(ids))
	for i := range ids {
		out[i] = Result{ID: ids[i], Score: scores[i]}
	}
	s.searchLat.observe(time.Since(start))
	return out, nil
}

// GetVector returns the stored record for id.
func (s *Shard) GetVector(id string) (*record.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Get(id)
}

// Size returns the shard's live vector count.
func (s *Shard) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Size()
}

// Iter visits every live vector in the shard's storage backend.
func (s *Shard) Iter(fn func(*record.Vector) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.backend.Iter(fn)
}

// Stats reports the shard's current size/latency/tombstone counters.
func (s *Shard) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxStats := s.index.Stats()
	tombstoned, _ := idxStats["tombstoned"].(int)
	return Stats{
		Size:             s.index.Size(),
		TombstoneCount:   tombstoned,
		InsertLatencyP50: s.insertLat.percentile(50),
		InsertLatencyP99: s.insertLat.percentile(99),
		SearchLatencyP50: s.searchLat.percentile(50),
		SearchLatencyP99: s.searchLat.percentile(99),
	}
}

// WAL exposes the shard's write-ahead log for tree-level split/merge
// journaling.
func (s *Shard) WAL() *walog.WAL { return s.wal }

// Snapshot writes the shard's graph and storage to dir (spec §6.2's
// shards/<shard_id>/{index.bin,storage.bin}) and truncates the WAL up to
// the sequence covered by the snapshot, so a subsequent restore only
// needs to replay entries written after this point.
func (s *Shard) Snapshot(dir string) error {
	const op = "shard.snapshot"
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}

	indexFile, err := os.Create(filepath.Join(dir, "index.bin"))
	if err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	defer indexFile.Close()
	if err := s.index.Save(indexFile); err != nil {
		return err
	}

	storageFile, err := os.Create(filepath.Join(dir, "storage.bin"))
	if err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	defer storageFile.Close()
	if err := s.backend.Save(storageFile); err != nil {
		return err
	}

	return s.wal.Truncate(s.wal.NextSeq() - 1)
}

// Restore reconstructs a shard by loading a prior Snapshot and replaying
// any WAL entries written since.
func Restore(cfg Config, snapshotDir string) (*Shard, error) {
	const op = "shard.restore"

	indexFile, err := os.Open(filepath.Join(snapshotDir, "index.bin"))
	if err != nil {
		return nil, vectorerr.New(vectorerr.IoError, op, err)
	}
	defer indexFile.Close()
	idx, err := graph.Load(indexFile, 300, 1)
	if err != nil {
		return nil, err
	}

	var backend storage.Backend
	storageFile, err := os.Open(filepath.Join(snapshotDir, "storage.bin"))
	if err != nil {
		return nil, vectorerr.New(vectorerr.IoError, op, err)
	}
	defer storageFile.Close()
	switch cfg.StorageKind {
	case storage.KindMmap:
		backend, err = storage.LoadMmap(storageFile, filepath.Join(cfg.DataDir, "storage.bin"))
	default:
		backend, err = storage.LoadMemory(storageFile)
	}
	if err != nil {
		return nil, err
	}

	w, err := walog.Open(filepath.Join(cfg.DataDir, "wal"), cfg.FsyncEveryN)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Shard{ID: cfg.ID, TargetMax: cfg.TargetMax, state: StateLive, index: idx, backend: backend, wal: w, logger: logger}
	if s.TargetMax <= 0 {
		s.TargetMax = 10000
	}

	if err := w.Replay(0, func(e walog.Entry) error {
		switch e.Op {
		case walog.OpInsert:
			if err := idx.Insert(e.ID, e.Vector); err != nil {
				return err
			}
			return backend.Insert(&record.Vector{ID: e.ID, Dense: e.Vector, Metadata: e.Metadata})
		case walog.OpDelete:
			if err := idx.MarkDeleted(e.ID); err != nil {
				return err
			}
			return backend.Delete(e.ID)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// Close releases the shard's storage and WAL resources.
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Close(); err != nil {
		return err
	}
	return s.wal.Close()
}

// latencyHistogram is a small fixed-size ring buffer of recent latencies,
// avoiding a dependency for what spec §3 only needs approximate
// percentiles for.
type latencyHistogram struct {
	mu      sync.Mutex
	samples [256]time.Duration
	count   int
	next    int
}

func (h *latencyHistogram) observe(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = d
	h.next = (h.next + 1) % len(h.samples)
	if h.count < len(h.samples) {
		h.count++
	}
}

func (h *latencyHistogram) percentile(p int) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	sorted := make([]time.Duration, h.count)
	copy(sorted, h.samples[:h.count])
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
