// Package store implements the L4 process-wide registry (spec §4.8):
// collection CRUD, whole-dataset snapshot/restore, and a background
// auto-save loop. Grounded on contextd's internal/vectorstore/factory.go
// (functional-options NewStore) and health.go (background-monitor
// goroutine shape), and on pkg/core/io.go's gob-based persistence idiom
// for the collection directories this package fans out over.
package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vectorcore/vectorcore/internal/collection"
	"github.com/vectorcore/vectorcore/internal/embedding"
	"github.com/vectorcore/vectorcore/internal/obs"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// Option configures a Store at construction, mirroring contextd's
// StoreOption functional-options pattern in internal/vectorstore/factory.go.
type Option func(*Store)

// WithLogger installs a structured logger. Defaults to obs.NopLogger().
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics installs a metrics sink. Defaults to nil (no metrics).
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithAutoSaveInterval overrides the default auto-save sweep period.
func WithAutoSaveInterval(d time.Duration) Option {
	return func(s *Store) { s.autoSaveInterval = d }
}

// Store is the process-wide collection registry (spec §4.8).
type Store struct {
	dataDir string
	logger  *zap.Logger
	metrics *obs.Metrics

	mu          sync.RWMutex
	collections map[string]*collection.Collection
	specs       map[string]ProviderSpec

	denseFuncs map[string]embedding.DenseFunc

	autoSaveInterval time.Duration
	stopAutoSave     context.CancelFunc
	autoSaveDone     chan struct{}
}

// CollectionInfo is the §6.1 list_collections shape: name plus a stats
// snapshot.
type CollectionInfo struct {
	Name       string
	Dimension  int
	Metric     string
	ShardCount int
	VectorCount int
}

// NewStore constructs a Store rooted at dataDir. dataDir is created if
// absent. Named NewStore (rather than the package-idiomatic New) to match
// contextd's factory.go NewStore(cfg, ..., opts...) shape; it takes
// dataDir plus functional Options instead of a single *config.Config
// because config.Config is a frozen per-collection type (it requires a
// positive Dimension) and store-wide settings — the data root, the
// logger, the metrics sink — are a different concern with no natural
// single dimension of their own.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	const op = "store.new"
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, vectorerr.New(vectorerr.IoError, op, err)
	}
	s := &Store{
		dataDir:          dataDir,
		logger:           obs.NopLogger(),
		collections:      make(map[string]*collection.Collection),
		specs:            make(map[string]ProviderSpec),
		denseFuncs:       make(map[string]embedding.DenseFunc),
		autoSaveInterval: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.reopenExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

// reopenExisting scans dataDir for collection directories left over from a
// prior process and reloads each one via collection.RestoreCollection, so
// an API-created collection reappears after a plain process restart and
// not only after an explicit Store.Restore(archive) (spec §3 Lifecycle,
// §9 "collection persistence on restart"). A directory counts as a
// collection iff it holds a config.bin; the restore staging/backup
// directories Store.Restore uses live beside dataDir, not inside it, so
// they are never mistaken for one.
func (s *Store) reopenExisting() error {
	const op = "store.reopen_existing"
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		dir := s.collectionDir(name)
		if _, err := os.Stat(filepath.Join(dir, "config.bin")); err != nil {
			continue
		}

		spec, err := loadProviderSpec(dir)
		if err != nil {
			return err
		}
		dim, err := peekDimension(dir)
		if err != nil {
			return err
		}
		provider, err := buildProvider(spec, dim, s.denseFuncs)
		if err != nil {
			return err
		}
		col, err := collection.RestoreCollection(name, dir, provider, s.logger)
		if err != nil {
			return err
		}
		s.collections[name] = col
		s.specs[name] = spec
		s.logger.Info("collection reopened", zap.String("collection", name))
	}
	return nil
}

// RegisterDenseFunc makes a dense embedding function available to
// collections created or restored with ProviderDense/ProviderSVD-over-dense
// specs naming it, matching contextd's embedder-injection seam without
// this package needing to depend on any specific inference runtime.
func (s *Store) RegisterDenseFunc(name string, fn embedding.DenseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denseFuncs[name] = fn
}

func (s *Store) collectionDir(name string) string {
	return filepath.Join(s.dataDir, name)
}

// CreateCollection creates a new collection and durably snapshots its
// initial (empty) state before returning, so it is guaranteed to
// re-appear after a restart even if the process crashes immediately
// afterward — the §3 Lifecycle requirement that historically regressed
// in the source this spec was distilled from (spec §9 Open Questions).
func (s *Store) CreateCollection(ctx context.Context, name string, cfg collection.Config, spec ProviderSpec) error {
	const op = "store.create_collection"
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[name]; exists {
		return vectorerr.New(vectorerr.AlreadyExists, op, nil)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	provider, err := buildProvider(spec, cfg.Dimension, s.denseFuncs)
	if err != nil {
		return err
	}

	dir := s.collectionDir(name)
	col, err := collection.New(name, cfg, dir, provider, s.logger)
	if err != nil {
		return err
	}

	if err := col.Snapshot(dir); err != nil {
		return err
	}
	if err := saveProviderSpec(dir, spec); err != nil {
		return err
	}

	s.collections[name] = col
	s.specs[name] = spec
	if s.metrics != nil {
		s.metrics.CollectionsTotal.Set(float64(len(s.collections)))
	}
	s.logger.Info("collection created", zap.String("collection", name))
	return nil
}

// DeleteCollection removes a collection from the registry and its
// on-disk directory.
func (s *Store) DeleteCollection(name string) error {
	const op = "store.delete_collection"
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[name]; !exists {
		return vectorerr.New(vectorerr.CollectionNotFound, op, nil)
	}
	delete(s.collections, name)
	delete(s.specs, name)
	if err := os.RemoveAll(s.collectionDir(name)); err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	if s.metrics != nil {
		s.metrics.CollectionsTotal.Set(float64(len(s.collections)))
	}
	s.logger.Info("collection deleted", zap.String("collection", name))
	return nil
}

// GetCollection returns a shared reference to a registered collection.
// Callers must not hold it across yield points longer than needed (spec
// §4.8).
func (s *Store) GetCollection(name string) (*collection.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, exists := s.collections[name]
	if !exists {
		return nil, vectorerr.New(vectorerr.CollectionNotFound, "store.get_collection", nil)
	}
	return col, nil
}

// ListCollections returns every registered collection's name and stats.
func (s *Store) ListCollections() []CollectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CollectionInfo, 0, len(s.collections))
	for name, col := range s.collections {
		cfg := col.Config()
		tree := col.Tree()
		out = append(out, CollectionInfo{
			Name:        name,
			Dimension:   cfg.Dimension,
			Metric:      string(cfg.Metric),
			ShardCount:  len(tree.Leaves()),
			VectorCount: tree.Size(),
		})
		if s.metrics != nil {
			s.metrics.ShardsTotal.WithLabelValues(name).Set(float64(len(tree.Leaves())))
			s.metrics.VectorsTotal.WithLabelValues(name).Set(float64(tree.Size()))
		}
	}
	return out
}

// snapshotAll forces every dirty collection to snapshot, used by both
// Snapshot (the full archive) and the auto-save loop.
func (s *Store) snapshotAll(force bool) error {
	s.mu.RLock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		s.mu.RLock()
		col, exists := s.collections[name]
		s.mu.RUnlock()
		if !exists {
			continue
		}
		if !force && !col.Dirty() {
			continue
		}
		if err := col.Snapshot(s.collectionDir(name)); err != nil {
			return fmt.Errorf("store: snapshot collection %q: %w", name, err)
		}
	}
	return nil
}

func saveProviderSpec(dir string, spec ProviderSpec) error {
	const op = "store.save_provider_spec"
	f, err := os.Create(filepath.Join(dir, "provider_spec.bin"))
	if err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(spec); err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	return nil
}

func loadProviderSpec(dir string) (ProviderSpec, error) {
	const op = "store.load_provider_spec"
	f, err := os.Open(filepath.Join(dir, "provider_spec.bin"))
	if err != nil {
		return ProviderSpec{}, vectorerr.New(vectorerr.IoError, op, err)
	}
	defer f.Close()
	var spec ProviderSpec
	if err := gob.NewDecoder(f).Decode(&spec); err != nil {
		return ProviderSpec{}, vectorerr.New(vectorerr.IoError, op, err)
	}
	return spec, nil
}

// Close stops the auto-save loop if running.
func (s *Store) Close() error {
	s.mu.Lock()
	cancel := s.stopAutoSave
	done := s.autoSaveDone
	s.stopAutoSave = nil
	s.autoSaveDone = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
