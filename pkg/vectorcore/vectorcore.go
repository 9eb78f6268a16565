// Package vectorcore is the public façade over the core engine: the
// exact method set of spec §6.1's core API, re-exported so embedders
// import this package rather than reaching into internal/ (SPEC_FULL §6:
// "pkg/vectorcore is the public façade package re-exporting the core API
// with the exact method set of §6.1, so embedders import
// github.com/vectorcore/vectorcore/pkg/vectorcore rather than reaching
// into internal/"). Every method here is a thin pass-through to
// internal/store, internal/collection, and internal/hybrid — no
// behavior lives in this package beyond looking collections up by name
// (HybridSearch resolves its collection names before calling
// hybrid.Search); CollectionConfig and the other types are aliases of the
// internal ones.
package vectorcore

import (
	"context"

	"go.uber.org/zap"

	"github.com/vectorcore/vectorcore/internal/collection"
	"github.com/vectorcore/vectorcore/internal/embedding"
	"github.com/vectorcore/vectorcore/internal/graph"
	"github.com/vectorcore/vectorcore/internal/hybrid"
	"github.com/vectorcore/vectorcore/internal/obs"
	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/shardtree"
	"github.com/vectorcore/vectorcore/internal/storage"
	"github.com/vectorcore/vectorcore/internal/store"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// Re-exported error kinds and constructors (spec §7), so callers never
// need to import internal/vectorerr directly.
type (
	ErrorKind = vectorerr.Kind
	Error     = vectorerr.Error
)

const (
	ErrInvalidConfig         = vectorerr.InvalidConfig
	ErrDimensionMismatch     = vectorerr.DimensionMismatch
	ErrInvalidVector         = vectorerr.InvalidVector
	ErrDuplicateId           = vectorerr.DuplicateId
	ErrCollectionNotFound    = vectorerr.CollectionNotFound
	ErrVectorNotFound        = vectorerr.VectorNotFound
	ErrShardNotFound         = vectorerr.ShardNotFound
	ErrAlreadyExists         = vectorerr.AlreadyExists
	ErrAlreadySharded        = vectorerr.AlreadySharded
	ErrNotSharded            = vectorerr.NotSharded
	ErrSplitNotNeeded        = vectorerr.SplitNotNeeded
	ErrMergeWouldExceedLimit = vectorerr.MergeWouldExceedLimit
	ErrIoError               = vectorerr.IoError
	ErrWalCorruption         = vectorerr.WalCorruption
	ErrChecksumMismatch      = vectorerr.ChecksumMismatch
	ErrVersionMismatch       = vectorerr.VersionMismatch
	ErrCancelled             = vectorerr.Cancelled
	ErrDeadlineExceeded      = vectorerr.DeadlineExceeded
	ErrResourceExhausted     = vectorerr.ResourceExhausted
	ErrEmbeddingFailure      = vectorerr.EmbeddingFailure
	ErrGraphInconsistent     = vectorerr.GraphInconsistent
)

// Metric is the distance metric a collection scores with (spec §6.3).
type Metric = graph.Metric

const (
	MetricCosine    = graph.MetricCosine
	MetricEuclidean = graph.MetricEuclidean
	MetricDot       = graph.MetricDot
)

// StorageKind selects a collection's storage backend (spec §6.3
// storage.kind).
type StorageKind = storage.Kind

const (
	StorageMemory StorageKind = storage.KindMemory
	StorageMmap   StorageKind = storage.KindMmap
)

// RoutingStrategy and SplitStrategy re-export the sharding.* enums.
type (
	RoutingStrategy = shardtree.RoutingStrategy
	SplitStrategy   = shardtree.SplitStrategy
)

const (
	RoutingMinSize    = shardtree.RoutingMinSize
	RoutingHashRange  = shardtree.RoutingHashRange
	RoutingRoundRobin = shardtree.RoutingRoundRobin
	SplitHash         = shardtree.SplitHash
	SplitTwoMeans     = shardtree.SplitTwoMeans
)

// CollectionConfig is the public spec §6.3 configuration surface passed
// to CreateCollection.
type CollectionConfig = collection.Config

// VectorRecord is the public spec §3 vector record.
type VectorRecord = record.Vector

// TextInsert is one (id, text, metadata) insert_text input.
type TextInsert = collection.TextRecord

// SearchHit is one (id, score, optional metadata snippet) search result.
type SearchHit = collection.SearchResult

// ProviderKind and ProviderSpec select and describe a collection's
// embedding provider (spec §4.6/§6.4).
type (
	ProviderKind = store.ProviderKind
	ProviderSpec = store.ProviderSpec
)

const (
	ProviderBagOfTokens = store.ProviderBagOfTokens
	ProviderTFIDF       = store.ProviderTFIDF
	ProviderBM25        = store.ProviderBM25
	ProviderSVD         = store.ProviderSVD
	ProviderDense       = store.ProviderDense
)

// DenseFunc is the external dense-embedding seam (spec §1/§4.6: model
// inference is out of scope; this is the contract a caller plugs a real
// model into via Store.RegisterDenseFunc).
type DenseFunc = embedding.DenseFunc

// CollectionInfo is the spec §6.1 list_collections element shape.
type CollectionInfo = store.CollectionInfo

// HybridOptions and HybridResult re-export the hybrid pipeline's public
// shapes (spec §4.5/§6.1 hybrid_search).
type (
	HybridOptions     = hybrid.Options
	HybridResult      = hybrid.Result
	HybridDiagnostics = hybrid.Diagnostics
	HybridEvidence    = hybrid.Evidence
)

// DefaultHybridOptions returns the spec's default hybrid weights.
func DefaultHybridOptions() HybridOptions { return hybrid.DefaultOptions() }

// Option configures a Store at construction.
type Option = store.Option

// WithLogger installs a structured logger, threaded down through every
// collection and shard the store creates or restores (SPEC_FULL §2).
func WithLogger(l *zap.Logger) Option { return store.WithLogger(l) }

// WithMetrics installs a prometheus metrics sink.
func WithMetrics(m *obs.Metrics) Option { return store.WithMetrics(m) }

// Store is the top-level handle embedders construct: the process-wide
// collection registry (spec §4.8).
type Store struct {
	inner *store.Store
}

// Open constructs a Store rooted at dataDir.
func Open(dataDir string, opts ...Option) (*Store, error) {
	s, err := store.NewStore(dataDir, opts...)
	if err != nil {
		return nil, err
	}
	return &Store{inner: s}, nil
}

// RegisterDenseFunc makes a dense embedding function available to
// collections created or restored with ProviderDense/ProviderSVD specs
// naming it.
func (s *Store) RegisterDenseFunc(name string, fn DenseFunc) { s.inner.RegisterDenseFunc(name, fn) }

// StartAutoSave launches the background auto-save loop (spec §4.8).
func (s *Store) StartAutoSave(ctx context.Context) { s.inner.StartAutoSave(ctx) }

// Close stops any running auto-save loop.
func (s *Store) Close() error { return s.inner.Close() }

// CreateCollection implements spec §6.1 create_collection.
func (s *Store) CreateCollection(ctx context.Context, name string, cfg CollectionConfig, spec ProviderSpec) error {
	return s.inner.CreateCollection(ctx, name, cfg, spec)
}

// DeleteCollection implements spec §6.1 delete_collection.
func (s *Store) DeleteCollection(name string) error { return s.inner.DeleteCollection(name) }

// ListCollections implements spec §6.1 list_collections.
func (s *Store) ListCollections() []CollectionInfo { return s.inner.ListCollections() }

// Snapshot implements spec §6.1 snapshot: a single archive covering
// every registered collection.
func (s *Store) Snapshot(archivePath string) error { return s.inner.Snapshot(archivePath) }

// Restore implements spec §6.1 restore.
func (s *Store) Restore(ctx context.Context, archivePath string) error {
	return s.inner.Restore(ctx, archivePath)
}

// Insert implements spec §6.1 insert: pre-embedded vector records.
func (s *Store) Insert(ctx context.Context, collectionName string, vectors []*VectorRecord) ([]string, error) {
	col, err := s.inner.GetCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return col.Insert(ctx, vectors)
}

// InsertText implements spec §6.1 insert_text.
func (s *Store) InsertText(ctx context.Context, collectionName string, records []TextInsert) ([]string, error) {
	col, err := s.inner.GetCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return col.InsertText(ctx, records)
}

// Delete implements spec §6.1 delete.
func (s *Store) Delete(collectionName string, ids []string) ([]string, error) {
	col, err := s.inner.GetCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return col.Delete(ids)
}

// GetVector implements spec §6.1 get_vector.
func (s *Store) GetVector(collectionName, id string) (*VectorRecord, error) {
	col, err := s.inner.GetCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return col.GetVector(id)
}

// Search implements spec §6.1 search.
func (s *Store) Search(ctx context.Context, collectionName string, query []float32, k, ef int) ([]SearchHit, error) {
	col, err := s.inner.GetCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return col.Search(ctx, query, k, ef)
}

// SearchText implements spec §6.1 search_text.
func (s *Store) SearchText(ctx context.Context, collectionName, query string, k int) ([]SearchHit, error) {
	col, err := s.inner.GetCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return col.SearchText(ctx, query, k)
}

// HybridSearch implements spec §6.1 hybrid_search: lexicalCollections are
// fanned out for candidate retrieval; denseCollection supplies the dense
// reranking embedding (spec §4.5).
func (s *Store) HybridSearch(ctx context.Context, lexicalCollections []string, denseCollection, query string, k int, opts HybridOptions) ([]HybridResult, []HybridEvidence, HybridDiagnostics, error) {
	lexical := make([]*collection.Collection, 0, len(lexicalCollections))
	for _, name := range lexicalCollections {
		col, err := s.inner.GetCollection(name)
		if err != nil {
			return nil, nil, HybridDiagnostics{}, err
		}
		lexical = append(lexical, col)
	}
	var dense *collection.Collection
	if denseCollection != "" {
		col, err := s.inner.GetCollection(denseCollection)
		if err != nil {
			return nil, nil, HybridDiagnostics{}, err
		}
		dense = col
	}
	return hybrid.Search(ctx, lexical, dense, query, k, opts)
}
