// Package collection implements the L3 collection: binds one shard tree,
// one embedding provider, and one frozen config, exposing the core API
// (spec §6.1, §4.7). Grounded on pkg/core/collections.go's CRUD shape and
// pkg/core/store_search.go's "embed then search" sequencing.
package collection

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vectorcore/vectorcore/internal/embedding"
	"github.com/vectorcore/vectorcore/internal/graph"
	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/shard"
	"github.com/vectorcore/vectorcore/internal/shardtree"
	"github.com/vectorcore/vectorcore/internal/storage"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// QuantizationPolicy names a graph-search quantization scheme. Spec §9
// leaves the runtime effect of quantization on graph search unspecified
// ("an implementer should stub the policy enum and decline unsupported
// values rather than invent behavior"), so QuantizationNone is the only
// value this module accepts; anything else is rejected at config-validate
// time instead of guessed at.
type QuantizationPolicy string

const (
	QuantizationNone QuantizationPolicy = "none"
)

// Config is the frozen, per-collection configuration surface (spec §6.3).
type Config struct {
	Dimension      int
	Metric         graph.Metric
	GraphM         int
	EfConstruction int
	EfSearch       int
	StorageKind    storage.Kind
	Quantization   QuantizationPolicy

	ShardingEnabled bool
	TargetMax       int
	SoftLimitRatio  float64
	HardLimitRatio  float64
	Routing         shardtree.RoutingStrategy
	SplitStrategy   shardtree.SplitStrategy

	WALFsyncEveryN    int
	AutoSaveIntervalS int
}

// Validate rejects out-of-range configuration per spec §6.3.
func (c Config) Validate() error {
	const op = "collection.config.validate"
	if c.Dimension <= 0 {
		return vectorerr.New(vectorerr.InvalidConfig, op, nil)
	}
	switch c.Metric {
	case graph.MetricCosine, graph.MetricEuclidean, graph.MetricDot:
	default:
		return vectorerr.New(vectorerr.InvalidConfig, op, nil)
	}
	if c.TargetMax != 0 && (c.TargetMax < 1000 || c.TargetMax > 100000) {
		return vectorerr.New(vectorerr.InvalidConfig, op, nil)
	}
	if c.SoftLimitRatio != 0 && (c.SoftLimitRatio <= 0 || c.SoftLimitRatio > 1) {
		return vectorerr.New(vectorerr.InvalidConfig, op, nil)
	}
	if c.HardLimitRatio != 0 && (c.HardLimitRatio <= c.SoftLimitRatio || c.HardLimitRatio > 1) {
		return vectorerr.New(vectorerr.InvalidConfig, op, nil)
	}
	if c.Quantization != "" && c.Quantization != QuantizationNone {
		return vectorerr.New(vectorerr.InvalidConfig, op, nil)
	}
	return nil
}

// TextRecord is one (id, text, metadata) insert_text input.
type TextRecord struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// SearchResult mirrors the core API's search output: id, score, and an
// optional metadata snippet for search_text.
type SearchResult struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Collection is one named vector collection.
type Collection struct {
	Name string

	mu       sync.RWMutex
	cfg      Config
	tree     *shardtree.Tree
	provider embedding.Provider
	dataDir  string
	dirty    atomic.Bool
	logger   *zap.Logger
}

// New constructs a collection with a single initial shard. logger may be
// nil, in which case the collection and every shard it creates log
// nothing (SPEC_FULL §2 ambient stack: one *zap.Logger threaded from
// store.Store down through collection.Collection and shard.Shard — never
// persisted as part of Config, since Config is gob-encoded verbatim by
// Snapshot and *zap.Logger has no stable gob encoding).
func New(name string, cfg Config, dataDir string, provider embedding.Provider, logger *zap.Logger) (*Collection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	newShard := func(id string) (*shard.Shard, error) {
		return shard.New(shard.Config{
			ID: id, Dimension: cfg.Dimension, Metric: cfg.Metric,
			M: cfg.GraphM, EfConstruction: cfg.EfConstruction, TargetMax: cfg.TargetMax,
			StorageKind: cfg.StorageKind, DataDir: filepath.Join(dataDir, "shards", id),
			FsyncEveryN: cfg.WALFsyncEveryN, Logger: logger,
		})
	}

	initial, err := newShard(uuid.NewString())
	if err != nil {
		return nil, err
	}

	tree := shardtree.New(shardtree.Config{
		Routing: cfg.Routing, SplitStrategy: cfg.SplitStrategy,
		TargetMax: cfg.TargetMax, SoftLimitRatio: cfg.SoftLimitRatio, HardLimitRatio: cfg.HardLimitRatio,
		NewShard: newShard,
	}, initial)
	if !cfg.ShardingEnabled {
		_ = tree.DisableSharding(newShard) // single-leaf tree already; records the off state
	}

	return &Collection{Name: name, cfg: cfg, tree: tree, provider: provider, dataDir: dataDir, logger: logger}, nil
}

func (c *Collection) efSearch(override int) int {
	if override > 0 {
		return override
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.EfSearch > 0 {
		return c.cfg.EfSearch
	}
	return 64
}

// Insert inserts pre-embedded vector records.
func (c *Collection) Insert(ctx context.Context, vectors []*record.Vector) ([]string, error) {
	const op = "collection.insert"
	c.mu.RLock()
	dim := c.cfg.Dimension
	c.mu.RUnlock()

	ids := make([]string, 0, len(vectors))
	for _, v := range vectors {
		if err := record.Validate(v, dim, op); err != nil {
			return nil, err
		}
		if _, err := c.GetVector(v.ID); err == nil {
			return nil, vectorerr.New(vectorerr.DuplicateId, op, nil)
		}
		if err := c.tree.Insert(ctx, v); err != nil {
			return nil, err
		}
		ids = append(ids, v.ID)
	}
	c.dirty.Store(true)
	return ids, nil
}

// InsertText embeds each text via the collection's provider and inserts
// the resulting dense vector (spec §4.7/§6.1 insert_text).
func (c *Collection) InsertText(ctx context.Context, records []TextRecord) ([]string, error) {
	const op = "collection.insert_text"
	c.mu.RLock()
	provider := c.provider
	c.mu.RUnlock()
	if provider == nil {
		return nil, vectorerr.New(vectorerr.EmbeddingFailure, op, nil)
	}

	vectors := make([]*record.Vector, 0, len(records))
	for _, r := range records {
		dense, err := provider.Embed(r.Text)
		if err != nil {
			c.logger.Warn("embedding failed", zap.String("collection", c.Name), zap.String("id", r.ID), zap.Error(err))
			return nil, vectorerr.New(vectorerr.EmbeddingFailure, op, err)
		}
		meta := r.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		meta["_text"] = r.Text
		vectors = append(vectors, &record.Vector{ID: r.ID, Dense: dense, Metadata: meta})
	}

	ids, err := c.Insert(ctx, vectors)
	if err != nil {
		return nil, err
	}

	if dirtyProvider, ok := provider.(interface{ Dirty() bool }); ok && dirtyProvider.Dirty() {
		if err := c.snapshotEmbeddingState(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Delete removes ids from the collection.
func (c *Collection) Delete(ids []string) ([]string, error) {
	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := c.tree.Delete(id); err != nil {
			continue
		}
		deleted = append(deleted, id)
	}
	c.dirty.Store(true)
	return deleted, nil
}

// GetVector looks up a stored record by id across every leaf.
func (c *Collection) GetVector(id string) (*record.Vector, error) {
	for _, leaf := range c.tree.Leaves() {
		if v, err := leaf.GetVector(id); err == nil {
			return v, nil
		}
	}
	return nil, vectorerr.New(vectorerr.VectorNotFound, "collection.get_vector", nil)
}

// Search runs a dense top-k query against the collection's shard tree.
func (c *Collection) Search(ctx context.Context, query []float32, k int, ef int) ([]SearchResult, error) {
	const op = "collection.search"
	c.mu.RLock()
	dim := c.cfg.Dimension
	c.mu.RUnlock()
	if len(query) != dim {
		return nil, vectorerr.New(vectorerr.DimensionMismatch, op, nil)
	}

	raw, _, err := c.tree.Search(ctx, query, k, c.efSearch(ef))
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, len(raw))
	for i, r := range raw {
		out[i] = SearchResult{ID: r.ID, Score: r.Score}
	}
	return out, nil
}

// SearchText embeds query text via the collection's provider and searches
// the result, attaching each hit's stored metadata snippet.
func (c *Collection) SearchText(ctx context.Context, query string, k int) ([]SearchResult, error) {
	const op = "collection.search_text"
	c.mu.RLock()
	provider := c.provider
	c.mu.RUnlock()
	if provider == nil {
		return nil, vectorerr.New(vectorerr.EmbeddingFailure, op, nil)
	}

	dense, err := provider.Embed(query)
	if err != nil {
		return nil, vectorerr.New(vectorerr.EmbeddingFailure, op, err)
	}

	results, err := c.Search(ctx, dense, k, 0)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if v, err := c.GetVector(results[i].ID); err == nil {
			results[i].Metadata = v.Metadata
		}
	}
	return results, nil
}

// Dirty reports whether the collection has unsaved mutations since its
// last Snapshot, for the store's auto_save_loop.
func (c *Collection) Dirty() bool { return c.dirty.Load() }

// Provider exposes the collection's embedding provider (used by the
// hybrid pipeline's dense-rerank stage).
func (c *Collection) Provider() embedding.Provider { return c.provider }

// Tree exposes the collection's shard tree (used by the hybrid pipeline's
// lexical stage and by the store's stats aggregation).
func (c *Collection) Tree() *shardtree.Tree { return c.tree }

// Config returns the collection's frozen configuration.
func (c *Collection) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Collection) snapshotEmbeddingState() error {
	const op = "collection.snapshot_embedding_state"
	path := filepath.Join(c.dataDir, "embedding_state.bin")
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	defer f.Close()
	c.mu.RLock()
	provider := c.provider
	c.mu.RUnlock()
	return provider.Save(f)
}
