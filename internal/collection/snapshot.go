package collection

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vectorcore/vectorcore/internal/embedding"
	"github.com/vectorcore/vectorcore/internal/shard"
	"github.com/vectorcore/vectorcore/internal/shardtree"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

// tracer instruments Snapshot with the otel span SPEC_FULL §2 promises,
// resolved against whatever TracerProvider obs.NewTracing installed
// globally (this package depends only on the otel API, not on
// internal/obs, matching shardtree's tracing wiring).
var tracer = otel.Tracer("vectorcore/collection")

// treeManifest records enough of the shard tree's shape to reconstruct it
// (spec §6.2's tree.json — gob-encoded here for consistency with the rest
// of this codebase's persistence, which the teacher builds entirely on
// gob rather than JSON).
type treeManifest struct {
	ShardIDs []string
}

// Snapshot atomically serializes the collection's config, embedding
// provider state, shard tree shape, and every leaf shard's graph/storage
// to dir (spec §6.2). Each leaf's WAL is truncated up to the point
// covered by its snapshot.
func (c *Collection) Snapshot(dir string) error {
	const op = "collection.snapshot"
	_, span := tracer.Start(context.Background(), "collection.snapshot",
		trace.WithAttributes(attribute.String("collection.name", c.Name)))
	defer span.End()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}

	cfgFile, err := os.Create(filepath.Join(dir, "config.bin"))
	if err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	err = gob.NewEncoder(cfgFile).Encode(c.cfg)
	cfgFile.Close()
	if err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}

	if c.provider != nil {
		embFile, err := os.Create(filepath.Join(dir, "embedding_state.bin"))
		if err != nil {
			return vectorerr.New(vectorerr.IoError, op, err)
		}
		err = c.provider.Save(embFile)
		embFile.Close()
		if err != nil {
			return err
		}
	}

	leaves := c.tree.Leaves()
	manifest := treeManifest{ShardIDs: make([]string, len(leaves))}
	for i, leaf := range leaves {
		manifest.ShardIDs[i] = leaf.ID
		if err := leaf.Snapshot(filepath.Join(dir, "shards", leaf.ID)); err != nil {
			return err
		}
	}

	treeFile, err := os.Create(filepath.Join(dir, "tree.bin"))
	if err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}
	defer treeFile.Close()
	if err := gob.NewEncoder(treeFile).Encode(manifest); err != nil {
		return vectorerr.New(vectorerr.IoError, op, err)
	}

	c.dirty.Store(false)
	return nil
}

// RestoreCollection reconstructs a collection from dir, loading config,
// shard tree shape, every leaf shard (graph + storage + WAL replay), and
// the embedding provider's persisted state into the caller-supplied,
// already-correctly-typed provider instance (the caller knows which
// concrete provider type the collection was created with; this package
// only needs the embedding.Provider interface to drive it).
func RestoreCollection(name, dir string, provider embedding.Provider, logger *zap.Logger) (*Collection, error) {
	const op = "collection.restore"
	if logger == nil {
		logger = zap.NewNop()
	}

	cfgFile, err := os.Open(filepath.Join(dir, "config.bin"))
	if err != nil {
		return nil, vectorerr.New(vectorerr.IoError, op, err)
	}
	var cfg Config
	err = gob.NewDecoder(cfgFile).Decode(&cfg)
	cfgFile.Close()
	if err != nil {
		return nil, vectorerr.New(vectorerr.IoError, op, err)
	}

	if provider != nil {
		if embFile, openErr := os.Open(filepath.Join(dir, "embedding_state.bin")); openErr == nil {
			err = provider.Load(embFile)
			embFile.Close()
			if err != nil {
				return nil, err
			}
		}
	}

	treeFile, err := os.Open(filepath.Join(dir, "tree.bin"))
	if err != nil {
		return nil, vectorerr.New(vectorerr.IoError, op, err)
	}
	var manifest treeManifest
	err = gob.NewDecoder(treeFile).Decode(&manifest)
	treeFile.Close()
	if err != nil {
		return nil, vectorerr.New(vectorerr.IoError, op, err)
	}

	leaves := make([]*shard.Shard, 0, len(manifest.ShardIDs))
	for _, id := range manifest.ShardIDs {
		shardDir := filepath.Join(dir, "shards", id)
		s, err := shard.Restore(shard.Config{
			ID: id, Dimension: cfg.Dimension, Metric: cfg.Metric,
			M: cfg.GraphM, EfConstruction: cfg.EfConstruction, TargetMax: cfg.TargetMax,
			StorageKind: cfg.StorageKind, DataDir: shardDir,
			FsyncEveryN: cfg.WALFsyncEveryN, Logger: logger,
		}, shardDir)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, s)
	}
	if len(leaves) == 0 {
		return nil, vectorerr.New(vectorerr.GraphInconsistent, op, nil)
	}

	newShard := func(id string) (*shard.Shard, error) {
		return shard.New(shard.Config{
			ID: id, Dimension: cfg.Dimension, Metric: cfg.Metric,
			M: cfg.GraphM, EfConstruction: cfg.EfConstruction, TargetMax: cfg.TargetMax,
			StorageKind: cfg.StorageKind, DataDir: filepath.Join(dir, "shards", id),
			FsyncEveryN: cfg.WALFsyncEveryN, Logger: logger,
		})
	}

	tree := shardtree.New(shardtree.Config{
		Routing: cfg.Routing, SplitStrategy: cfg.SplitStrategy,
		TargetMax: cfg.TargetMax, SoftLimitRatio: cfg.SoftLimitRatio, HardLimitRatio: cfg.HardLimitRatio,
		NewShard: newShard,
	}, leaves[0])
	for _, extra := range leaves[1:] {
		tree.AdoptLeaf(extra)
	}
	if !cfg.ShardingEnabled {
		_ = tree.DisableSharding(newShard)
	}

	return &Collection{Name: name, cfg: cfg, tree: tree, provider: provider, dataDir: dir, logger: logger}, nil
}
