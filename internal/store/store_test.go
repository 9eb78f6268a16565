package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorcore/vectorcore/internal/collection"
	"github.com/vectorcore/vectorcore/internal/graph"
	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/shardtree"
	"github.com/vectorcore/vectorcore/internal/storage"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

func testConfig(dim int) collection.Config {
	return collection.Config{
		Dimension: dim, Metric: graph.MetricCosine,
		GraphM: 8, EfConstruction: 32, EfSearch: 16,
		StorageKind: storage.KindMemory,
		TargetMax:   1000, SoftLimitRatio: 0.95, HardLimitRatio: 1.0,
		Routing: shardtree.RoutingMinSize, SplitStrategy: shardtree.SplitHash,
		WALFsyncEveryN: 1, AutoSaveIntervalS: 60,
	}
}

func TestStoreCreateGetListDelete(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "docs", testConfig(4), ProviderSpec{Kind: ProviderBagOfTokens}))

	_, err = s.GetCollection("docs")
	require.NoError(t, err)

	err = s.CreateCollection(ctx, "docs", testConfig(4), ProviderSpec{Kind: ProviderBagOfTokens})
	assert.ErrorIs(t, err, vectorerr.New(vectorerr.AlreadyExists, "", nil))

	infos := s.ListCollections()
	require.Len(t, infos, 1)
	assert.Equal(t, "docs", infos[0].Name)

	require.NoError(t, s.DeleteCollection("docs"))
	_, err = s.GetCollection("docs")
	assert.ErrorIs(t, err, vectorerr.New(vectorerr.CollectionNotFound, "", nil))

	err = s.DeleteCollection("docs")
	assert.ErrorIs(t, err, vectorerr.New(vectorerr.CollectionNotFound, "", nil))
}

func TestStoreCreateDurableBeforeAck(t *testing.T) {
	dataDir := t.TempDir()
	s, err := NewStore(dataDir)
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(context.Background(), "docs", testConfig(4), ProviderSpec{Kind: ProviderBagOfTokens}))

	// A restart (a brand new Store reopened over the same dataDir) must
	// see the collection immediately, per spec §3 Lifecycle and §9 Open
	// Questions: API-created collections must re-appear after restart.
	restarted, err := NewStore(dataDir)
	require.NoError(t, err)
	col, err := restarted.GetCollection("docs")
	require.NoError(t, err)
	assert.Equal(t, 0, col.Tree().Size())
}

// TestStoreReopenReplaysUnsnapshottedInserts covers the same restart path
// with acknowledged writes that were never explicitly snapshotted: their
// WAL entries alone must survive a plain process restart (spec §4.3,
// "For any acknowledged insert with seq s, restarting the process and
// replaying up to s yields a state in which that vector is retrievable").
func TestStoreReopenReplaysUnsnapshottedInserts(t *testing.T) {
	dataDir := t.TempDir()
	s, err := NewStore(dataDir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "docs", testConfig(4), ProviderSpec{Kind: ProviderBagOfTokens}))
	col, err := s.GetCollection("docs")
	require.NoError(t, err)
	_, err = col.Insert(ctx, []*record.Vector{
		{ID: "v1", Dense: []float32{1, 0, 0, 0}},
		{ID: "v2", Dense: []float32{0, 1, 0, 0}},
	})
	require.NoError(t, err)
	// no Snapshot/Close call: only the WAL entries are durable.

	restarted, err := NewStore(dataDir)
	require.NoError(t, err)
	rcol, err := restarted.GetCollection("docs")
	require.NoError(t, err)

	results, err := rcol.Search(ctx, []float32{1, 0, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "v1", results[0].ID)
}

func TestStoreSnapshotRestoreRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	s, err := NewStore(dataDir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "docs", testConfig(4), ProviderSpec{Kind: ProviderBagOfTokens}))
	col, err := s.GetCollection("docs")
	require.NoError(t, err)
	_, err = col.Insert(ctx, []*record.Vector{
		{ID: "v1", Dense: []float32{1, 0, 0, 0}},
		{ID: "v2", Dense: []float32{0, 1, 0, 0}},
	})
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, s.Snapshot(archivePath))

	restored, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx, archivePath))

	infos := restored.ListCollections()
	require.Len(t, infos, 1)
	assert.Equal(t, 2, infos[0].VectorCount)

	rcol, err := restored.GetCollection("docs")
	require.NoError(t, err)
	results, err := rcol.Search(ctx, []float32{1, 0, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v1", results[0].ID)
}

func TestStoreAutoSaveSkipsDisabledCollection(t *testing.T) {
	dataDir := t.TempDir()
	s, err := NewStore(dataDir, WithAutoSaveInterval(0))
	require.NoError(t, err)

	ctx := context.Background()
	cfg := testConfig(4)
	cfg.AutoSaveIntervalS = 0 // disabled collection is skipped
	require.NoError(t, s.CreateCollection(ctx, "a", cfg, ProviderSpec{Kind: ProviderBagOfTokens}))

	col, err := s.GetCollection("a")
	require.NoError(t, err)
	_, err = col.Insert(ctx, []*record.Vector{{ID: "v1", Dense: []float32{1, 0, 0, 0}}})
	require.NoError(t, err)
	assert.True(t, col.Dirty())

	s.autoSaveSweep(make(map[string]time.Time))
	assert.True(t, col.Dirty(), "auto-save must skip a collection with auto_save_interval_s=0")
}
