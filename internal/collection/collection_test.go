package collection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorcore/vectorcore/internal/embedding"
	"github.com/vectorcore/vectorcore/internal/graph"
	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/shardtree"
	"github.com/vectorcore/vectorcore/internal/storage"
)

func testConfig() Config {
	return Config{
		Dimension: 4, Metric: graph.MetricCosine, GraphM: 8, EfConstruction: 32, EfSearch: 32,
		StorageKind: storage.KindMemory, ShardingEnabled: false,
		TargetMax: 1000, SoftLimitRatio: 0.95, HardLimitRatio: 1.0,
		Routing: shardtree.RoutingMinSize, SplitStrategy: shardtree.SplitHash,
		WALFsyncEveryN: 4,
	}
}

func TestCollectionInsertSearchDelete(t *testing.T) {
	dir := t.TempDir()
	col, err := New("c1", testConfig(), dir, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	ids, err := col.Insert(ctx, []*record.Vector{
		{ID: "v1", Dense: []float32{1, 0, 0, 0}},
		{ID: "v2", Dense: []float32{0, 1, 0, 0}},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "v2"}, ids)

	results, err := col.Search(ctx, []float32{1, 0, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "v1", results[0].ID)

	deleted, err := col.Delete([]string{"v1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, deleted)

	_, err = col.GetVector("v1")
	assert.Error(t, err)
}

func TestCollectionInsertDuplicateId(t *testing.T) {
	dir := t.TempDir()
	col, err := New("c1", testConfig(), dir, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = col.Insert(ctx, []*record.Vector{{ID: "v1", Dense: []float32{1, 0, 0, 0}}})
	require.NoError(t, err)
	_, err = col.Insert(ctx, []*record.Vector{{ID: "v1", Dense: []float32{0, 1, 0, 0}}})
	assert.Error(t, err)
}

func TestCollectionInsertTextAndSearchText(t *testing.T) {
	dir := t.TempDir()
	provider := embedding.NewBagOfTokens()
	require.NoError(t, provider.Fit([]string{"red apple pie", "green apple tart", "blue sky forever"}))

	cfg := testConfig()
	cfg.Dimension = provider.Dimensions()
	col, err := New("c1", cfg, dir, provider, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = col.InsertText(ctx, []TextRecord{
		{ID: "t1", Text: "red apple pie"},
		{ID: "t2", Text: "blue sky forever"},
	})
	require.NoError(t, err)

	results, err := col.SearchText(ctx, "red apple", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].ID)
	assert.Equal(t, "red apple pie", results[0].Metadata["_text"])
}

func TestCollectionSnapshotRestoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	colDir := filepath.Join(root, "col")
	col, err := New("c1", testConfig(), colDir, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = col.Insert(ctx, []*record.Vector{
		{ID: "v1", Dense: []float32{1, 0, 0, 0}},
		{ID: "v2", Dense: []float32{0, 1, 0, 0}},
	})
	require.NoError(t, err)

	snapDir := filepath.Join(root, "snap")
	require.NoError(t, col.Snapshot(snapDir))
	assert.False(t, col.Dirty())

	restored, err := RestoreCollection("c1", snapDir, nil, nil)
	require.NoError(t, err)

	results, err := restored.Search(ctx, []float32{1, 0, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "v1", results[0].ID)
}

// TestCollectionRestoreReplaysUnsnapshottedWALTail covers spec §3/§4.3:
// an acknowledged insert whose WAL entry is durable but that predates the
// next snapshot must still be recoverable by restoring from the
// collection's own data directory (the shard's live WAL directory, not a
// separate snapshot directory), since that is exactly the directory a
// plain process restart reopens.
func TestCollectionRestoreReplaysUnsnapshottedWALTail(t *testing.T) {
	root := t.TempDir()
	colDir := filepath.Join(root, "col")
	col, err := New("c1", testConfig(), colDir, nil, nil)
	require.NoError(t, err)

	// initial empty snapshot, as store.CreateCollection does before
	// acknowledging the create (§9 "durable before ack").
	require.NoError(t, col.Snapshot(colDir))

	ctx := context.Background()
	_, err = col.Insert(ctx, []*record.Vector{
		{ID: "v1", Dense: []float32{1, 0, 0, 0}},
		{ID: "v2", Dense: []float32{0, 1, 0, 0}},
	})
	require.NoError(t, err)
	// no further Snapshot call: these inserts live only in the shard's WAL.

	restored, err := RestoreCollection("c1", colDir, nil, nil)
	require.NoError(t, err)

	results, err := restored.Search(ctx, []float32{1, 0, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "v1", results[0].ID)

	v2, err := restored.GetVector("v2")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, v2.Dense)
}

func TestConfigValidateRejectsUnsupportedQuantization(t *testing.T) {
	cfg := testConfig()
	cfg.Quantization = "scalar8"
	require.Error(t, cfg.Validate())

	cfg.Quantization = QuantizationNone
	require.NoError(t, cfg.Validate())

	cfg.Quantization = ""
	require.NoError(t, cfg.Validate())
}
