package shard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vectorcore/vectorcore/internal/graph"
	"github.com/vectorcore/vectorcore/internal/record"
	"github.com/vectorcore/vectorcore/internal/storage"
	"github.com/vectorcore/vectorcore/internal/walog"
)

func newTestShard(t *testing.T) *Shard {
	t.Helper()
	s, err := New(Config{
		ID: "s0", Dimension: 4, Metric: graph.MetricCosine, M: 8, EfConstruction: 32,
		TargetMax: 100, StorageKind: storage.KindMemory, DataDir: filepath.Join(t.TempDir(), "s0"), FsyncEveryN: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestShardInsertSearchDelete(t *testing.T) {
	s := newTestShard(t)
	require.NoError(t, s.Insert(&record.Vector{ID: "v1", Dense: []float32{1, 0, 0, 0}}))
	require.NoError(t, s.Insert(&record.Vector{ID: "v2", Dense: []float32{0, 1, 0, 0}}))

	results, err := s.Search([]float32{1, 0, 0, 0}, 2, 16)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "v1", results[0].ID)

	require.NoError(t, s.Delete("v1"))
	results, err = s.Search([]float32{1, 0, 0, 0}, 2, 16)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v2", results[0].ID)
	assert.Equal(t, 1, s.Size())
}

func TestShardWALSurvivesReplay(t *testing.T) {
	s := newTestShard(t)
	require.NoError(t, s.Insert(&record.Vector{ID: "v1", Dense: []float32{1, 2, 3, 4}}))
	require.NoError(t, s.Insert(&record.Vector{ID: "v2", Dense: []float32{5, 6, 7, 8}}))

	var replayedIDs []string
	require.NoError(t, s.WAL().Replay(0, func(e walog.Entry) error {
		replayedIDs = append(replayedIDs, e.ID)
		return nil
	}))
	assert.Equal(t, []string{"v1", "v2"}, replayedIDs)
}

func TestShardStatsReflectsSize(t *testing.T) {
	s := newTestShard(t)
	require.NoError(t, s.Insert(&record.Vector{ID: "v1", Dense: []float32{1, 2, 3, 4}}))
	stats := s.Stats()
	assert.Equal(t, 1, stats.Size)
}
