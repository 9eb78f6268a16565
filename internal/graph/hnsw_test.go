package graph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

func newTestIndex(metric Metric) *HNSW {
	return New(Config{Dimension: 4, Metric: metric, M: 8, EfConstruction: 64, AdaptiveThreshold: 1000, Seed: 42})
}

func TestScenarioA_InsertSearchRoundTrip(t *testing.T) {
	h := newTestIndex(MetricCosine)
	require.NoError(t, h.Insert("v1", []float32{1, 0, 0, 0}))
	require.NoError(t, h.Insert("v2", []float32{0.9, 0.1, 0, 0}))
	require.NoError(t, h.Insert("v3", []float32{0, 1, 0, 0}))

	ids, scores, err := h.Search([]float32{1, 0, 0, 0}, 2, 32)
	require.NoError(t, err)
	require.Equal(t, []string{"v1", "v2"}, ids)
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[1], float32(0))
	assert.NotContains(t, ids, "v3")
}

func TestInsertDuplicateId(t *testing.T) {
	h := newTestIndex(MetricEuclidean)
	require.NoError(t, h.Insert("v1", []float32{1, 2, 3, 4}))
	err := h.Insert("v1", []float32{1, 2, 3, 4})
	assert.True(t, vectorerr.Is(err, vectorerr.DuplicateId))
}

func TestInsertDimensionMismatch(t *testing.T) {
	h := newTestIndex(MetricEuclidean)
	err := h.Insert("v1", []float32{1, 2, 3})
	assert.True(t, vectorerr.Is(err, vectorerr.DimensionMismatch))
}

func TestInsertReplacesTombstone(t *testing.T) {
	h := newTestIndex(MetricDot)
	require.NoError(t, h.Insert("v1", []float32{1, 0, 0, 0}))
	require.NoError(t, h.MarkDeleted("v1"))
	require.NoError(t, h.Insert("v1", []float32{0, 1, 0, 0}))

	vec, err := h.GetVector("v1")
	require.NoError(t, err)
	assert.Equal(t, float32(1), vec[1])
}

func TestSearchEmptyShardReturnsEmptyNotError(t *testing.T) {
	h := newTestIndex(MetricCosine)
	ids, scores, err := h.Search([]float32{1, 0, 0, 0}, 5, 16)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, scores)
}

func TestSearchKClampedNotError(t *testing.T) {
	h := newTestIndex(MetricCosine)
	require.NoError(t, h.Insert("v1", []float32{1, 0, 0, 0}))
	ids, _, err := h.Search([]float32{1, 0, 0, 0}, 50, 16)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestSearchInvalidVector(t *testing.T) {
	h := newTestIndex(MetricCosine)
	_, _, err := h.Search([]float32{1, 0, 0, float32(nan())}, 1, 16)
	assert.True(t, vectorerr.Is(err, vectorerr.InvalidVector))
}

func TestMarkDeletedNotFound(t *testing.T) {
	h := newTestIndex(MetricCosine)
	err := h.MarkDeleted("missing")
	assert.True(t, vectorerr.Is(err, vectorerr.VectorNotFound))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	h := newTestIndex(MetricCosine)
	require.NoError(t, h.Insert("v1", []float32{1, 0, 0, 0}))
	require.NoError(t, h.Insert("v2", []float32{0, 1, 0, 0}))

	var buf bytes.Buffer
	require.NoError(t, h.Save(&buf))

	loaded, err := Load(&buf, 1000, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Size())

	ids, _, err := loaded.Search([]float32{1, 0, 0, 0}, 1, 16)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, ids)
}

func nan() float64 {
	var zero float64
	return zero / zero
}
