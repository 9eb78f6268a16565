package record

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vectorcore/vectorcore/internal/vectorerr"
)

func TestValidateDimensionMismatch(t *testing.T) {
	v := &Vector{ID: "v1", Dense: []float32{1, 2, 3}}
	err := Validate(v, 4, "graph.insert")
	assert.True(t, vectorerr.Is(err, vectorerr.DimensionMismatch))
}

func TestValidateNaN(t *testing.T) {
	v := &Vector{ID: "v1", Dense: []float32{1, float32(math.NaN()), 3, 4}}
	err := Validate(v, 4, "graph.insert")
	assert.True(t, vectorerr.Is(err, vectorerr.InvalidVector))
}

func TestValidateOK(t *testing.T) {
	v := &Vector{ID: "v1", Dense: []float32{1, 2, 3, 4}}
	assert.NoError(t, Validate(v, 4, "graph.insert"))
}

func TestCloneIsIndependent(t *testing.T) {
	v := &Vector{ID: "v1", Dense: []float32{1, 2}, Metadata: map[string]any{"a": 1}}
	c := v.Clone()
	c.Dense[0] = 99
	c.Metadata["a"] = 2
	assert.Equal(t, float32(1), v.Dense[0])
	assert.Equal(t, 1, v.Metadata["a"])
}

func TestNormalize(t *testing.T) {
	out := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)
}

func TestNormalizeZero(t *testing.T) {
	out := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, out)
}
