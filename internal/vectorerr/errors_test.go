package vectorerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	cause := errors.New("boom")
	err := New(DimensionMismatch, "graph.insert", cause)

	require.True(t, Is(err, DimensionMismatch))
	assert.False(t, Is(err, DuplicateId))
	assert.Equal(t, DimensionMismatch, KindOf(err))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := New(IoError, "walog.append", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "walog.append")
	assert.Contains(t, err.Error(), "io_error")
}

func TestErrorWrappedInFmt(t *testing.T) {
	err := New(VectorNotFound, "shard.get_vector", nil)
	wrapped := fmt.Errorf("lookup failed: %w", err)

	assert.True(t, Is(wrapped, VectorNotFound))
}
