package storage

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vectorcore/vectorcore/internal/record"
)

func TestMemoryBackendInsertGetDelete(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Insert(&record.Vector{ID: "v1", Dense: []float32{1, 2, 3}}))

	got, err := m.Get("v1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got.Dense)

	require.NoError(t, m.Delete("v1"))
	_, err = m.Get("v1")
	assert.Error(t, err)
}

func TestMemoryBackendSaveLoad(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Insert(&record.Vector{ID: "v1", Dense: []float32{1, 2}}))
	require.NoError(t, m.Insert(&record.Vector{ID: "v2", Dense: []float32{3, 4}}))

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	loaded, err := LoadMemory(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	v, err := loaded.Get("v2")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, v.Dense)
}

func TestMmapBackendInsertGetDelete(t *testing.T) {
	dir := t.TempDir()
	mb, err := NewMmap(filepath.Join(dir, "dense.bin"), 4)
	require.NoError(t, err)
	defer mb.Close()

	require.NoError(t, mb.Insert(&record.Vector{ID: "v1", Dense: []float32{1, 2, 3, 4}}))
	got, err := mb.Get("v1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, got.Dense)

	require.NoError(t, mb.Delete("v1"))
	_, err = mb.Get("v1")
	assert.Error(t, err)
}

func TestMmapBackendSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dense.bin")
	mb, err := NewMmap(path, 2)
	require.NoError(t, err)
	require.NoError(t, mb.Insert(&record.Vector{ID: "v1", Dense: []float32{5, 6}}))

	var buf bytes.Buffer
	require.NoError(t, mb.Save(&buf))
	require.NoError(t, mb.Close())

	loaded, err := LoadMmap(&buf, path)
	require.NoError(t, err)
	defer loaded.Close()

	got, err := loaded.Get("v1")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6}, got.Dense)
}

func TestMmapBackendGrowsPastInitialChunk(t *testing.T) {
	dir := t.TempDir()
	mb, err := NewMmap(filepath.Join(dir, "dense.bin"), 2)
	require.NoError(t, err)
	defer mb.Close()

	for i := 0; i < growChunkSlots+10; i++ {
		id := "v" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		require.NoError(t, mb.Insert(&record.Vector{ID: id, Dense: []float32{float32(i), 1}}))
	}
	assert.Equal(t, growChunkSlots+10, mb.Len())
}
