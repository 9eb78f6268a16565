package walog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1)
	require.NoError(t, err)

	require.NoError(t, w.Append(Entry{Op: OpInsert, ID: "v1", Vector: []float32{1, 2}}))
	require.NoError(t, w.Append(Entry{Op: OpInsert, ID: "v2", Vector: []float32{3, 4}}))
	require.NoError(t, w.Append(Entry{Op: OpDelete, ID: "v1"}))

	var replayed []Entry
	require.NoError(t, w.Replay(0, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	}))

	require.Len(t, replayed, 3)
	assert.Equal(t, OpInsert, replayed[0].Op)
	assert.Equal(t, "v1", replayed[0].ID)
	assert.Equal(t, OpDelete, replayed[2].Op)
}

func TestReplayAfterSeqSkipsEarlier(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1)
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Op: OpInsert, ID: "v1"}))
	require.NoError(t, w.Append(Entry{Op: OpInsert, ID: "v2"}))

	var replayed []Entry
	require.NoError(t, w.Replay(0, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	}))
	require.Len(t, replayed, 2)

	lastSeq := replayed[len(replayed)-1].Seq
	var second []Entry
	require.NoError(t, w.Replay(lastSeq, func(e Entry) error {
		second = append(second, e)
		return nil
	}))
	assert.Empty(t, second)
}

func TestReplaySkipsTamperedSegment(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1)
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Op: OpInsert, ID: "v1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var walFile string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".wal" {
			walFile = filepath.Join(dir, e.Name())
		}
	}
	require.NotEmpty(t, walFile)

	data, err := os.ReadFile(walFile)
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, os.WriteFile(walFile, data, 0o600))

	var replayed []Entry
	require.NoError(t, w.Replay(0, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	}))
	assert.Empty(t, replayed)
}

func TestTruncateDiscardsOldSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1)
	require.NoError(t, err)
	first := w.NextSeq()
	require.NoError(t, w.Append(Entry{Op: OpInsert, ID: "v1"}))
	require.NoError(t, w.Append(Entry{Op: OpInsert, ID: "v2"}))

	require.NoError(t, w.Truncate(first))

	var replayed []Entry
	require.NoError(t, w.Replay(0, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	}))
	require.Len(t, replayed, 1)
	assert.Equal(t, "v2", replayed[0].ID)
}
