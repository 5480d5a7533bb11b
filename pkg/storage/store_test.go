package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	val, err := s.GetItem(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", val)

	require.NoError(t, s.SetItem(ctx, "reader", "RDR-001"))
	val, err = s.GetItem(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, "RDR-001", val)

	require.NoError(t, s.RemoveItem(ctx, "reader"))
	val, err = s.GetItem(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, "", val)

	// Removing an absent key is a no-op.
	require.NoError(t, s.RemoveItem(ctx, "reader"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "readerlink.json")
	s := NewFileStore(path)

	// Missing file reads as empty.
	val, err := s.GetItem(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, "", val)

	require.NoError(t, s.SetItem(ctx, "reader", "RDR-042"))

	// A second instance on the same path sees the value (restart survival).
	s2 := NewFileStore(path)
	val, err = s2.GetItem(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, "RDR-042", val)

	require.NoError(t, s2.RemoveItem(ctx, "reader"))
	val, err = s.GetItem(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestFileStoreKeepsOtherKeys(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "readerlink.json")
	s := NewFileStore(path)

	require.NoError(t, s.SetItem(ctx, "a", "1"))
	require.NoError(t, s.SetItem(ctx, "b", "2"))
	require.NoError(t, s.RemoveItem(ctx, "a"))

	val, err := s.GetItem(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", val)
}

func TestFileStoreCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "readerlink.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	s := NewFileStore(path)
	_, err := s.GetItem(ctx, "reader")
	assert.Error(t, err)
}
