package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)

	ctx := context.Background()

	// 1. Create a blob
	blobName := "model-000001.bin"
	data := []byte("hello world, this is a test blob for mailclass")

	w, err := store.Create(ctx, blobName)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	err = w.Close()
	require.NoError(t, err)

	// Verify file exists on disk
	expectedPath := filepath.Join(tmpDir, blobName)
	_, err = os.Stat(expectedPath)
	require.NoError(t, err)

	// 2. Open and ReadAt
	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(ctx, buf, 6) // "world"
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	// 3. ReadRange
	// Read "this" (offset 13, length 4)
	rangeReader, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	defer rangeReader.Close()

	rangeContent, err := io.ReadAll(rangeReader)
	require.NoError(t, err)
	require.Equal(t, "this", string(rangeContent))

	// 4. List
	blobName2 := "model-000002.bin"
	require.NoError(t, store.Put(ctx, blobName2, []byte("v2")))

	blobs, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{blobName, blobName2}, blobs)

	// 5. Delete
	err = store.Delete(ctx, blobName)
	require.NoError(t, err)

	blobsAfter, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{blobName2}, blobsAfter)

	_, err = store.Open(ctx, blobName)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ReadRangeBoundaries(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	blobName := "boundary.bin"
	data := []byte("0123456789")
	require.NoError(t, store.Put(ctx, blobName, data))

	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()

	// Case 1: Read full range
	r, err := blob.ReadRange(ctx, 0, 10)
	require.NoError(t, err)
	content, _ := io.ReadAll(r)
	r.Close()
	require.True(t, bytes.Equal(data, content))

	// Case 2: Read past end truncates
	r, err = blob.ReadRange(ctx, 8, 5)
	require.NoError(t, err)
	content, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "89", string(content))
	r.Close()

	// Case 3: Offset past EOF
	_, err = blob.ReadRange(ctx, 20, 5)
	require.ErrorIs(t, err, io.EOF)
}

func TestLocalStore_PutIsAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "current", []byte("model-000001.bin")))

	// A reader opened before the overwrite keeps seeing the old content.
	old, err := store.Open(ctx, "current")
	require.NoError(t, err)
	defer old.Close()

	require.NoError(t, store.Put(ctx, "current", []byte("model-000002.bin")))

	content, err := ReadAll(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, "model-000001.bin", string(content))

	fresh, err := store.Open(ctx, "current")
	require.NoError(t, err)
	defer fresh.Close()

	content, err = ReadAll(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, "model-000002.bin", string(content))

	// No temp files left behind.
	leftovers, err := filepath.Glob(filepath.Join(tmpDir, "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLocalStore_NestedNames(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "models/v1/artifact.bin", []byte("a")))
	require.NoError(t, store.Put(ctx, "models/v2/artifact.bin", []byte("b")))
	require.NoError(t, store.Put(ctx, "manifests/MANIFEST-000001.json", []byte("{}")))

	names, err := store.List(ctx, "models/")
	require.NoError(t, err)
	assert.Equal(t, []string{"models/v1/artifact.bin", "models/v2/artifact.bin"}, names)

	blob, err := store.Open(ctx, "models/v2/artifact.bin")
	require.NoError(t, err)
	defer blob.Close()

	content, err := ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, "b", string(content))
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "does-not-exist"))

	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_MappableBytes(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	data := []byte("mapped content")
	require.NoError(t, store.Put(ctx, "blob.bin", data))

	blob, err := store.Open(ctx, "blob.bin")
	require.NoError(t, err)
	defer blob.Close()

	m, ok := blob.(Mappable)
	require.True(t, ok)

	raw, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestLocalStore_WritableBlobDoubleClose(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	w, err := store.Create(ctx, "once.bin")
	require.NoError(t, err)

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.ErrorIs(t, w.Close(), os.ErrClosed)

	_, err = w.Write([]byte("y"))
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestLocalStore_ContextCancellation(t *testing.T) {
	store := NewLocalStore(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Open(ctx, "anything")
	require.ErrorIs(t, err, context.Canceled)

	err = store.Put(ctx, "anything", []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}
