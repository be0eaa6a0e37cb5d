package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return errors satisfying errors.Is(err, ErrNotFound).
// The sentinel maps to os.ErrNotExist so local filesystem errors pass
// through unchanged.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for reading and writing immutable data
// blobs (model artifacts, manifests, pointer files). Implementations
// must be safe for concurrent use.
type BlobStore interface {
	// Open opens an existing blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Put writes a blob atomically. Readers never observe a partial blob.
	Put(ctx context.Context, name string, data []byte) error

	// Create creates a blob for streaming writes. The blob becomes
	// visible to readers when Close returns.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns all blob names starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	// ReadAt reads len(p) bytes starting at offset off. It returns
	// io.EOF when fewer than len(p) bytes remain.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// ReadRange returns a reader over length bytes starting at off.
	// Ranges past the end of the blob are truncated.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)

	// Size returns the size of the blob in bytes.
	Size() int64

	// Close releases the handle.
	Close() error
}

// WritableBlob is a write-only handle to a blob under construction.
// It is not safe for concurrent use.
type WritableBlob interface {
	io.Writer

	// Sync flushes buffered data to stable storage where the backend
	// supports it.
	Sync() error

	// Close finalizes the blob and makes it visible to readers.
	Close() error
}

// Mappable is an optional interface for Blobs backed by memory-mapped
// files.
type Mappable interface {
	// Bytes returns the underlying byte slice.
	// The slice is valid until the Blob is closed.
	// This is a zero-copy operation if supported.
	Bytes() ([]byte, error)
}

// ReadAll reads the entire contents of a blob. Mappable blobs are
// copied straight out of their mapped region.
func ReadAll(ctx context.Context, b Blob) ([]byte, error) {
	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			return nil, err
		}

		out := make([]byte, len(data))
		copy(out, data)

		return out, nil
	}

	size := b.Size()
	if size == 0 {
		return nil, nil
	}

	r, err := b.ReadRange(ctx, 0, size)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}
