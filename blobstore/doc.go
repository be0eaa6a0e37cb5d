// Package blobstore provides storage abstraction for model artifacts.
//
// BlobStore is the interface for reading and writing data blobs
// (artifacts, registry manifests, the CURRENT pointer). Implementations
// must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with mmap reads and atomic renames
//   - MemoryStore: in-process map, for tests
//   - s3.Store: Amazon S3 with range reads and streaming uploads
//   - minio.Store: MinIO and other S3-compatible object stores
//
// Blobs are immutable once written. Writers stage data and publish it
// atomically on Close, so readers never observe partial content.
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)            // Open for reading
//	    Put(ctx, name, data) error               // Atomic write
//	    Create(ctx, name) (WritableBlob, error)  // Create for streaming writes
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// For cloud backends, implement ReadRange for efficient partial reads:
//
//	type Blob interface {
//	    ReadAt(ctx, p, off) (int, error)
//	    ReadRange(ctx, off, length) (io.ReadCloser, error)
//	    Size() int64
//	    Close() error
//	}
package blobstore
