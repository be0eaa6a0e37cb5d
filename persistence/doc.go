//go:build amd64 || arm64

// Package persistence provides the binary artifact format for trained
// classifiers: a fixed header, a CRC32-guarded body holding the fitted
// vectorizer, the label vocabularies and the model weights, with
// optional LZ4 or ZSTD block compression.
//
// PLATFORM REQUIREMENTS:
// - Architecture: amd64 or arm64 only
// - Endianness: Little-endian (native on x86_64 and ARM64)
// - Alignment: 4-byte for float32/uint32, 8-byte for int64
//
// The unsafe operations in this package are verified at runtime with
// alignment checks and platform validation. See safety.go for
// implementation details.
package persistence
