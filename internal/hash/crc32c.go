// Package hash provides checksum helpers for artifact integrity.
//
// Registry manifests record a CRC32-Castagnoli (CRC32C) checksum of each
// published artifact. CRC32C is hardware-accelerated on x86 (SSE4.2) and
// ARM (CRC extension) and detects storage corruption reliably; it is not
// cryptographically secure and must not be used for tamper detection.
package hash

import (
	"hash"
	"hash/crc32"
	"io"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a new CRC32-Castagnoli hash.Hash32 for streaming use.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// CRC32CReader computes the checksum of everything read from r.
func CRC32CReader(r io.Reader) (uint32, error) {
	h := NewCRC32C()
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}

	return h.Sum32(), nil
}
