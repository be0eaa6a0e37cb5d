package persistence

import (
	"errors"
	"fmt"
)

const (
	// MagicNumber identifies classifier artifact files (ASCII: "MCLF").
	MagicNumber = 0x4D434C46
	// Version is the current artifact format version (v1.0.0).
	Version = 0x00010000
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("unsupported version")
	ErrUnknownCompression = errors.New("unknown compression type")
	ErrCorruptBody        = errors.New("corrupt artifact body")
)

// Header is the fixed 48-byte header at the start of every artifact
// file. The body checksum lives here so a reader can verify integrity
// before parsing a single section.
type Header struct {
	Magic       uint32 // 0x4D434C46 ("MCLF")
	Version     uint32 // Artifact format version
	Compression uint8  // CompressionType of the body
	Padding1    [7]byte
	BodyLen     uint64 // Body length in bytes as stored
	Checksum    uint32 // CRC32 (IEEE) of the body as stored
	Padding2    [4]byte
	Reserved    [16]byte // Future use
}

// ShapeMismatchError is returned when a stored model section does not
// agree with the stored vectorizer or label spaces.
type ShapeMismatchError struct {
	Section  string
	Expected int
	Actual   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("persistence: %s: expected %d, got %d", e.Section, e.Expected, e.Actual)
}
