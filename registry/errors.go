package registry

import "errors"

var (
	// ErrNotFound is returned when no model has been published yet, or
	// when a requested version does not exist.
	ErrNotFound = errors.New("model version not found")

	// ErrIncompatibleVersion is returned when a manifest was written in
	// an unsupported format version.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrChecksumMismatch is returned when an artifact's bytes do not
	// match the checksum recorded in its manifest.
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")
)
