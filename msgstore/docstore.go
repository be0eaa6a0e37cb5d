package msgstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/mailclass/codec"
	"github.com/hupe1980/mailclass/persistence"
)

// DocStore reads and writes one JSON document with atomic replace.
// Writes go through a temp file and rename, so readers never observe a
// half-written document. Intended for small hand-editable documents
// like settings and taxonomy copies.
type DocStore struct {
	path string
}

// NewDocStore creates a store for the document at path.
func NewDocStore(path string) *DocStore {
	return &DocStore{path: path}
}

// Path returns the document location.
func (s *DocStore) Path() string {
	return s.path
}

// Exists reports whether the document has been written.
func (s *DocStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read decodes the document into v. A missing document reports
// fs.ErrNotExist.
func (s *DocStore) Read(v any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if err := codec.Default.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgstore: decode %s: %w", s.path, err)
	}

	return nil
}

// Write encodes v and atomically replaces the document, creating
// parent directories as needed. The output is indented for hand
// editing.
func (s *DocStore) Write(v any) error {
	data, err := codec.Default.Marshal(v)
	if err != nil {
		return fmt.Errorf("msgstore: encode: %w", err)
	}

	// Indentation is formatting, not encoding, so the stdlib works on
	// any codec's output.
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("msgstore: indent: %w", err)
	}

	buf.WriteByte('\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("msgstore: mkdir: %w", err)
	}

	return persistence.SaveToFile(s.path, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
}
