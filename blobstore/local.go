package blobstore

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/mailclass/internal/mmap"
)

// LocalStore implements BlobStore on the local filesystem. Reads are
// memory-mapped; writes are staged in a temp file and renamed into
// place, so readers never observe a partially written artifact.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Open opens a blob for reading. The returned blob is mmap-backed and
// implements Mappable, so whole-artifact loads are served from the page
// cache without an extra copy loop.
func (s *LocalStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := mmap.Open(s.path(name))
	if err != nil {
		return nil, err // missing files satisfy ErrNotFound via os.ErrNotExist
	}

	return &localBlob{m: m}, nil
}

// Put writes data to a temp file in the target directory and renames it
// over the destination.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.create(ctx, name)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		_ = w.discard()
		return err
	}

	return w.Close()
}

// Create creates a blob for streaming writes. Data is staged in a temp
// file in the same directory and renamed into place on Close.
func (s *LocalStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	return s.create(ctx, name)
}

func (s *LocalStore) create(ctx context.Context, name string) (*localWritableBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, err
	}

	return &localWritableBlob{f: tmp, tmpName: tmp.Name(), finalName: path}, nil
}

// Delete removes a blob. Missing blobs are ignored.
func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// List walks the root directory and returns all blob names starting
// with prefix, sorted. Staged temp files are excluded. A missing root
// yields an empty list.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}

		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		if strings.Contains(filepath.Base(name), ".tmp-") {
			return nil
		}

		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)

	return names, nil
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if len(p) == 0 {
		return 0, nil
	}

	return b.m.ReadAt(p, off)
}

func (b *localBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := b.m.Bytes()
	if off < 0 || off >= int64(len(data)) {
		return nil, io.EOF
	}

	end := off + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}

	return io.NopCloser(bytes.NewReader(data[off:end])), nil
}

func (b *localBlob) Size() int64 {
	return b.m.Size()
}

func (b *localBlob) Close() error {
	return b.m.Close()
}

// Bytes implements Mappable for zero-copy access to the mapped file.
func (b *localBlob) Bytes() ([]byte, error) {
	return b.m.Bytes(), nil
}

// localWritableBlob stages writes in a temp file and publishes it with
// a rename on Close.
type localWritableBlob struct {
	f         *os.File
	tmpName   string
	finalName string
	closed    bool
}

func (b *localWritableBlob) Write(p []byte) (int, error) {
	if b.closed {
		return 0, os.ErrClosed
	}

	return b.f.Write(p)
}

func (b *localWritableBlob) Sync() error {
	if b.closed {
		return os.ErrClosed
	}

	return b.f.Sync()
}

func (b *localWritableBlob) Close() error {
	if b.closed {
		return os.ErrClosed
	}
	b.closed = true

	if err := b.f.Chmod(0o644); err != nil {
		_ = b.f.Close()
		_ = os.Remove(b.tmpName)
		return err
	}

	if err := b.f.Sync(); err != nil {
		_ = b.f.Close()
		_ = os.Remove(b.tmpName)
		return err
	}

	if err := b.f.Close(); err != nil {
		_ = os.Remove(b.tmpName)
		return err
	}

	if err := os.Rename(b.tmpName, b.finalName); err != nil {
		_ = os.Remove(b.tmpName)
		return err
	}

	return nil
}

// discard abandons the staged temp file without publishing it.
func (b *localWritableBlob) discard() error {
	if b.closed {
		return nil
	}
	b.closed = true

	_ = b.f.Close()

	return os.Remove(b.tmpName)
}
