// Package attach stores email attachments on disk, content-addressed.
//
// Files live under <root>/<yyyy>/<mm>/<dd>/<messageId>/<hash>-<name>
// where hash is the SHA-256 of the content. The hash prefix makes
// duplicate detection a directory listing instead of a re-read of the
// store, and the date tree makes retention a matter of removing whole
// day directories.
//
// Attachment content is private by construction: directories are
// created 0700 and files 0600.
package attach

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hupe1980/mailclass/internal/resource"
)

// DefaultRetention is how long attachments are kept by convention.
// Sweep takes an explicit duration; this is the value callers use when
// nothing is configured.
const DefaultRetention = 90 * 24 * time.Hour

// hashHexLen is the length of a hex-encoded SHA-256 digest.
const hashHexLen = 64

// ErrNotFound is returned when no stored attachment matches.
var ErrNotFound = errors.New("attach: attachment not found")

// ErrInvalidName is returned when a message ID or filename is empty
// after sanitizing.
var ErrInvalidName = errors.New("attach: invalid name")

// Options contains configuration options for the store.
type Options struct {
	// Logger receives Debug lines for saves and sweep results. Nil
	// disables logging.
	Logger *slog.Logger

	// Limiter throttles retention sweeps. Nil disables throttling.
	Limiter *resource.Limiter
}

// Metadata describes one stored attachment.
type Metadata struct {
	Filename string    `json:"filename"`
	Path     string    `json:"storagePath"`
	SHA256   string    `json:"sha256Hash"`
	Size     int64     `json:"size"`
	MIMEType string    `json:"mimeType"`
	SavedAt  time.Time `json:"savedAt"`

	// Deduplicated is true when the content already existed for this
	// message and no new file was written.
	Deduplicated bool `json:"deduplicated"`
}

// Stats summarizes the store contents.
type Stats struct {
	TotalFiles     int            `json:"totalFiles"`
	TotalSizeBytes int64          `json:"totalSizeBytes"`
	OldestFile     time.Time      `json:"oldestFile"`
	NewestFile     time.Time      `json:"newestFile"`
	ByMIMEType     map[string]int `json:"byMimeType"`
	ByMessageID    map[string]int `json:"byMessageId"`
}

// Store is a content-addressed attachment store rooted at one
// directory. It is safe for concurrent use.
type Store struct {
	root    string
	logger  *slog.Logger
	limiter *resource.Limiter
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string, optFns ...func(o *Options)) (*Store, error) {
	var opts Options

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("attach: mkdir: %w", err)
	}

	// MkdirAll leaves pre-existing directories alone, so force the mode.
	if err := os.Chmod(root, 0o700); err != nil {
		return nil, fmt.Errorf("attach: chmod: %w", err)
	}

	return &Store{
		root:    root,
		logger:  opts.Logger,
		limiter: opts.Limiter,
	}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// Save stores content for the given message under today's UTC date.
// Content the message already has is not written again; the returned
// metadata points at the existing file and reports Deduplicated.
func (s *Store) Save(ctx context.Context, messageID, filename string, content []byte) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	safeID, err := sanitizeMessageID(messageID)
	if err != nil {
		return nil, err
	}

	safeName, err := sanitizeFilename(filename)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	meta := &Metadata{
		Filename: safeName,
		SHA256:   hash,
		Size:     int64(len(content)),
		MIMEType: mimetype.Detect(content).String(),
		SavedAt:  time.Now().UTC(),
	}

	if existing := s.findByHash(safeID, hash); existing != "" {
		meta.Path = existing
		meta.Deduplicated = true

		return meta, nil
	}

	dir := filepath.Join(s.root, meta.SavedAt.Format("2006"), meta.SavedAt.Format("01"), meta.SavedAt.Format("02"), safeID)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("attach: mkdir: %w", err)
	}

	path := filepath.Join(dir, hash+"-"+safeName)

	if err := os.WriteFile(path, content, 0o600); err != nil {
		return nil, fmt.Errorf("attach: write: %w", err)
	}

	meta.Path = path

	if s.logger != nil {
		s.logger.Debug("attachment stored", "messageId", safeID, "filename", safeName, "size", meta.Size, "mimeType", meta.MIMEType)
	}

	return meta, nil
}

// Read returns the content of the named attachment, searching the
// message's directories newest date first.
func (s *Store) Read(ctx context.Context, messageID, filename string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.find(messageID, filename)
	if err != nil {
		return nil, err
	}

	return os.ReadFile(path)
}

// Delete removes every stored copy of the named attachment and prunes
// directories it leaves empty. It reports whether anything was removed.
func (s *Store) Delete(ctx context.Context, messageID, filename string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	safeID, err := sanitizeMessageID(messageID)
	if err != nil {
		return false, err
	}

	safeName, err := sanitizeFilename(filename)
	if err != nil {
		return false, err
	}

	deleted := false

	for _, dir := range s.messageDirs(safeID) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if _, name, ok := parseEntryName(entry.Name()); !ok || name != safeName {
				continue
			}

			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return deleted, fmt.Errorf("attach: delete: %w", err)
			}

			deleted = true
		}

		s.pruneEmpty(dir)
	}

	if !deleted {
		return false, nil
	}

	return true, nil
}

// List returns metadata for every attachment stored for the message,
// oldest date first.
func (s *Store) List(ctx context.Context, messageID string) ([]Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	safeID, err := sanitizeMessageID(messageID)
	if err != nil {
		return nil, err
	}

	var metas []Metadata

	for _, dir := range s.messageDirs(safeID) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			hash, name, ok := parseEntryName(entry.Name())
			if !ok || entry.IsDir() {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				continue
			}

			path := filepath.Join(dir, entry.Name())

			mime := "application/octet-stream"
			if m, err := mimetype.DetectFile(path); err == nil {
				mime = m.String()
			}

			metas = append(metas, Metadata{
				Filename: name,
				Path:     path,
				SHA256:   hash,
				Size:     info.Size(),
				MIMEType: mime,
				SavedAt:  info.ModTime(),
			})
		}
	}

	return metas, nil
}

// Stats walks the whole store and summarizes it.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByMIMEType:  make(map[string]int),
		ByMessageID: make(map[string]int),
	}

	for _, day := range s.dayDirs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgDirs, err := os.ReadDir(day)
		if err != nil {
			continue
		}

		for _, msgDir := range msgDirs {
			if !msgDir.IsDir() {
				continue
			}

			s.collectMessageStats(filepath.Join(day, msgDir.Name()), msgDir.Name(), stats)
		}
	}

	return stats, nil
}

func (s *Store) collectMessageStats(dir, messageID string, stats *Stats) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if _, _, ok := parseEntryName(entry.Name()); !ok || entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		stats.TotalFiles++
		stats.TotalSizeBytes += info.Size()
		stats.ByMessageID[messageID]++

		mtime := info.ModTime()
		if stats.OldestFile.IsZero() || mtime.Before(stats.OldestFile) {
			stats.OldestFile = mtime
		}
		if stats.NewestFile.IsZero() || mtime.After(stats.NewestFile) {
			stats.NewestFile = mtime
		}

		mime := "application/octet-stream"
		if m, err := mimetype.DetectFile(filepath.Join(dir, entry.Name())); err == nil {
			mime = m.String()
		}

		stats.ByMIMEType[mime]++
	}
}

// Sweep removes every day directory older than olderThan and reports
// how many files went with them. File removal shares the store's IO
// budget when a limiter is configured.
func (s *Store) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return 0, err
	}
	defer s.limiter.Release()

	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0

	for _, day := range s.dayDirs() {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		date, err := s.dayDate(day)
		if err != nil {
			continue
		}

		if !date.Before(cutoff) {
			continue
		}

		n, err := s.removeDayDir(ctx, day)
		removed += n

		if err != nil {
			return removed, err
		}

		s.pruneEmpty(filepath.Dir(day))
	}

	if s.logger != nil {
		s.logger.Debug("retention sweep finished", "removed", removed, "olderThan", olderThan)
	}

	return removed, nil
}

func (s *Store) removeDayDir(ctx context.Context, day string) (int, error) {
	count := 0

	err := filepath.WalkDir(day, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if err := s.limiter.WaitIO(ctx, int(info.Size())); err != nil {
			return err
		}

		count++

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("attach: sweep: %w", err)
	}

	if err := os.RemoveAll(day); err != nil {
		return 0, fmt.Errorf("attach: sweep: %w", err)
	}

	return count, nil
}

// find locates the newest stored copy of the named attachment.
func (s *Store) find(messageID, filename string) (string, error) {
	safeID, err := sanitizeMessageID(messageID)
	if err != nil {
		return "", err
	}

	safeName, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	dirs := s.messageDirs(safeID)

	// Newest date first.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if _, name, ok := parseEntryName(entry.Name()); ok && name == safeName {
				return filepath.Join(dir, entry.Name()), nil
			}
		}
	}

	return "", fmt.Errorf("%w: %s/%s", ErrNotFound, safeID, safeName)
}

// findByHash reports where the message already stores this content.
func (s *Store) findByHash(safeID, hash string) string {
	for _, dir := range s.messageDirs(safeID) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if h, _, ok := parseEntryName(entry.Name()); ok && h == hash {
				return filepath.Join(dir, entry.Name())
			}
		}
	}

	return ""
}

// messageDirs returns the message's directories across all dates in
// ascending date order. The ID is sanitized, so it carries no glob
// metacharacters.
func (s *Store) messageDirs(safeID string) []string {
	pattern := filepath.Join(s.root, "[0-9][0-9][0-9][0-9]", "[0-9][0-9]", "[0-9][0-9]", safeID)

	dirs, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}

	sort.Strings(dirs)

	return dirs
}

func (s *Store) dayDirs() []string {
	pattern := filepath.Join(s.root, "[0-9][0-9][0-9][0-9]", "[0-9][0-9]", "[0-9][0-9]")

	dirs, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}

	sort.Strings(dirs)

	return dirs
}

func (s *Store) dayDate(day string) (time.Time, error) {
	rel, err := filepath.Rel(s.root, day)
	if err != nil {
		return time.Time{}, err
	}

	return time.Parse("2006/01/02", filepath.ToSlash(rel))
}

// pruneEmpty removes dir and its parents up to the store root while
// they are empty.
func (s *Store) pruneEmpty(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			return
		}

		dir = filepath.Dir(dir)
	}
}

// parseEntryName splits "<hash>-<name>" storage names.
func parseEntryName(entry string) (hash, name string, ok bool) {
	if len(entry) < hashHexLen+2 || entry[hashHexLen] != '-' {
		return "", "", false
	}

	hash = entry[:hashHexLen]
	for _, r := range hash {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", "", false
		}
	}

	return hash, entry[hashHexLen+1:], true
}

// sanitizeMessageID keeps alphanumerics, '-' and '_'.
func sanitizeMessageID(messageID string) (string, error) {
	var b strings.Builder

	for _, r := range messageID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("%w: message id %q", ErrInvalidName, messageID)
	}

	return b.String(), nil
}

// sanitizeFilename strips any path components.
func sanitizeFilename(filename string) (string, error) {
	name := filepath.Base(filename)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: filename %q", ErrInvalidName, filename)
	}

	return name, nil
}
