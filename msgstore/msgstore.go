// Package msgstore persists processed message records as NDJSON, one
// file per UTC day, and small JSON documents with atomic replace.
//
// The day files are append-only. Scans walk files newest day first and
// preserve append order within each file, so a limited scan returns
// the most recent days' records in the order they were written.
package msgstore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/mailclass/codec"
	"github.com/hupe1980/mailclass/internal/resource"
)

// DefaultScanLimit caps Scan results when ScanOptions.Limit is unset.
const DefaultScanLimit = 1000

// maxLineBytes bounds a single NDJSON line. Message records inline
// subject and body, so lines can get big.
const maxLineBytes = 16 << 20

// dayFormat is the file stem for one UTC day.
const dayFormat = "2006-01-02"

// ErrInvalidDate is returned when a scan date is not YYYY-MM-DD. Dates
// become path components, so anything else is rejected outright.
var ErrInvalidDate = errors.New("msgstore: invalid date")

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Options contains configuration options for the store.
type Options struct {
	// Logger receives a Debug line per skipped record. Nil disables
	// logging.
	Logger *slog.Logger

	// Limiter throttles file reads during Scan. Nil disables
	// throttling.
	Limiter *resource.Limiter
}

// ScanOptions filters a scan. All dates are UTC days (YYYY-MM-DD).
type ScanOptions struct {
	// Date restricts the scan to a single day. When set, Start and End
	// are ignored.
	Date string

	// Start and End bound the day range inclusively. Either may be
	// empty.
	Start string
	End   string

	// Limit caps the number of returned records. Zero or negative
	// means DefaultScanLimit.
	Limit int
}

// NDJSONStore appends JSON records to one NDJSON file per UTC day.
// It is safe for concurrent use.
type NDJSONStore struct {
	dir     string
	logger  *slog.Logger
	limiter *resource.Limiter

	mu sync.Mutex
}

// NewNDJSONStore creates the store rooted at dir, creating the
// directory if needed.
func NewNDJSONStore(dir string, optFns ...func(o *Options)) (*NDJSONStore, error) {
	var opts Options

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("msgstore: mkdir: %w", err)
	}

	return &NDJSONStore{
		dir:     dir,
		logger:  opts.Logger,
		limiter: opts.Limiter,
	}, nil
}

// Append encodes v and appends it as one line to today's file.
func (s *NDJSONStore) Append(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := codec.Default.Marshal(v)
	if err != nil {
		return fmt.Errorf("msgstore: encode: %w", err)
	}

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')

	path := filepath.Join(s.dir, time.Now().UTC().Format(dayFormat)+".ndjson")

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("msgstore: open: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("msgstore: append: %w", err)
	}

	return f.Close()
}

// Scan returns records matching opts, newest day first. Records within
// a day keep their append order. Lines that fail to decode are skipped.
func (s *NDJSONStore) Scan(ctx context.Context, opts ScanOptions) ([]map[string]any, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultScanLimit
	}

	paths, err := s.selectFiles(opts)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		part, err := s.scanFile(ctx, path, limit-len(rows))
		if err != nil {
			return nil, err
		}

		rows = append(rows, part...)

		if len(rows) >= limit {
			break
		}
	}

	return rows, nil
}

// selectFiles resolves the day files to scan, newest first.
func (s *NDJSONStore) selectFiles(opts ScanOptions) ([]string, error) {
	for _, day := range []string{opts.Date, opts.Start, opts.End} {
		if day != "" && !dayPattern.MatchString(day) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDate, day)
		}
	}

	if opts.Date != "" {
		path := filepath.Join(s.dir, opts.Date+".ndjson")
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}

			return nil, err
		}

		return []string{path}, nil
	}

	paths, err := filepath.Glob(filepath.Join(s.dir, "*.ndjson"))
	if err != nil {
		return nil, fmt.Errorf("msgstore: glob: %w", err)
	}

	filtered := paths[:0]

	for _, path := range paths {
		day := strings.TrimSuffix(filepath.Base(path), ".ndjson")

		if !dayPattern.MatchString(day) {
			continue
		}
		if opts.Start != "" && day < opts.Start {
			continue
		}
		if opts.End != "" && day > opts.End {
			continue
		}

		filtered = append(filtered, path)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(filtered)))

	return filtered, nil
}

func (s *NDJSONStore) scanFile(ctx context.Context, path string, max int) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}
	defer f.Close()

	if s.limiter != nil {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}

		if err := s.limiter.WaitIO(ctx, int(info.Size())); err != nil {
			return nil, err
		}
	}

	return s.readRecords(f, path, max)
}

func (s *NDJSONStore) readRecords(r io.Reader, name string, max int) ([]map[string]any, error) {
	var rows []map[string]any

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineBytes)

	for lineNo := 1; scanner.Scan() && len(rows) < max; lineNo++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var row map[string]any
		if err := codec.Default.Unmarshal(line, &row); err != nil {
			if s.logger != nil {
				s.logger.Debug("skipping malformed record line", "file", name, "line", lineNo, "error", err)
			}

			continue
		}

		rows = append(rows, row)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("msgstore: scan %s: %w", name, err)
	}

	return rows, nil
}
