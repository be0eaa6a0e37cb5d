// Package dataset reads labeled email examples from NDJSON files, one
// JSON record per line. Malformed lines are skipped instead of
// aborting the read; the skip count is reported so callers can notice
// a rotten file without losing the good lines around it.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/hupe1980/mailclass/codec"
	"github.com/hupe1980/mailclass/internal/resource"
	"github.com/hupe1980/mailclass/taxonomy"
)

// maxLineBytes bounds a single NDJSON line. Email bodies are inlined
// into the record, so lines can get big.
const maxLineBytes = 16 << 20

// Example is one labeled training email. Absent fields stay "".
type Example struct {
	MessageID      string
	Subject        string
	Body           string
	Type           string
	SenderIdentity string
	Context        string
	Handler        string
}

// Text returns the classifier input text for the example.
func (e Example) Text() string {
	return e.Subject + " " + e.Body
}

// Label returns the example's label for the given dimension.
func (e Example) Label(d taxonomy.Dimension) string {
	switch d {
	case taxonomy.DimensionType:
		return e.Type
	case taxonomy.DimensionSender:
		return e.SenderIdentity
	case taxonomy.DimensionContext:
		return e.Context
	case taxonomy.DimensionHandler:
		return e.Handler
	default:
		return ""
	}
}

// Dataset is the result of a read.
type Dataset struct {
	Examples []Example

	// Skipped counts lines that were not valid JSON records.
	Skipped int

	// Files counts the files the dataset was read from.
	Files int
}

// Options contains configuration options for reading datasets.
type Options struct {
	// Logger receives a Debug line per skipped record. Nil disables
	// logging.
	Logger *slog.Logger

	// Limiter throttles file reads in ReadDir and ReadFile. Nil
	// disables throttling.
	Limiter *resource.Limiter
}

// record is the NDJSON wire shape.
type record struct {
	MessageID string `json:"messageId"`
	Features  struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	} `json:"features"`
	Classification struct {
		Type           string `json:"category1_type"`
		SenderIdentity string `json:"category2_sender_identity"`
		Context        string `json:"category3_context"`
		Handler        string `json:"category4_handler"`
	} `json:"classification"`
}

// Read parses NDJSON records from r. Blank lines are ignored; lines
// that fail to decode are counted and skipped.
func Read(r io.Reader, optFns ...func(o *Options)) (*Dataset, error) {
	var opts Options

	for _, fn := range optFns {
		fn(&opts)
	}

	return read(r, "", &opts)
}

func read(r io.Reader, name string, opts *Options) (*Dataset, error) {
	ds := &Dataset{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineBytes)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := codec.Default.Unmarshal(line, &rec); err != nil {
			ds.Skipped++

			if opts.Logger != nil {
				opts.Logger.Debug("skipping malformed dataset line", "file", name, "line", lineNo, "error", err)
			}

			continue
		}

		ds.Examples = append(ds.Examples, Example{
			MessageID:      rec.MessageID,
			Subject:        rec.Features.Subject,
			Body:           rec.Features.Body,
			Type:           rec.Classification.Type,
			SenderIdentity: rec.Classification.SenderIdentity,
			Context:        rec.Classification.Context,
			Handler:        rec.Classification.Handler,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: scan %s: %w", name, err)
	}

	return ds, nil
}

// ReadFile reads one NDJSON file.
func ReadFile(ctx context.Context, path string, optFns ...func(o *Options)) (*Dataset, error) {
	var opts Options

	for _, fn := range optFns {
		fn(&opts)
	}

	ds, err := readFile(ctx, path, &opts)
	if err != nil {
		return nil, err
	}

	ds.Files = 1

	return ds, nil
}

func readFile(ctx context.Context, path string, opts *Options) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if opts.Limiter != nil {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}

		if err := opts.Limiter.WaitIO(ctx, int(info.Size())); err != nil {
			return nil, err
		}
	}

	return read(f, path, opts)
}

// ReadDir reads every *.ndjson file under dir in lexical order and
// merges the results.
func ReadDir(ctx context.Context, dir string, optFns ...func(o *Options)) (*Dataset, error) {
	var opts Options

	for _, fn := range optFns {
		fn(&opts)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.ndjson"))
	if err != nil {
		return nil, fmt.Errorf("dataset: glob: %w", err)
	}

	sort.Strings(paths)

	ds := &Dataset{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		part, err := readFile(ctx, path, &opts)
		if err != nil {
			return nil, err
		}

		ds.Examples = append(ds.Examples, part.Examples...)
		ds.Skipped += part.Skipped
		ds.Files++
	}

	return ds, nil
}
