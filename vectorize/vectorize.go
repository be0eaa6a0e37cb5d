// Package vectorize turns email text into fixed-width feature vectors
// using the hashing trick.
//
// Tokens are hashed into a fixed number of buckets; distinct tokens may
// share a bucket and that collision is an accepted part of the design,
// not an error. Fitting accumulates bucket-level document frequencies
// which weight later transforms with a smoothed inverse document
// frequency. The hash is a fixed contract: MD5 over the token bytes,
// reduced modulo the bucket count, identical across processes and
// between training and inference.
package vectorize

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mailclass/tokenize"
)

var (
	// ErrInvalidFeatureCount is returned when the bucket count is not positive.
	ErrInvalidFeatureCount = errors.New("vectorize: feature count must be positive")
	// ErrCorruptState is returned when restored state is internally inconsistent.
	ErrCorruptState = errors.New("vectorize: corrupt vectorizer state")
)

// Options contains configuration options for the hashing vectorizer.
type Options struct {
	// UseIDF enables inverse-document-frequency weighting in Transform.
	UseIDF bool

	// Workers bounds the goroutines used by batch Transform.
	// If 0, defaults to GOMAXPROCS.
	Workers int

	// Logger receives debug events (IDF skips). Nil disables logging.
	Logger *slog.Logger
}

// DefaultOptions contains the default configuration options.
var DefaultOptions = Options{
	UseIDF:  true,
	Workers: 0,
}

// HashingVectorizer maps documents to vectors of a fixed width agreed at
// construction time. Fit mutates the document-frequency statistics;
// Transform only reads them and is safe for concurrent callers once
// fitting has completed. Callers must not run Fit concurrently with
// Transform on the same instance.
type HashingVectorizer struct {
	nFeatures int
	useIDF    bool
	workers   int
	logger    *slog.Logger

	docFreq  []int64
	docCount int64
	fitted   bool

	idfSkips atomic.Int64
}

// New creates a hashing vectorizer with nFeatures buckets.
// nFeatures is part of the persisted model contract: changing it
// invalidates every artifact produced with the old value.
func New(nFeatures int, optFns ...func(o *Options)) (*HashingVectorizer, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if nFeatures < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFeatureCount, nFeatures)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &HashingVectorizer{
		nFeatures: nFeatures,
		useIDF:    opts.UseIDF,
		workers:   workers,
		logger:    opts.Logger,
		docFreq:   make([]int64, nFeatures),
	}, nil
}

// BucketIndex returns the feature bucket for token.
//
// The reduction folds the 128-bit MD5 digest into the bucket range byte
// by byte, which is exactly the digest taken as a big-endian integer
// modulo the bucket count.
func (hv *HashingVectorizer) BucketIndex(token string) int {
	return bucketIndex(token, hv.nFeatures)
}

func bucketIndex(token string, nFeatures int) int {
	sum := md5.Sum([]byte(token))

	m := uint64(nFeatures)
	var r uint64
	for _, b := range sum {
		r = (r<<8 | uint64(b)) % m
	}

	return int(r)
}

// NumFeatures returns the configured bucket count.
func (hv *HashingVectorizer) NumFeatures() int { return hv.nFeatures }

// UseIDF reports whether Transform applies IDF weighting.
func (hv *HashingVectorizer) UseIDF() bool { return hv.useIDF }

// DocCount returns the number of documents seen by Fit.
func (hv *HashingVectorizer) DocCount() int64 { return hv.docCount }

// Fitted reports whether the vectorizer carries document statistics.
func (hv *HashingVectorizer) Fitted() bool { return hv.fitted }

// IDFSkips returns how many Transform calls ran without IDF weighting
// because the vectorizer had not been fit. A nonzero value on a
// production path usually means a model was used before training.
func (hv *HashingVectorizer) IDFSkips() int64 { return hv.idfSkips.Load() }

// Fit accumulates document-frequency statistics from docs.
//
// Each document bumps a bucket's counter at most once, even when several
// distinct tokens collide into that bucket. Repeated calls accumulate;
// state is never reset. Documents with no tokens still count toward the
// document total.
func (hv *HashingVectorizer) Fit(ctx context.Context, docs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	seen := roaring.New()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}

		hv.docCount++

		seen.Clear()
		for _, token := range tokenize.Split(doc) {
			seen.Add(uint32(bucketIndex(token, hv.nFeatures)))
		}

		seen.Iterate(func(b uint32) bool {
			hv.docFreq[b]++
			return true
		})
	}

	hv.fitted = hv.docCount > 0

	return nil
}

// Transform converts docs into rows of length NumFeatures.
//
// Per document, bucket counts are normalized by the document's maximum
// count (values in [0,1]; a tokenless document yields the zero vector).
// With IDF enabled on a fitted vectorizer each bucket is additionally
// weighted by log((1+docs)/(1+df))+1, which stays positive and finite
// even for buckets never seen during fitting. Transform before any Fit
// silently skips the IDF step instead of failing.
//
// Rows are computed in parallel; output order matches input order.
func (hv *HashingVectorizer) Transform(ctx context.Context, docs []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	applyIDF := hv.useIDF && hv.fitted && hv.docCount > 0
	if hv.useIDF && !applyIDF {
		hv.idfSkips.Add(1)
		if hv.logger != nil {
			hv.logger.DebugContext(ctx, "transform before fit, idf weighting skipped",
				"docs", len(docs),
			)
		}
	}

	rows := make([][]float32, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hv.workers)

	for i, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = hv.transformOne(doc, applyIDF)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return rows, nil
}

// TransformOne converts a single document.
func (hv *HashingVectorizer) TransformOne(ctx context.Context, doc string) ([]float32, error) {
	rows, err := hv.Transform(ctx, []string{doc})
	if err != nil {
		return nil, err
	}

	return rows[0], nil
}

// FitTransform fits on docs and transforms the same docs.
func (hv *HashingVectorizer) FitTransform(ctx context.Context, docs []string) ([][]float32, error) {
	if err := hv.Fit(ctx, docs); err != nil {
		return nil, err
	}

	return hv.Transform(ctx, docs)
}

func (hv *HashingVectorizer) transformOne(doc string, applyIDF bool) []float32 {
	row := make([]float32, hv.nFeatures)

	counts := make(map[int]float64)
	maxTF := 0.0
	for _, token := range tokenize.Split(doc) {
		b := bucketIndex(token, hv.nFeatures)
		counts[b]++
		if counts[b] > maxTF {
			maxTF = counts[b]
		}
	}

	if maxTF == 0 {
		return row
	}

	for b, c := range counts {
		v := c / maxTF
		if applyIDF {
			v *= math.Log((1+float64(hv.docCount))/(1+float64(hv.docFreq[b]))) + 1
		}
		row[b] = float32(v)
	}

	return row
}

// State is the serializable statistics of a fitted vectorizer.
type State struct {
	NFeatures int
	UseIDF    bool
	DocFreq   []int64
	DocCount  int64
}

// State returns a copy of the vectorizer statistics for persistence.
func (hv *HashingVectorizer) State() State {
	df := make([]int64, len(hv.docFreq))
	copy(df, hv.docFreq)

	return State{
		NFeatures: hv.nFeatures,
		UseIDF:    hv.useIDF,
		DocFreq:   df,
		DocCount:  hv.docCount,
	}
}

// FromState reconstructs a vectorizer from persisted statistics.
// The vectorizer is considered fitted when the state carries documents.
func FromState(s State, optFns ...func(o *Options)) (*HashingVectorizer, error) {
	if len(s.DocFreq) != s.NFeatures {
		return nil, fmt.Errorf("%w: doc freq length %d, feature count %d",
			ErrCorruptState, len(s.DocFreq), s.NFeatures)
	}
	if s.DocCount < 0 {
		return nil, fmt.Errorf("%w: negative doc count %d", ErrCorruptState, s.DocCount)
	}

	hv, err := New(s.NFeatures, optFns...)
	if err != nil {
		return nil, err
	}

	hv.useIDF = s.UseIDF
	copy(hv.docFreq, s.DocFreq)
	hv.docCount = s.DocCount
	hv.fitted = s.DocCount > 0

	return hv, nil
}
