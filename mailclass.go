// Package mailclass provides a deterministic email classifier built on
// feature hashing and a multi-head linear model.
package mailclass

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hupe1980/mailclass/blobstore"
	"github.com/hupe1980/mailclass/dataset"
	"github.com/hupe1980/mailclass/linear"
	"github.com/hupe1980/mailclass/persistence"
	"github.com/hupe1980/mailclass/taxonomy"
	"github.com/hupe1980/mailclass/vectorize"
)

// ReviewedMarker is the constant value of the category0_reviewed field
// in every prediction.
const ReviewedMarker = "reviewed"

// Prediction is the classification of a single email. The JSON field
// names are the wire contract consumed by downstream automation; four
// fields carry model output and category0_reviewed is a constant
// processing marker.
type Prediction struct {
	Reviewed       string `json:"category0_reviewed"`
	Type           string `json:"category1_type"`
	SenderIdentity string `json:"category2_sender_identity"`
	Context        string `json:"category3_context"`
	Handler        string `json:"category4_handler"`
}

// Classifier is a trained email classifier. Model state is immutable
// after training, so a fitted classifier is safe for concurrent
// readers. Retraining produces a new value; servers typically swap it
// behind an atomic pointer.
type Classifier struct {
	vectorizer *vectorize.HashingVectorizer
	spaces     *taxonomy.LabelSpaces
	model      *linear.MultiHead

	compression persistence.CompressionType
	logger      *Logger
	metrics     MetricsCollector

	epochLosses   []float64
	unknownLabels int64
	outOfRange    atomic.Int64
}

// collector returns the metrics collector, tolerating zero-value
// classifiers.
func (c *Classifier) collector() MetricsCollector {
	if c.metrics == nil {
		return NoopMetricsCollector{}
	}

	return c.metrics
}

// log returns the logger, tolerating zero-value classifiers.
func (c *Classifier) log() *Logger {
	if c.logger == nil {
		return NoopLogger()
	}

	return c.logger
}

// FitClassifier trains a classifier on the given examples against the
// label vocabularies of tax. Examples are vectorized from their
// subject and body; labels absent from their label space train as
// class 0 and are counted in Stats.
func FitClassifier(ctx context.Context, examples []dataset.Example, tax *taxonomy.Taxonomy, optFns ...Option) (*Classifier, error) {
	opts := applyOptions(optFns...)

	start := time.Now()
	clf, err := fit(ctx, examples, tax, opts)
	duration := time.Since(start)

	err = translateError(err)
	opts.metrics.RecordTrain(len(examples), duration, err)
	opts.logger.LogTrain(ctx, len(examples), opts.epochs, err)

	if err != nil {
		return nil, err
	}

	return clf, nil
}

func fit(ctx context.Context, examples []dataset.Example, tax *taxonomy.Taxonomy, opts options) (*Classifier, error) {
	if len(examples) == 0 {
		return nil, ErrEmptyTrainingSet
	}

	spaces, err := taxonomy.Resolve(tax, func(o *taxonomy.Options) {
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	vectorizer, err := vectorize.New(opts.nFeatures, func(o *vectorize.Options) {
		o.UseIDF = opts.useIDF
		o.Workers = opts.workers
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	docs := make([]string, len(examples))
	for i, ex := range examples {
		docs[i] = ex.Text()
	}

	x, err := vectorizer.FitTransform(ctx, docs)
	if err != nil {
		return nil, err
	}

	var (
		sizes   [taxonomy.NumDimensions]int
		targets [taxonomy.NumDimensions][]int
		unknown int64
	)

	for d := taxonomy.Dimension(0); d < taxonomy.NumDimensions; d++ {
		sizes[d] = spaces.Size(d)

		targets[d] = make([]int, len(examples))
		for i, ex := range examples {
			idx, ok := spaces.Index(d, ex.Label(d))
			if !ok {
				unknown++
			}

			targets[d][i] = idx
		}
	}

	model := linear.NewMultiHead(opts.nFeatures, sizes)

	report, err := linear.Train(ctx, model, x, targets, func(o *linear.Options) {
		o.Epochs = opts.epochs
		o.LearningRate = opts.learningRate
		o.WeightDecay = opts.weightDecay
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	if unknown > 0 {
		opts.metrics.RecordFallback(FallbackUnknownLabel, unknown)
		opts.logger.WarnContext(ctx, "training labels absent from label space mapped to class 0",
			"count", unknown,
		)
	}

	return &Classifier{
		vectorizer:    vectorizer,
		spaces:        spaces,
		model:         model,
		compression:   opts.compression,
		logger:        opts.logger,
		metrics:       opts.metrics,
		epochLosses:   report.EpochLosses,
		unknownLabels: unknown + report.LabelFallbacks,
	}, nil
}

// Predict classifies a single text.
func (c *Classifier) Predict(ctx context.Context, text string) (Prediction, error) {
	start := time.Now()
	p, err := c.predictOne(ctx, text)
	duration := time.Since(start)

	err = translateError(err)
	c.collector().RecordPredict(1, duration, err)
	c.log().LogPredict(ctx, 1, err)

	if err != nil {
		return Prediction{}, err
	}

	return p, nil
}

func (c *Classifier) predictOne(ctx context.Context, text string) (Prediction, error) {
	if c.model == nil {
		return Prediction{}, ErrNotFitted
	}

	if c.vectorizer.UseIDF() && c.vectorizer.DocCount() == 0 {
		c.collector().RecordFallback(FallbackIDFSkip, 1)
	}

	x, err := c.vectorizer.TransformOne(ctx, text)
	if err != nil {
		return Prediction{}, err
	}

	return c.classify(x), nil
}

// PredictBatch classifies texts in one pass, returning one prediction
// per input text, in order.
func (c *Classifier) PredictBatch(ctx context.Context, texts []string) ([]Prediction, error) {
	start := time.Now()
	preds, err := c.predictBatch(ctx, texts)
	duration := time.Since(start)

	err = translateError(err)
	c.collector().RecordPredict(len(texts), duration, err)
	c.log().LogPredict(ctx, len(texts), err)

	if err != nil {
		return nil, err
	}

	return preds, nil
}

func (c *Classifier) predictBatch(ctx context.Context, texts []string) ([]Prediction, error) {
	if c.model == nil {
		return nil, ErrNotFitted
	}

	if len(texts) == 0 {
		return nil, nil
	}

	if c.vectorizer.UseIDF() && c.vectorizer.DocCount() == 0 {
		c.collector().RecordFallback(FallbackIDFSkip, int64(len(texts)))
	}

	xs, err := c.vectorizer.Transform(ctx, texts)
	if err != nil {
		return nil, err
	}

	preds := make([]Prediction, len(xs))
	for i, x := range xs {
		preds[i] = c.classify(x)
	}

	return preds, nil
}

// classify maps head argmaxes back to label strings. A winning class
// with no label yields an empty string and counts as an out-of-range
// prediction.
func (c *Classifier) classify(x []float32) Prediction {
	classes := c.model.Predict(x)

	var (
		labels [taxonomy.NumDimensions]string
		misses int64
	)

	for d := taxonomy.Dimension(0); d < taxonomy.NumDimensions; d++ {
		labels[d] = c.spaces.Label(d, classes[d])
		if labels[d] == "" {
			misses++
		}
	}

	if misses > 0 {
		c.outOfRange.Add(misses)
		c.collector().RecordFallback(FallbackOutOfRange, misses)
	}

	return Prediction{
		Reviewed:       ReviewedMarker,
		Type:           labels[taxonomy.DimensionType],
		SenderIdentity: labels[taxonomy.DimensionSender],
		Context:        labels[taxonomy.DimensionContext],
		Handler:        labels[taxonomy.DimensionHandler],
	}
}

// Save writes the model artifact atomically to path.
func (c *Classifier) Save(ctx context.Context, path string) error {
	start := time.Now()
	err := c.save(path)
	duration := time.Since(start)

	err = translateError(err)
	c.collector().RecordSave(duration, err)
	c.log().LogSave(ctx, path, err)

	return err
}

func (c *Classifier) save(path string) error {
	if c.model == nil {
		return ErrNotFitted
	}

	return persistence.SaveToFile(path, func(w io.Writer) error {
		return persistence.WriteArtifact(w, c.artifact(), c.compression)
	})
}

// SaveToWriter encodes the model artifact to w.
func (c *Classifier) SaveToWriter(w io.Writer) error {
	if c.model == nil {
		return ErrNotFitted
	}

	return translateError(persistence.WriteArtifact(w, c.artifact(), c.compression))
}

// SaveBlob writes the model artifact to a blob store under name.
func (c *Classifier) SaveBlob(ctx context.Context, store blobstore.BlobStore, name string) error {
	start := time.Now()
	err := c.saveBlob(ctx, store, name)
	duration := time.Since(start)

	err = translateError(err)
	c.collector().RecordSave(duration, err)
	c.log().LogSave(ctx, name, err)

	return err
}

func (c *Classifier) saveBlob(ctx context.Context, store blobstore.BlobStore, name string) error {
	if c.model == nil {
		return ErrNotFitted
	}

	var buf bytes.Buffer
	if err := persistence.WriteArtifact(&buf, c.artifact(), c.compression); err != nil {
		return err
	}

	return store.Put(ctx, name, buf.Bytes())
}

// Load reads a model artifact from path. Training options are ignored;
// logger, metrics, workers, and compression apply to the loaded
// classifier.
func Load(ctx context.Context, path string, optFns ...Option) (*Classifier, error) {
	opts := applyOptions(optFns...)

	start := time.Now()
	clf, err := load(path, opts)
	duration := time.Since(start)

	err = translateError(err)
	opts.metrics.RecordLoad(duration, err)
	opts.logger.LogLoad(ctx, path, err)

	if err != nil {
		return nil, err
	}

	return clf, nil
}

func load(path string, opts options) (*Classifier, error) {
	var a *persistence.Artifact

	err := persistence.LoadFromFile(path, func(r io.Reader) error {
		var err error
		a, err = persistence.ReadArtifact(r)

		return err
	})
	if err != nil {
		return nil, err
	}

	return fromArtifact(a, opts)
}

// LoadFromReader decodes a model artifact from r.
func LoadFromReader(r io.Reader, optFns ...Option) (*Classifier, error) {
	opts := applyOptions(optFns...)

	a, err := persistence.ReadArtifact(r)
	if err != nil {
		return nil, translateError(err)
	}

	clf, err := fromArtifact(a, opts)
	if err != nil {
		return nil, translateError(err)
	}

	return clf, nil
}

// LoadBlob reads a model artifact from a blob store.
func LoadBlob(ctx context.Context, store blobstore.BlobStore, name string, optFns ...Option) (*Classifier, error) {
	opts := applyOptions(optFns...)

	start := time.Now()
	clf, err := loadBlob(ctx, store, name, opts)
	duration := time.Since(start)

	err = translateError(err)
	opts.metrics.RecordLoad(duration, err)
	opts.logger.LogLoad(ctx, name, err)

	if err != nil {
		return nil, err
	}

	return clf, nil
}

func loadBlob(ctx context.Context, store blobstore.BlobStore, name string, opts options) (*Classifier, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, err
	}

	a, err := persistence.ReadArtifact(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return fromArtifact(a, opts)
}

// FromArtifact reconstructs a classifier from a decoded artifact, for
// example one fetched from a model registry. Head widths derive from
// the persisted label spaces, which are authoritative at inference and
// never re-derived from an external taxonomy.
func FromArtifact(a *persistence.Artifact, optFns ...Option) (*Classifier, error) {
	clf, err := fromArtifact(a, applyOptions(optFns...))
	if err != nil {
		return nil, translateError(err)
	}

	return clf, nil
}

func fromArtifact(a *persistence.Artifact, opts options) (*Classifier, error) {
	vectorizer, err := vectorize.FromState(a.Vectorizer, func(o *vectorize.Options) {
		o.Workers = opts.workers
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	model, err := linear.FromState(a.Model)
	if err != nil {
		return nil, err
	}

	return &Classifier{
		vectorizer:  vectorizer,
		spaces:      taxonomy.FromLists(a.LabelSpaces),
		model:       model,
		compression: opts.compression,
		logger:      opts.logger,
		metrics:     opts.metrics,
	}, nil
}

// Artifact returns a snapshot of the classifier state, for example for
// publishing to a model registry.
func (c *Classifier) Artifact() (*persistence.Artifact, error) {
	if c.model == nil {
		return nil, ErrNotFitted
	}

	return c.artifact(), nil
}

func (c *Classifier) artifact() *persistence.Artifact {
	return &persistence.Artifact{
		Vectorizer:  c.vectorizer.State(),
		LabelSpaces: c.spaces.Lists(),
		Model:       c.model.State(),
	}
}

// LabelSpaces returns the label vocabularies the classifier predicts
// over.
func (c *Classifier) LabelSpaces() *taxonomy.LabelSpaces {
	return c.spaces
}

// Stats is a point-in-time snapshot of classifier diagnostics.
type Stats struct {
	// NumFeatures is the width of the hashed feature space.
	NumFeatures int

	// DocCount is the number of documents the vectorizer was fitted on.
	DocCount int64

	// HeadSizes is the class count of each classification head.
	HeadSizes [taxonomy.NumDimensions]int

	// EpochLosses is the mean training loss per epoch, first epoch
	// first. Empty for loaded classifiers.
	EpochLosses []float64

	// UnknownLabels counts training labels that were absent from their
	// label space and trained as class 0.
	UnknownLabels int64

	// OutOfRangePredictions counts predictions whose winning class had
	// no label string.
	OutOfRangePredictions int64

	// IDFSkips counts documents vectorized without IDF weighting
	// because no document statistics were available.
	IDFSkips int64
}

// Stats returns classifier diagnostics.
func (c *Classifier) Stats() Stats {
	if c.model == nil {
		return Stats{}
	}

	return Stats{
		NumFeatures:           c.model.NumFeatures(),
		DocCount:              c.vectorizer.DocCount(),
		HeadSizes:             c.model.HeadSizes(),
		EpochLosses:           slices.Clone(c.epochLosses),
		UnknownLabels:         c.unknownLabels,
		OutOfRangePredictions: c.outOfRange.Load(),
		IDFSkips:              c.vectorizer.IDFSkips(),
	}
}
