package mailclass

import (
	"log/slog"

	"github.com/hupe1980/mailclass/linear"
	"github.com/hupe1980/mailclass/persistence"
)

// DefaultNumFeatures is the default width of the hashed feature space.
const DefaultNumFeatures = 1 << 18

// options contains configuration options for the classifier.
type options struct {
	nFeatures    int
	useIDF       bool
	workers      int
	epochs       int
	learningRate float64
	weightDecay  float64
	compression  persistence.CompressionType
	logger       *Logger
	metrics      MetricsCollector
}

// Option configures FitClassifier, Load, and their blob store variants.
type Option func(*options)

// WithNumFeatures sets the width of the hashed feature space. Changing
// it invalidates previously saved models.
func WithNumFeatures(n int) Option {
	return func(o *options) {
		o.nFeatures = n
	}
}

// WithIDF enables or disables inverse-document-frequency weighting.
func WithIDF(enabled bool) Option {
	return func(o *options) {
		o.useIDF = enabled
	}
}

// WithWorkers bounds the goroutines used for batch vectorization.
// Zero or negative means GOMAXPROCS.
func WithWorkers(workers int) Option {
	return func(o *options) {
		o.workers = workers
	}
}

// WithEpochs sets the number of training passes over the dataset.
func WithEpochs(epochs int) Option {
	return func(o *options) {
		o.epochs = epochs
	}
}

// WithLearningRate sets the Adagrad step size.
func WithLearningRate(lr float64) Option {
	return func(o *options) {
		o.learningRate = lr
	}
}

// WithWeightDecay sets the L2 regularization strength.
func WithWeightDecay(wd float64) Option {
	return func(o *options) {
		o.weightDecay = wd
	}
}

// WithCompression selects the artifact compression used by Save and
// SaveBlob.
func WithCompression(compression persistence.CompressionType) Option {
	return func(o *options) {
		o.compression = compression
	}
}

// WithLogger sets a custom logger. If nil is passed, logging is
// disabled.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}

		o.logger = logger
	}
}

// WithLogLevel enables text logging to stderr at the given level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector sets a custom metrics collector. If nil is
// passed, metrics collection is disabled.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector == nil {
			collector = NoopMetricsCollector{}
		}

		o.metrics = collector
	}
}

// applyOptions applies the given option functions to the default
// options.
func applyOptions(optFns ...Option) options {
	opts := options{
		nFeatures:    DefaultNumFeatures,
		useIDF:       true,
		epochs:       linear.DefaultOptions.Epochs,
		learningRate: linear.DefaultOptions.LearningRate,
		weightDecay:  linear.DefaultOptions.WeightDecay,
		compression:  persistence.CompressionLZ4,
		logger:       NoopLogger(),
		metrics:      NoopMetricsCollector{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}
