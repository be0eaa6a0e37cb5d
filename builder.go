// Package mailclass provides a deterministic email classifier built on
// feature hashing and a multi-head linear model.
//
// This file implements the fluent builder API for configuring training runs.
// Builders are immutable - each method returns a new builder with the updated configuration.
package mailclass

import (
	"context"

	"github.com/hupe1980/mailclass/dataset"
	"github.com/hupe1980/mailclass/linear"
	"github.com/hupe1980/mailclass/persistence"
	"github.com/hupe1980/mailclass/taxonomy"
)

// Trainer creates a new training builder with default configuration.
//
// The builder is immutable - each method returns a new builder with the
// updated configuration. This ensures thread-safety and prevents
// accidental state sharing.
//
// Example:
//
//	clf, err := mailclass.Trainer().
//	    NumFeatures(1 << 18).
//	    Epochs(5).
//	    Logger(mailclass.NewTextLogger(slog.LevelInfo)).
//	    Fit(ctx, examples, tax)
func Trainer() TrainerBuilder {
	return TrainerBuilder{
		nFeatures:    DefaultNumFeatures,
		useIDF:       true,
		epochs:       linear.DefaultOptions.Epochs,
		learningRate: linear.DefaultOptions.LearningRate,
		weightDecay:  linear.DefaultOptions.WeightDecay,
		compression:  persistence.CompressionLZ4,
	}
}

// TrainerBuilder is an immutable fluent builder for training classifiers.
// Each method returns a new builder with the updated configuration.
type TrainerBuilder struct {
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

// NumFeatures sets the width of the hashed feature space.
// Changing it invalidates previously saved models.
// Default: 1 << 18.
func (b TrainerBuilder) NumFeatures(n int) TrainerBuilder {
	b.nFeatures = n
	return b
}

// IDF enables or disables inverse-document-frequency weighting.
// Default: true.
func (b TrainerBuilder) IDF(enabled bool) TrainerBuilder {
	b.useIDF = enabled
	return b
}

// Workers bounds the goroutines used for batch vectorization.
// Default: GOMAXPROCS.
func (b TrainerBuilder) Workers(n int) TrainerBuilder {
	b.workers = n
	return b
}

// Epochs sets the number of training passes over the dataset.
// Default: 3.
func (b TrainerBuilder) Epochs(n int) TrainerBuilder {
	b.epochs = n
	return b
}

// LearningRate sets the Adagrad step size.
// Default: 0.5.
func (b TrainerBuilder) LearningRate(lr float64) TrainerBuilder {
	b.learningRate = lr
	return b
}

// WeightDecay sets the L2 regularization strength.
// Default: 0.01.
func (b TrainerBuilder) WeightDecay(wd float64) TrainerBuilder {
	b.weightDecay = wd
	return b
}

// Compression selects the artifact compression used by Save.
// Default: LZ4.
func (b TrainerBuilder) Compression(compression persistence.CompressionType) TrainerBuilder {
	b.compression = compression
	return b
}

// Logger sets the structured logger for operation tracing.
func (b TrainerBuilder) Logger(l *Logger) TrainerBuilder {
	b.logger = l
	return b
}

// Metrics sets the metrics collector for monitoring.
func (b TrainerBuilder) Metrics(mc MetricsCollector) TrainerBuilder {
	b.metrics = mc
	return b
}

// Fit trains a classifier with the builder's configuration.
func (b TrainerBuilder) Fit(ctx context.Context, examples []dataset.Example, tax *taxonomy.Taxonomy) (*Classifier, error) {
	optFns := []Option{
		WithNumFeatures(b.nFeatures),
		WithIDF(b.useIDF),
		WithEpochs(b.epochs),
		WithLearningRate(b.learningRate),
		WithWeightDecay(b.weightDecay),
		WithCompression(b.compression),
	}

	if b.workers > 0 {
		optFns = append(optFns, WithWorkers(b.workers))
	}
	if b.logger != nil {
		optFns = append(optFns, WithLogger(b.logger))
	}
	if b.metrics != nil {
		optFns = append(optFns, WithMetricsCollector(b.metrics))
	}

	return FitClassifier(ctx, examples, tax, optFns...)
}

// MustFit trains a classifier, panicking on error.
func (b TrainerBuilder) MustFit(ctx context.Context, examples []dataset.Example, tax *taxonomy.Taxonomy) *Classifier {
	clf, err := b.Fit(ctx, examples, tax)
	if err != nil {
		panic(err)
	}

	return clf
}
