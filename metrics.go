package mailclass

import (
	"sync/atomic"
	"time"
)

// FallbackKind identifies a silent substitution the classifier applied
// instead of failing an operation.
type FallbackKind string

const (
	// FallbackUnknownLabel counts training labels absent from their
	// label space and mapped to class 0.
	FallbackUnknownLabel FallbackKind = "unknown_label"

	// FallbackOutOfRange counts predictions whose winning class index
	// had no label string.
	FallbackOutOfRange FallbackKind = "out_of_range_prediction"

	// FallbackIDFSkip counts documents vectorized without IDF weighting
	// because no document statistics were available.
	FallbackIDFSkip FallbackKind = "idf_skip"
)

// MetricsCollector defines the interface for collecting mailclass
// operational metrics. Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// RecordTrain records a training run.
	RecordTrain(examples int, duration time.Duration, err error)

	// RecordPredict records a Predict or PredictBatch call.
	RecordPredict(count int, duration time.Duration, err error)

	// RecordSave records an artifact save.
	RecordSave(duration time.Duration, err error)

	// RecordLoad records an artifact load.
	RecordLoad(duration time.Duration, err error)

	// RecordFallback records n occurrences of a silent fallback.
	RecordFallback(kind FallbackKind, n int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

// RecordTrain does nothing.
func (NoopMetricsCollector) RecordTrain(examples int, duration time.Duration, err error) {}

// RecordPredict does nothing.
func (NoopMetricsCollector) RecordPredict(count int, duration time.Duration, err error) {}

// RecordSave does nothing.
func (NoopMetricsCollector) RecordSave(duration time.Duration, err error) {}

// RecordLoad does nothing.
func (NoopMetricsCollector) RecordLoad(duration time.Duration, err error) {}

// RecordFallback does nothing.
func (NoopMetricsCollector) RecordFallback(kind FallbackKind, n int64) {}

// BasicMetricsCollector collects operational metrics using atomic
// counters. It is safe for concurrent use.
type BasicMetricsCollector struct {
	trainCount    atomic.Int64
	trainErrors   atomic.Int64
	trainExamples atomic.Int64
	trainNanos    atomic.Int64

	predictCount  atomic.Int64
	predictErrors atomic.Int64
	predictItems  atomic.Int64
	predictNanos  atomic.Int64

	saveCount  atomic.Int64
	saveErrors atomic.Int64
	saveNanos  atomic.Int64

	loadCount  atomic.Int64
	loadErrors atomic.Int64
	loadNanos  atomic.Int64

	unknownLabels atomic.Int64
	outOfRange    atomic.Int64
	idfSkips      atomic.Int64
}

// NewBasicMetricsCollector creates a new basic metrics collector.
func NewBasicMetricsCollector() *BasicMetricsCollector {
	return &BasicMetricsCollector{}
}

// RecordTrain records a training run.
func (b *BasicMetricsCollector) RecordTrain(examples int, duration time.Duration, err error) {
	b.trainCount.Add(1)
	b.trainExamples.Add(int64(examples))
	b.trainNanos.Add(int64(duration))

	if err != nil {
		b.trainErrors.Add(1)
	}
}

// RecordPredict records a Predict or PredictBatch call.
func (b *BasicMetricsCollector) RecordPredict(count int, duration time.Duration, err error) {
	b.predictCount.Add(1)
	b.predictItems.Add(int64(count))
	b.predictNanos.Add(int64(duration))

	if err != nil {
		b.predictErrors.Add(1)
	}
}

// RecordSave records an artifact save.
func (b *BasicMetricsCollector) RecordSave(duration time.Duration, err error) {
	b.saveCount.Add(1)
	b.saveNanos.Add(int64(duration))

	if err != nil {
		b.saveErrors.Add(1)
	}
}

// RecordLoad records an artifact load.
func (b *BasicMetricsCollector) RecordLoad(duration time.Duration, err error) {
	b.loadCount.Add(1)
	b.loadNanos.Add(int64(duration))

	if err != nil {
		b.loadErrors.Add(1)
	}
}

// RecordFallback records n occurrences of a silent fallback.
func (b *BasicMetricsCollector) RecordFallback(kind FallbackKind, n int64) {
	switch kind {
	case FallbackUnknownLabel:
		b.unknownLabels.Add(n)
	case FallbackOutOfRange:
		b.outOfRange.Add(n)
	case FallbackIDFSkip:
		b.idfSkips.Add(n)
	}
}

// GetStats returns a snapshot of the collected metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		TrainCount:    b.trainCount.Load(),
		TrainErrors:   b.trainErrors.Load(),
		TrainExamples: b.trainExamples.Load(),

		PredictCount:  b.predictCount.Load(),
		PredictErrors: b.predictErrors.Load(),
		PredictItems:  b.predictItems.Load(),

		SaveCount:  b.saveCount.Load(),
		SaveErrors: b.saveErrors.Load(),

		LoadCount:  b.loadCount.Load(),
		LoadErrors: b.loadErrors.Load(),

		UnknownLabels:         b.unknownLabels.Load(),
		OutOfRangePredictions: b.outOfRange.Load(),
		IDFSkips:              b.idfSkips.Load(),
	}

	if stats.TrainCount > 0 {
		stats.AvgTrainLatency = time.Duration(b.trainNanos.Load() / stats.TrainCount)
	}

	if stats.PredictCount > 0 {
		stats.AvgPredictLatency = time.Duration(b.predictNanos.Load() / stats.PredictCount)
	}

	if stats.SaveCount > 0 {
		stats.AvgSaveLatency = time.Duration(b.saveNanos.Load() / stats.SaveCount)
	}

	if stats.LoadCount > 0 {
		stats.AvgLoadLatency = time.Duration(b.loadNanos.Load() / stats.LoadCount)
	}

	return stats
}

// BasicMetricsStats contains a snapshot of basic metrics.
type BasicMetricsStats struct {
	TrainCount      int64
	TrainErrors     int64
	TrainExamples   int64
	AvgTrainLatency time.Duration

	PredictCount      int64
	PredictErrors     int64
	PredictItems      int64
	AvgPredictLatency time.Duration

	SaveCount      int64
	SaveErrors     int64
	AvgSaveLatency time.Duration

	LoadCount      int64
	LoadErrors     int64
	AvgLoadLatency time.Duration

	UnknownLabels         int64
	OutOfRangePredictions int64
	IDFSkips              int64
}
