package mailclass

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mailclass/blobstore"
	"github.com/hupe1980/mailclass/codec"
	"github.com/hupe1980/mailclass/internal/testutil"
	"github.com/hupe1980/mailclass/persistence"
	"github.com/hupe1980/mailclass/taxonomy"
)

func TestClassifier(t *testing.T) {
	ctx := context.Background()

	t.Run("FitAndPredict", func(t *testing.T) {
		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(4096),
			WithEpochs(5),
		)
		require.NoError(t, err)

		p, err := clf.Predict(ctx, "Invoice 4711 payment due")
		require.NoError(t, err)

		assert.Equal(t, ReviewedMarker, p.Reviewed)
		assert.Equal(t, "invoice", p.Type)
		assert.Equal(t, "service", p.SenderIdentity)
		assert.Equal(t, "finance", p.Context)
		assert.Equal(t, "archive", p.Handler)
	})

	t.Run("PredictBatchKeepsOrder", func(t *testing.T) {
		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(4096),
			WithEpochs(5),
		)
		require.NoError(t, err)

		preds, err := clf.PredictBatch(ctx, []string{
			"Lunch tomorrow around noon",
			"Invoice 4711 subscription renewal",
		})
		require.NoError(t, err)
		require.Len(t, preds, 2)

		assert.Equal(t, "personal", preds[0].Type)
		assert.Equal(t, "respond", preds[0].Handler)
		assert.Equal(t, "invoice", preds[1].Type)
		assert.Equal(t, "archive", preds[1].Handler)
	})

	t.Run("SyntheticCorpus", func(t *testing.T) {
		examples := testutil.NewGenerator(42).Examples(60)

		clf, err := FitClassifier(ctx, examples, testutil.Taxonomy(),
			WithNumFeatures(4096),
			WithEpochs(3),
		)
		require.NoError(t, err)

		stats := clf.Stats()
		assert.Equal(t, int64(60), stats.DocCount)
		assert.Len(t, stats.EpochLosses, 3)
		assert.Zero(t, stats.UnknownLabels)

		spaces := clf.LabelSpaces()

		for _, e := range examples[:10] {
			p, err := clf.Predict(ctx, e.Text())
			require.NoError(t, err)

			assert.Equal(t, ReviewedMarker, p.Reviewed)
			assert.Contains(t, spaces.Labels(taxonomy.DimensionType), p.Type)
			assert.Contains(t, spaces.Labels(taxonomy.DimensionHandler), p.Handler)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(512),
		)
		require.NoError(t, err)

		preds, err := clf.PredictBatch(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, preds)
	})

	t.Run("EmptyTrainingSet", func(t *testing.T) {
		_, err := FitClassifier(ctx, nil, testutil.Taxonomy())
		require.ErrorIs(t, err, ErrEmptyTrainingSet)
	})

	t.Run("NilTaxonomy", func(t *testing.T) {
		_, err := FitClassifier(ctx, testutil.Examples(), nil)
		require.ErrorIs(t, err, ErrEmptyTaxonomy)
	})

	t.Run("InvalidFeatureCount", func(t *testing.T) {
		_, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(-1),
		)
		require.ErrorIs(t, err, ErrInvalidFeatureCount)
	})

	t.Run("NotFitted", func(t *testing.T) {
		var clf Classifier

		_, err := clf.Predict(ctx, "anything")
		require.ErrorIs(t, err, ErrNotFitted)

		_, err = clf.PredictBatch(ctx, []string{"anything"})
		require.ErrorIs(t, err, ErrNotFitted)

		err = clf.Save(ctx, filepath.Join(t.TempDir(), "model.bin"))
		require.ErrorIs(t, err, ErrNotFitted)

		err = clf.SaveToWriter(&bytes.Buffer{})
		require.ErrorIs(t, err, ErrNotFitted)

		_, err = clf.Artifact()
		require.ErrorIs(t, err, ErrNotFitted)

		assert.Zero(t, clf.Stats().NumFeatures)
	})

	t.Run("PredictionJSON", func(t *testing.T) {
		p := Prediction{
			Reviewed:       ReviewedMarker,
			Type:           "invoice",
			SenderIdentity: "service",
			Context:        "finance",
			Handler:        "archive",
		}

		data, err := codec.Default.Marshal(p)
		require.NoError(t, err)

		var m map[string]string
		require.NoError(t, codec.Default.Unmarshal(data, &m))

		assert.Equal(t, map[string]string{
			"category0_reviewed":        "reviewed",
			"category1_type":            "invoice",
			"category2_sender_identity": "service",
			"category3_context":         "finance",
			"category4_handler":         "archive",
		}, m)
	})

	t.Run("UnknownTrainingLabel", func(t *testing.T) {
		examples := testutil.Examples()
		examples[0].Type = "spam" // not in the taxonomy

		mc := NewBasicMetricsCollector()

		clf, err := FitClassifier(ctx, examples, testutil.Taxonomy(),
			WithNumFeatures(512),
			WithMetricsCollector(mc),
		)
		require.NoError(t, err)

		assert.Equal(t, int64(1), clf.Stats().UnknownLabels)
		assert.Equal(t, int64(1), mc.GetStats().UnknownLabels)
	})

	t.Run("Stats", func(t *testing.T) {
		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(4096),
			WithEpochs(5),
		)
		require.NoError(t, err)

		stats := clf.Stats()
		assert.Equal(t, 4096, stats.NumFeatures)
		assert.Equal(t, int64(2), stats.DocCount)
		assert.Equal(t, [taxonomy.NumDimensions]int{3, 3, 2, 3}, stats.HeadSizes)
		assert.Len(t, stats.EpochLosses, 5)
		assert.Zero(t, stats.UnknownLabels)
		assert.Zero(t, stats.OutOfRangePredictions)
	})

	t.Run("LabelSpaces", func(t *testing.T) {
		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(512),
		)
		require.NoError(t, err)

		spaces := clf.LabelSpaces()
		require.NotNil(t, spaces)
		assert.Equal(t, []string{"newsletter", "invoice", "personal"}, spaces.Labels(taxonomy.DimensionType))
		assert.Equal(t, []string{"read", "respond", "archive"}, spaces.Labels(taxonomy.DimensionHandler))
	})

	t.Run("EmptyCategory", func(t *testing.T) {
		tax := testutil.Taxonomy()
		tax.Categories[2].Labels = nil // context has no vocabulary

		clf, err := FitClassifier(ctx, testutil.Examples(), tax,
			WithNumFeatures(4096),
			WithEpochs(5),
		)
		require.NoError(t, err)

		stats := clf.Stats()
		// The empty space still gets a single-class head.
		assert.Equal(t, [taxonomy.NumDimensions]int{3, 3, 1, 3}, stats.HeadSizes)
		// Both examples carry context labels with nowhere to go.
		assert.Equal(t, int64(2), stats.UnknownLabels)

		p, err := clf.Predict(ctx, "Invoice 4711 payment due")
		require.NoError(t, err)

		assert.Equal(t, "invoice", p.Type)
		assert.Empty(t, p.Context)
		assert.Equal(t, int64(1), clf.Stats().OutOfRangePredictions)
	})
}

func TestClassifierPersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("SaveLoadPredictionsIdentical", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.bin")

		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(4096),
			WithEpochs(3),
		)
		require.NoError(t, err)

		texts := []string{
			"Invoice 4711 payment due",
			"Lunch tomorrow",
			"Grab tacos around noon",
		}

		before, err := clf.PredictBatch(ctx, texts)
		require.NoError(t, err)

		require.NoError(t, clf.Save(ctx, path))

		loaded, err := Load(ctx, path)
		require.NoError(t, err)

		after, err := loaded.PredictBatch(ctx, texts)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		// The loaded vectorizer keeps its fitted statistics.
		assert.Equal(t, int64(2), loaded.Stats().DocCount)
		assert.Equal(t, 4096, loaded.Stats().NumFeatures)
	})

	t.Run("WriterReaderRoundTrip", func(t *testing.T) {
		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(1024),
			WithCompression(persistence.CompressionZSTD),
		)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, clf.SaveToWriter(&buf))

		loaded, err := LoadFromReader(&buf)
		require.NoError(t, err)

		want, err := clf.Predict(ctx, "Invoice 4711 payment due")
		require.NoError(t, err)

		got, err := loaded.Predict(ctx, "Invoice 4711 payment due")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("BlobRoundTrip", func(t *testing.T) {
		store := blobstore.NewMemoryStore()

		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(1024),
		)
		require.NoError(t, err)

		require.NoError(t, clf.SaveBlob(ctx, store, "models/current.bin"))

		loaded, err := LoadBlob(ctx, store, "models/current.bin")
		require.NoError(t, err)

		want, err := clf.Predict(ctx, "Lunch tomorrow")
		require.NoError(t, err)

		got, err := loaded.Predict(ctx, "Lunch tomorrow")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("LoadMissingBlob", func(t *testing.T) {
		_, err := LoadBlob(ctx, blobstore.NewMemoryStore(), "models/missing.bin")
		require.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("InvalidMagic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.bin")
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'x'}, 128), 0o600))

		_, err := Load(ctx, path)
		require.ErrorIs(t, err, ErrCorruptModel)
	})

	t.Run("CorruptBody", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.bin")

		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(512),
		)
		require.NoError(t, err)
		require.NoError(t, clf.Save(ctx, path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		data[len(data)-1] ^= 0xFF
		require.NoError(t, os.WriteFile(path, data, 0o600))

		_, err = Load(ctx, path)
		require.ErrorIs(t, err, ErrCorruptModel)
	})

	t.Run("ArtifactRoundTrip", func(t *testing.T) {
		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(1024),
		)
		require.NoError(t, err)

		a, err := clf.Artifact()
		require.NoError(t, err)

		restored, err := FromArtifact(a)
		require.NoError(t, err)

		want, err := clf.Predict(ctx, "Invoice 4711 payment due")
		require.NoError(t, err)

		got, err := restored.Predict(ctx, "Invoice 4711 payment due")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("TamperedArtifact", func(t *testing.T) {
		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(512),
		)
		require.NoError(t, err)

		a, err := clf.Artifact()
		require.NoError(t, err)

		a.Model.Heads[0].Weights = a.Model.Heads[0].Weights[:10]

		_, err = FromArtifact(a)
		require.ErrorIs(t, err, ErrCorruptModel)
	})
}

func TestClassifierMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("CountsOperations", func(t *testing.T) {
		mc := NewBasicMetricsCollector()

		clf, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(512),
			WithMetricsCollector(mc),
		)
		require.NoError(t, err)

		_, err = clf.Predict(ctx, "Lunch tomorrow")
		require.NoError(t, err)

		_, err = clf.PredictBatch(ctx, []string{"Invoice 4711", "tacos at noon"})
		require.NoError(t, err)

		require.NoError(t, clf.Save(ctx, filepath.Join(t.TempDir(), "model.bin")))

		stats := mc.GetStats()
		assert.Equal(t, int64(1), stats.TrainCount)
		assert.Equal(t, int64(2), stats.TrainExamples)
		assert.Equal(t, int64(2), stats.PredictCount)
		assert.Equal(t, int64(3), stats.PredictItems)
		assert.Equal(t, int64(1), stats.SaveCount)
		assert.Zero(t, stats.TrainErrors)
		assert.Zero(t, stats.PredictErrors)
		assert.Zero(t, stats.SaveErrors)
	})

	t.Run("CountsErrors", func(t *testing.T) {
		mc := NewBasicMetricsCollector()

		_, err := FitClassifier(ctx, testutil.Examples(), testutil.Taxonomy(),
			WithNumFeatures(-1),
			WithMetricsCollector(mc),
		)
		require.ErrorIs(t, err, ErrInvalidFeatureCount)

		_, err = Load(ctx, filepath.Join(t.TempDir(), "missing.bin"),
			WithMetricsCollector(mc),
		)
		require.Error(t, err)

		stats := mc.GetStats()
		assert.Equal(t, int64(1), stats.TrainErrors)
		assert.Equal(t, int64(1), stats.LoadErrors)
	})
}
