package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mailclass/taxonomy"
)

func TestGenerator(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		a := NewGenerator(42).Examples(50)
		b := NewGenerator(42).Examples(50)

		assert.Equal(t, a, b)
	})

	t.Run("SeedChangesCorpus", func(t *testing.T) {
		a := NewGenerator(1).Examples(50)
		b := NewGenerator(2).Examples(50)

		assert.NotEqual(t, a, b)
	})

	t.Run("LabelsMatchTaxonomy", func(t *testing.T) {
		spaces, err := taxonomy.Resolve(Taxonomy())
		require.NoError(t, err)

		for _, e := range NewGenerator(7).Examples(50) {
			assert.Contains(t, spaces.Labels(taxonomy.DimensionType), e.Type)
			assert.Contains(t, spaces.Labels(taxonomy.DimensionSender), e.SenderIdentity)
			assert.Contains(t, spaces.Labels(taxonomy.DimensionContext), e.Context)
			assert.Contains(t, spaces.Labels(taxonomy.DimensionHandler), e.Handler)

			assert.NotEmpty(t, e.Subject)
			assert.NotEmpty(t, e.Body)
		}
	})
}
