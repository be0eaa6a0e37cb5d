package taxonomy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taxonomyJSON = `{
  "type": "email_categories",
  "version": "v2",
  "categories": [
    {"id": 0, "name": "reviewed", "labels": ["yes", "no"]},
    {"id": 1, "name": "type", "labels": ["personal", "work", "newsletter", "marketing", "transactional", "social", "spam"]},
    {"id": 2, "name": "senderIdentity", "labels": ["known", "unknown", "service", "company", "automated"]},
    {"id": 3, "name": "context", "labels": ["general", "project", "event", "financial", "health", "education", "travel"]},
    {"id": 4, "name": "handler", "labels": ["read", "respond", "schedule", "file", "delete", "delegate"]}
  ]
}`

func loadCanonical(t *testing.T) *Taxonomy {
	t.Helper()

	tax, err := Load(strings.NewReader(taxonomyJSON))
	require.NoError(t, err)

	return tax
}

func TestLoad(t *testing.T) {
	tax := loadCanonical(t)

	assert.Equal(t, "v2", tax.Version)
	require.Len(t, tax.Categories, 5)
	assert.Equal(t, "senderIdentity", tax.Categories[2].Name)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(strings.NewReader(`{"categories": []}`))
	assert.Error(t, err)

	_, err = Load(strings.NewReader(`{"categories": [{"labels": ["a"]}]}`))
	assert.Error(t, err, "category without a name")

	_, err = Load(strings.NewReader(`not json`))
	assert.Error(t, err)
}

func TestResolveCanonical(t *testing.T) {
	ls, err := Resolve(loadCanonical(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"personal", "work", "newsletter", "marketing", "transactional", "social", "spam"}, ls.Labels(DimensionType))
	assert.Equal(t, []string{"known", "unknown", "service", "company", "automated"}, ls.Labels(DimensionSender))
	assert.Equal(t, []string{"general", "project", "event", "financial", "health", "education", "travel"}, ls.Labels(DimensionContext))
	assert.Equal(t, []string{"read", "respond", "schedule", "file", "delete", "delegate"}, ls.Labels(DimensionHandler))

	assert.Empty(t, ls.Fallbacks())
}

func TestResolveSenderAliases(t *testing.T) {
	tax := &Taxonomy{Categories: []Category{
		{Name: "type", Labels: []string{"a"}},
		{Name: "identityOfSenders", Labels: []string{"known", "unknown"}},
	}}

	ls, err := Resolve(tax)
	require.NoError(t, err)

	// "sender" matches inside "identityOfSenders" before "identity" is consulted.
	assert.Equal(t, []string{"known", "unknown"}, ls.Labels(DimensionSender))
	assert.False(t, ls.Fallback(DimensionSender))
}

func TestResolveSenderFallsThroughEmptyMatch(t *testing.T) {
	tax := &Taxonomy{Categories: []Category{
		{Name: "sender", Labels: nil},
		{Name: "identity", Labels: []string{"known"}},
	}}

	ls, err := Resolve(tax)
	require.NoError(t, err)

	// A matching "sender" category without labels defers to "identity".
	assert.Equal(t, []string{"known"}, ls.Labels(DimensionSender))
	assert.False(t, ls.Fallback(DimensionSender))
}

func TestResolveFallbackToFirstCategory(t *testing.T) {
	tax := &Taxonomy{Categories: []Category{
		{Name: "misc", Labels: []string{"x", "y"}},
		{Name: "handler", Labels: []string{"read"}},
	}}

	ls, err := Resolve(tax)
	require.NoError(t, err)

	// type/sender/context all miss and inherit the first category.
	assert.Equal(t, []string{"x", "y"}, ls.Labels(DimensionType))
	assert.Equal(t, []string{"x", "y"}, ls.Labels(DimensionSender))
	assert.Equal(t, []string{"x", "y"}, ls.Labels(DimensionContext))
	assert.Equal(t, []string{"read"}, ls.Labels(DimensionHandler))

	assert.ElementsMatch(t, []Dimension{DimensionType, DimensionSender, DimensionContext}, ls.Fallbacks())
}

func TestResolveMatchIsCaseInsensitiveSubstring(t *testing.T) {
	tax := &Taxonomy{Categories: []Category{
		{Name: "Message TYPE (v2)", Labels: []string{"work"}},
		{Name: "Handler rules", Labels: []string{"read"}},
	}}

	ls, err := Resolve(tax)
	require.NoError(t, err)

	assert.Equal(t, []string{"work"}, ls.Labels(DimensionType))
	assert.Equal(t, []string{"read"}, ls.Labels(DimensionHandler))
}

func TestResolveDeduplicatesPreservingOrder(t *testing.T) {
	tax := &Taxonomy{Categories: []Category{
		{Name: "type", Labels: []string{"work", "spam", "work", "personal", "spam"}},
	}}

	ls, err := Resolve(tax)
	require.NoError(t, err)

	assert.Equal(t, []string{"work", "spam", "personal"}, ls.Labels(DimensionType))
}

func TestResolveEmpty(t *testing.T) {
	_, err := Resolve(&Taxonomy{})
	assert.ErrorIs(t, err, ErrEmptyTaxonomy)

	_, err = Resolve(nil)
	assert.ErrorIs(t, err, ErrEmptyTaxonomy)
}

func TestIndexAndLabel(t *testing.T) {
	ls, err := Resolve(loadCanonical(t))
	require.NoError(t, err)

	i, ok := ls.Index(DimensionType, "newsletter")
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	// Unknown labels map to class 0 and report the miss.
	i, ok = ls.Index(DimensionType, "carrier-pigeon")
	assert.False(t, ok)
	assert.Equal(t, 0, i)

	assert.Equal(t, "newsletter", ls.Label(DimensionType, 2))
	assert.Equal(t, "", ls.Label(DimensionType, 99))
	assert.Equal(t, "", ls.Label(DimensionType, -1))
}

func TestFromListsRoundTrip(t *testing.T) {
	ls, err := Resolve(loadCanonical(t))
	require.NoError(t, err)

	restored := FromLists(ls.Lists())
	for d := Dimension(0); d < NumDimensions; d++ {
		assert.Equal(t, ls.Labels(d), restored.Labels(d))
	}
}

func TestDimensionString(t *testing.T) {
	assert.Equal(t, "category1_type", DimensionType.String())
	assert.Equal(t, "category2_sender_identity", DimensionSender.String())
	assert.Equal(t, "category3_context", DimensionContext.String())
	assert.Equal(t, "category4_handler", DimensionHandler.String())
}
