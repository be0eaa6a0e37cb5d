package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mailclass/internal/resource"
	"github.com/hupe1980/mailclass/taxonomy"
)

const sampleNDJSON = `{"messageId": "m-1", "features": {"subject": "Team standup", "body": "Notes attached"}, "classification": {"category1_type": "work", "category2_sender_identity": "known", "category3_context": "project", "category4_handler": "read"}}
{"messageId": "m-2", "features": {"subject": "50% off everything"}, "classification": {"category1_type": "marketing"}}

not a json line
{"messageId": "m-3", "features": {"body": "unlabeled"}}
`

func TestRead(t *testing.T) {
	ds, err := Read(strings.NewReader(sampleNDJSON))
	require.NoError(t, err)

	require.Len(t, ds.Examples, 3)
	assert.Equal(t, 1, ds.Skipped)

	first := ds.Examples[0]
	assert.Equal(t, "m-1", first.MessageID)
	assert.Equal(t, "Team standup", first.Subject)
	assert.Equal(t, "Notes attached", first.Body)
	assert.Equal(t, "work", first.Type)
	assert.Equal(t, "known", first.SenderIdentity)
	assert.Equal(t, "project", first.Context)
	assert.Equal(t, "read", first.Handler)

	// Absent fields stay empty, the record is still kept.
	second := ds.Examples[1]
	assert.Equal(t, "marketing", second.Type)
	assert.Equal(t, "", second.Body)
	assert.Equal(t, "", second.Handler)

	third := ds.Examples[2]
	assert.Equal(t, "", third.Type)
	assert.Equal(t, "unlabeled", third.Body)
}

func TestExampleText(t *testing.T) {
	e := Example{Subject: "Invoice 42", Body: "due friday"}
	assert.Equal(t, "Invoice 42 due friday", e.Text())

	// The separator stays even when either side is empty.
	assert.Equal(t, " body", Example{Body: "body"}.Text())
	assert.Equal(t, "subject ", Example{Subject: "subject"}.Text())
}

func TestExampleLabel(t *testing.T) {
	e := Example{Type: "work", SenderIdentity: "known", Context: "project", Handler: "read"}

	assert.Equal(t, "work", e.Label(taxonomy.DimensionType))
	assert.Equal(t, "known", e.Label(taxonomy.DimensionSender))
	assert.Equal(t, "project", e.Label(taxonomy.DimensionContext))
	assert.Equal(t, "read", e.Label(taxonomy.DimensionHandler))
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(sampleNDJSON), 0o600))

	ds, err := ReadFile(context.Background(), path)
	require.NoError(t, err)

	assert.Len(t, ds.Examples, 3)
	assert.Equal(t, 1, ds.Skipped)
	assert.Equal(t, 1, ds.Files)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.ndjson"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ndjson"), []byte(`{"messageId": "from-b"}`+"\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ndjson"), []byte(`{"messageId": "from-a"}`+"\n"+"broken\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.json"), []byte(`{"messageId": "wrong-extension"}`+"\n"), 0o600))

	ds, err := ReadDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, ds.Files)
	assert.Equal(t, 1, ds.Skipped)

	// Files are read in lexical order.
	require.Len(t, ds.Examples, 2)
	assert.Equal(t, "from-a", ds.Examples[0].MessageID)
	assert.Equal(t, "from-b", ds.Examples[1].MessageID)
}

func TestReadDirEmpty(t *testing.T) {
	ds, err := ReadDir(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, ds.Examples)
	assert.Zero(t, ds.Files)
}

func TestReadDirThrottled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ndjson"), []byte(sampleNDJSON), 0o600))

	limiter := resource.NewLimiter(resource.Config{IOLimitBytesPerSec: 1 << 30})

	ds, err := ReadDir(context.Background(), dir, func(o *Options) {
		o.Limiter = limiter
	})
	require.NoError(t, err)

	assert.Len(t, ds.Examples, 3)
}

func TestReadDirContextCancellation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ndjson"), []byte(sampleNDJSON), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadDir(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
