package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/mailclass/blobstore"
	"github.com/hupe1980/mailclass/codec"
	"github.com/hupe1980/mailclass/internal/hash"
	"github.com/hupe1980/mailclass/persistence"
)

const (
	// ManifestFileName is the prefix of version manifest blobs.
	ManifestFileName = "MANIFEST"
	// ArtifactFileName is the prefix of model artifact blobs.
	ArtifactFileName = "model"
	// CurrentFileName is the pointer blob naming the live manifest.
	CurrentFileName = "CURRENT"
	// CurrentVersion is the manifest format version this package writes.
	CurrentVersion = 1
)

// Manifest describes one published model version.
type Manifest struct {
	Version   int       `json:"version"`    // manifest format version
	ID        uint64    `json:"id"`         // publish sequence number, starts at 1
	Artifact  string    `json:"artifact"`   // blob name of the model artifact
	NFeatures int       `json:"n_features"` // hashing width of the stored vectorizer
	Checksum  uint32    `json:"checksum"`   // CRC32C over the artifact blob
	Codec     string    `json:"codec"`      // codec that wrote this manifest
	CreatedAt time.Time `json:"created_at"`
}

// Options configures a Registry.
type Options struct {
	// Codec encodes and decodes version manifests.
	Codec codec.Codec

	// Compression applied to artifact bodies on Publish.
	Compression persistence.CompressionType

	// Logger receives debug events (skipped manifests, pruned
	// versions). Nil disables logging.
	Logger *slog.Logger
}

// DefaultOptions contains the default configuration options.
var DefaultOptions = Options{
	Codec:       codec.Default,
	Compression: persistence.CompressionLZ4,
}

// conditionalPutter is satisfied by stores with create-if-absent
// semantics (blobstore/s3). Stores without it fall back to plain Put.
type conditionalPutter interface {
	PutIfNotExists(ctx context.Context, name string, data []byte) error
}

// Registry manages published model versions in a blob store. Artifacts
// and manifests are immutable once written; only the CURRENT pointer
// moves. Methods are safe for concurrent use within a process. Across
// processes the pointer update is last-writer-wins unless the store
// serializes it (see blobstore/s3.DDBCommitStore).
type Registry struct {
	store blobstore.BlobStore
	opts  Options
	mu    sync.Mutex
}

// New creates a registry over the given blob store.
func New(store blobstore.BlobStore, optFns ...func(o *Options)) *Registry {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	return &Registry{store: store, opts: opts}
}

// Publish encodes the artifact, stores it as the next version together
// with its manifest, and flips CURRENT to the new manifest. The pointer
// update happens last: a failure partway through leaves unreferenced
// blobs behind but never a dangling CURRENT.
func (r *Registry) Publish(ctx context.Context, a *persistence.Artifact) (*Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := uint64(1)

	cur, err := r.currentManifest(ctx)
	switch {
	case err == nil:
		next = cur.ID + 1
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	var buf bytes.Buffer
	if err := persistence.WriteArtifact(&buf, a, r.opts.Compression); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}

	data := buf.Bytes()

	m := &Manifest{
		Version:   CurrentVersion,
		ID:        next,
		Artifact:  artifactName(next),
		NFeatures: a.Vectorizer.NFeatures,
		Checksum:  hash.CRC32C(data),
		Codec:     r.opts.Codec.Name(),
		CreatedAt: time.Now().UTC(),
	}

	if err := r.putImmutable(ctx, m.Artifact, data); err != nil {
		return nil, fmt.Errorf("stage artifact %s: %w", m.Artifact, err)
	}

	doc, err := r.opts.Codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	name := manifestName(next)
	if err := r.putImmutable(ctx, name, doc); err != nil {
		return nil, fmt.Errorf("stage manifest %s: %w", name, err)
	}

	if err := r.store.Put(ctx, CurrentFileName, []byte(name)); err != nil {
		return nil, fmt.Errorf("update %s: %w", CurrentFileName, err)
	}

	if r.opts.Logger != nil {
		r.opts.Logger.InfoContext(ctx, "published model version",
			"id", m.ID,
			"artifact", m.Artifact,
			"nFeatures", m.NFeatures,
		)
	}

	return m, nil
}

// Current resolves the CURRENT pointer and loads the version it
// references. The artifact checksum is verified against the manifest
// record before decoding.
func (r *Registry) Current(ctx context.Context) (*persistence.Artifact, *Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.currentManifest(ctx)
	if err != nil {
		return nil, nil, err
	}

	a, err := r.loadArtifact(ctx, m)
	if err != nil {
		return nil, nil, err
	}

	return a, m, nil
}

// CurrentManifest resolves the CURRENT pointer without fetching the
// artifact.
func (r *Registry) CurrentManifest(ctx context.Context) (*Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.currentManifest(ctx)
}

// LoadVersion loads a specific published version.
func (r *Registry) LoadVersion(ctx context.Context, id uint64) (*persistence.Artifact, *Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.manifestByName(ctx, manifestName(id))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: version %d", ErrNotFound, id)
		}

		return nil, nil, err
	}

	a, err := r.loadArtifact(ctx, m)
	if err != nil {
		return nil, nil, err
	}

	return a, m, nil
}

// ListVersions returns the manifests of all published versions in
// ascending ID order. Unreadable or foreign blobs under the manifest
// prefix are skipped so one corrupt file cannot hide the rest.
func (r *Registry) ListVersions(ctx context.Context) ([]*Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.listVersions(ctx)
}

// GC prunes old versions, keeping the newest keep versions plus
// whatever CURRENT references. Artifacts are deleted before their
// manifests so an interrupted run is finished by the next one. Returns
// the number of versions removed.
func (r *Registry) GC(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	manifests, err := r.listVersions(ctx)
	if err != nil {
		return 0, err
	}

	if len(manifests) <= keep {
		return 0, nil
	}

	var currentID uint64

	cur, err := r.currentManifest(ctx)
	switch {
	case err == nil:
		currentID = cur.ID
	case errors.Is(err, ErrNotFound):
	default:
		return 0, err
	}

	removed := 0

	for _, m := range manifests[:len(manifests)-keep] {
		if m.ID == currentID {
			continue
		}

		if err := r.store.Delete(ctx, m.Artifact); err != nil {
			return removed, fmt.Errorf("delete artifact %s: %w", m.Artifact, err)
		}

		if err := r.store.Delete(ctx, manifestName(m.ID)); err != nil {
			return removed, fmt.Errorf("delete manifest %06d: %w", m.ID, err)
		}

		if r.opts.Logger != nil {
			r.opts.Logger.DebugContext(ctx, "pruned model version", "id", m.ID)
		}

		removed++
	}

	return removed, nil
}

// putImmutable writes a version blob, preferring create-if-absent when
// the store supports it so racing publishers cannot overwrite each
// other's staged blobs.
func (r *Registry) putImmutable(ctx context.Context, name string, data []byte) error {
	if cp, ok := r.store.(conditionalPutter); ok {
		return cp.PutIfNotExists(ctx, name, data)
	}

	return r.store.Put(ctx, name, data)
}

func (r *Registry) currentManifest(ctx context.Context) (*Manifest, error) {
	b, err := r.store.Open(ctx, CurrentFileName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}
	defer func() { _ = b.Close() }()

	content, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", CurrentFileName, err)
	}

	return r.manifestByName(ctx, strings.TrimSpace(string(content)))
}

func (r *Registry) manifestByName(ctx context.Context, name string) (*Manifest, error) {
	b, err := r.store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", name, err)
	}
	defer func() { _ = b.Close() }()

	doc, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", name, err)
	}

	m := &Manifest{}
	if err := r.opts.Codec.Unmarshal(doc, m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}

	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d (expected %d)", ErrIncompatibleVersion, m.Version, CurrentVersion)
	}

	return m, nil
}

func (r *Registry) loadArtifact(ctx context.Context, m *Manifest) (*persistence.Artifact, error) {
	b, err := r.store.Open(ctx, m.Artifact)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", m.Artifact, err)
	}
	defer func() { _ = b.Close() }()

	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", m.Artifact, err)
	}

	if sum := hash.CRC32C(data); sum != m.Checksum {
		return nil, fmt.Errorf("%w: artifact %s has 0x%08x, manifest records 0x%08x", ErrChecksumMismatch, m.Artifact, sum, m.Checksum)
	}

	a, err := persistence.ReadArtifact(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", m.Artifact, err)
	}

	return a, nil
}

func (r *Registry) listVersions(ctx context.Context) ([]*Manifest, error) {
	names, err := r.store.List(ctx, ManifestFileName)
	if err != nil {
		return nil, err
	}

	manifests := make([]*Manifest, 0, len(names))

	for _, name := range names {
		if path.Ext(name) != ".json" {
			continue
		}

		m, err := r.manifestByName(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if r.opts.Logger != nil {
				r.opts.Logger.DebugContext(ctx, "skipping unreadable manifest",
					"name", name,
					"error", err,
				)
			}

			continue
		}

		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ID < manifests[j].ID })

	return manifests, nil
}

func manifestName(id uint64) string {
	return fmt.Sprintf("%s-%06d.json", ManifestFileName, id)
}

func artifactName(id uint64) string {
	return fmt.Sprintf("%s-%06d.bin", ArtifactFileName, id)
}
