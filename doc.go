// Package mailclass provides a deterministic email classifier for Go.
//
// Mailclass assigns every email four categorical labels (message type,
// sender identity, topical context, and handling action) using MD5
// feature hashing and a multi-head linear model trained with Adagrad.
// The same text always hashes to the same feature buckets, across
// processes and across training and inference.
//
// # Quick Start
//
// Training:
//
//	ctx := context.Background()
//	ds, _ := dataset.ReadDir(ctx, "./data")
//	tax, _ := taxonomy.LoadFile("./taxonomy.json")
//
//	clf, err := mailclass.FitClassifier(ctx, ds.Examples, tax)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Inference:
//
//	p, _ := clf.Predict(ctx, "Your invoice #4711 is attached")
//	fmt.Println(p.Type, p.Handler)
//
// Every prediction carries five fields: a constant "reviewed" marker
// plus the four predicted labels. The JSON encoding of a Prediction is
// the wire contract consumed by downstream automation.
//
// # Persistence
//
// A trained classifier round-trips losslessly through a single binary
// artifact holding the vectorizer statistics, the label spaces, and
// the model weights:
//
//	_ = clf.Save(ctx, "model.bin")
//	clf, _ = mailclass.Load(ctx, "model.bin")
//
// Artifacts can also live in a blob store (local directory, S3, MinIO)
// or behind a versioned model registry:
//
//	store := blobstore.NewLocalStore("./models")
//	_ = clf.SaveBlob(ctx, store, "model.bin")
//
//	reg := registry.New(store)
//	a, _ := clf.Artifact()
//	manifest, _ := reg.Publish(ctx, a)
//
// Loading reconstructs the classifier heads from the persisted label
// spaces. An artifact whose weights disagree with its own label spaces
// fails with a structural error instead of mispredicting.
//
// # Concurrency
//
// A fitted Classifier is immutable and safe for concurrent readers.
// Retraining builds a new classifier; servers swap it behind an
// atomic.Pointer so in-flight predictions keep their snapshot.
//
// # Key Features
//
//   - Deterministic MD5 feature hashing (stable across restarts)
//   - Four classification heads over one shared feature vector
//   - Smoothed IDF weighting with graceful degradation before fit
//   - Single-file binary artifacts with checksums and compression
//   - Blob store persistence (local/S3/MinIO) and a versioned registry
//   - Structured logging and pluggable metrics
package mailclass
