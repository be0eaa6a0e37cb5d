// Package registry versions trained model artifacts in a blob store.
//
// Each publish writes two immutable blobs, model-NNNNNN.bin (the
// encoded artifact) and MANIFEST-NNNNNN.json (its metadata), then
// flips the CURRENT pointer to the new manifest name. Readers resolve
// CURRENT before touching any version blob, so a half-finished publish
// is invisible to them:
//
//	reg := registry.New(blobstore.NewLocalStore("/var/lib/mailclass/models"))
//
//	manifest, err := reg.Publish(ctx, artifact)
//	...
//	artifact, manifest, err := reg.Current(ctx)
//
// Manifests record a CRC32C checksum of the artifact blob; Current and
// LoadVersion verify it before decoding.
//
// On plain S3 the CURRENT overwrite is last-writer-wins. Deployments
// with concurrent publishers should wrap their store in a
// blobstore/s3.DDBCommitStore, which serializes pointer updates through
// DynamoDB conditional writes and fails lost races with
// ErrConcurrentModification instead of silently dropping a publish.
package registry
