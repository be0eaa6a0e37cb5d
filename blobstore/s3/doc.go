// Package s3 provides an S3 implementation of the blobstore.BlobStore
// interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("models/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Streaming multipart uploads for large artifacts
//   - CRC32C checksums validated server side
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//
// DDBCommitStore layers a DynamoDB commit log on top of the store so
// concurrent publishers can update the CURRENT pointer with
// compare-and-swap semantics that plain S3 writes lack.
package s3
