// Package blobstore abstracts where a tablet keeps its files.
//
// A tablet writes three kinds of blobs: immutable disk rowsets, their delete
// bitmaps and manifest versions. BlobStore is the interface for reading and
// writing them; implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local directory, mmap reads, temp file + rename writes
//   - MemoryStore: in-process map, for tests
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with ranged reads and multipart uploads
//   - s3.CommitStore: s3.Store plus DynamoDB for atomic manifest commits
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)           // Open for reading
//	    Create(ctx, name) (WritableBlob, error) // Streaming write, visible on Close
//	    Put(ctx, name, data) error              // Atomic write
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
