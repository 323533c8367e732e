// Package s3 provides Amazon S3 implementations of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("tablets/orders/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	db, err := tabletdb.OpenRemote(ctx, store)
//
// Rowset blobs are streamed through the multipart uploader and read with
// ranged GETs. Listing follows ListObjectsV2 continuation tokens.
//
// When more than one process may open the same tablet, wrap the store in a
// CommitStore so that manifest commits are serialized through DynamoDB.
package s3
