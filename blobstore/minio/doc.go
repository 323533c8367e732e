// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO itself and other S3-compatible servers (Ceph, Garage,
// SeaweedFS) without pulling in the AWS SDK.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "tablets", "orders/")
//	db, err := tabletdb.OpenRemote(ctx, store)
//
// Rowset files are uploaded with a streaming PutObject (multipart for large
// rowsets) and read back with ranged GetObject calls, one per data block.
//
// Manifest commits rely on PutObject replacing CURRENT atomically. MinIO gives
// no compare-and-swap, so only one writer may own a tablet at a time.
package minio
