package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/tabletdb"
	"github.com/hupe1980/tabletdb/blobstore"
	miniostore "github.com/hupe1980/tabletdb/blobstore/minio"
	"github.com/hupe1980/tabletdb/blobstore/s3"
)

// openDB opens the database described by cfg.
func openDB(ctx context.Context, cfg *Config, extra ...tabletdb.Option) (*tabletdb.DB, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	if cfg.Backend == backendLocal {
		return tabletdb.Open(ctx, cfg.Dir, opts...)
	}

	store, manifests, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if manifests != nil {
		opts = append(opts, tabletdb.WithManifestStore(manifests))
	}
	return tabletdb.OpenRemote(ctx, store, opts...)
}

// openStore returns the data store and, for S3 with a DynamoDB table, a
// separate commit store for manifests.
func openStore(ctx context.Context, cfg *Config) (blobstore.BlobStore, blobstore.BlobStore, error) {
	sc := cfg.Storage

	switch cfg.Backend {
	case backendMinIO:
		client, err := minio.New(sc.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(sc.AccessKey, sc.SecretKey, ""),
			Secure: sc.Secure,
			Region: sc.Region,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create minio client: %w", err)
		}
		return miniostore.NewStore(client, sc.Bucket, sc.Prefix), nil, nil

	case backendS3:
		var s3Opts []s3.Option
		if sc.Prefix != "" {
			s3Opts = append(s3Opts, s3.WithPrefix(sc.Prefix))
		}
		if sc.Region != "" {
			s3Opts = append(s3Opts, s3.WithRegion(sc.Region))
		}
		if sc.Endpoint != "" {
			s3Opts = append(s3Opts, s3.WithEndpoint(sc.Endpoint))
		}
		store, err := s3.New(ctx, sc.Bucket, s3Opts...)
		if err != nil {
			return nil, nil, err
		}
		if sc.DDBTable == "" {
			return store, nil, nil
		}

		var loadOpts []func(*config.LoadOptions) error
		if sc.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(sc.Region))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		commits := s3.NewCommitStore(store, dynamodb.NewFromConfig(awsCfg), sc.DDBTable, "")
		return store, commits, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidBackend, cfg.Backend)
	}
}
