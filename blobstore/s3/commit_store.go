package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/tabletdb/blobstore"
)

// CurrentName is the blob holding the name of the live manifest.
const CurrentName = "CURRENT"

// ErrConcurrentModification is returned when another writer committed first.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// DDBClient is the subset of *dynamodb.Client used by CommitStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// CommitStore stores blobs in S3 and the CURRENT pointer in DynamoDB.
//
// S3 has no compare-and-swap, so two tablet owners could overwrite each
// other's CURRENT. CommitStore appends one item per commit keyed by
// (base_uri, version) with a conditional put; the loser of a race gets
// ErrConcurrentModification instead of silently losing the winner's manifest.
//
// Table schema:
//
//	aws dynamodb create-table \
//	  --table-name tabletdb-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	*Store
	ddb       DDBClient
	tableName string
	baseURI   string
}

// NewCommitStore wraps store. baseURI partitions the table; it defaults to store.URI().
func NewCommitStore(store *Store, ddb DDBClient, tableName, baseURI string) *CommitStore {
	if baseURI == "" {
		baseURI = store.URI()
	}
	return &CommitStore{
		Store:     store,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open serves CURRENT from the latest commit record and everything else from S3.
func (s *CommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != CurrentName {
		return s.Store.Open(ctx, name)
	}
	c, ok, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, blobstore.ErrNotFound)
	}
	return &currentBlob{content: []byte(c.manifest)}, nil
}

// Put commits CURRENT through DynamoDB and writes everything else to S3.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != CurrentName {
		return s.Store.Put(ctx, name, data)
	}
	return s.commit(ctx, string(data))
}

// Prune deletes all but the newest keep commit records.
func (s *CommitStore) Prune(ctx context.Context, keep int) (int, error) {
	records, err := s.query(ctx, true, 0)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i := 0; i < len(records)-keep; i++ {
		_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
				"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(records[i].version, 10)},
			},
		})
		if err != nil {
			return deleted, fmt.Errorf("s3: delete commit %d: %w", records[i].version, err)
		}
		deleted++
	}
	return deleted, nil
}

type commitRecord struct {
	version  uint64
	manifest string
}

func (s *CommitStore) latest(ctx context.Context) (commitRecord, bool, error) {
	records, err := s.query(ctx, false, 1)
	if err != nil || len(records) == 0 {
		return commitRecord{}, false, err
	}
	return records[0], true, nil
}

func (s *CommitStore) query(ctx context.Context, ascending bool, limit int32) ([]commitRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(ascending),
	}
	if limit > 0 {
		in.Limit = aws.Int32(limit)
	}

	var records []commitRecord
	for {
		resp, err := s.ddb.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("s3: query commits: %w", err)
		}
		for _, item := range resp.Items {
			rec, err := decodeCommit(item)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		if limit > 0 || len(resp.LastEvaluatedKey) == 0 {
			return records, nil
		}
		in.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}

func decodeCommit(item map[string]types.AttributeValue) (commitRecord, error) {
	v, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return commitRecord{}, errors.New("s3: commit record without version")
	}
	m, ok := item["manifest_path"].(*types.AttributeValueMemberS)
	if !ok {
		return commitRecord{}, errors.New("s3: commit record without manifest_path")
	}
	version, err := strconv.ParseUint(v.Value, 10, 64)
	if err != nil {
		return commitRecord{}, fmt.Errorf("s3: parse commit version: %w", err)
	}
	return commitRecord{version: version, manifest: m.Value}, nil
}

func (s *CommitStore) commit(ctx context.Context, manifest string) error {
	cur, _, err := s.latest(ctx)
	if err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: s.baseURI},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatUint(cur.version+1, 10)},
			"manifest_path": &types.AttributeValueMemberS{Value: manifest},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("s3: commit version %d: %w", cur.version+1, err)
	}
	return nil
}

type currentBlob struct {
	content []byte
}

func (b *currentBlob) Close() error {
	return nil
}

func (b *currentBlob) Size() int64 {
	return int64(len(b.content))
}

func (b *currentBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *currentBlob) Bytes() ([]byte, error) {
	return b.content, nil
}

var _ blobstore.BlobStore = (*CommitStore)(nil)
