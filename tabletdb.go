package tabletdb

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/rowset"
	"github.com/hupe1980/tabletdb/internal/tablet"
)

// RowSetID identifies a rowset within a database.
type RowSetID = rowset.ID

// Row is a key/value pair returned by Scan.
type Row = rowset.Row

// Stats is a point-in-time summary of a database, including the overlap
// depth of its disk rowsets.
type Stats = tablet.Stats

// RowSetInfo describes one rowset.
type RowSetInfo = tablet.RowSetInfo

// RowSetKind tells active, frozen and disk rowsets apart.
type RowSetKind = tablet.RowSetKind

const (
	KindActive = tablet.KindActive
	KindFrozen = tablet.KindFrozen
	KindDisk   = tablet.KindDisk
)

// Endpoint is a START or STOP event of a bounded rowset.
type Endpoint = tablet.Endpoint

// DB is an embedded sorted key/value store backed by a single tablet.
//
// All methods are safe for concurrent use.
type DB struct {
	t      *tablet.Tablet
	logger *Logger
}

// Open opens or creates a database in dir on the local filesystem.
func Open(ctx context.Context, dir string, optFns ...Option) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tabletdb: create directory: %w", err)
	}
	return OpenRemote(ctx, blobstore.NewLocalStore(dir), optFns...)
}

// OpenRemote opens or creates a database in store.
func OpenRemote(ctx context.Context, store blobstore.BlobStore, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	rc := o.resourceController()

	t, err := tablet.Open(ctx, store,
		tablet.WithLogger(o.logger.Logger),
		tablet.WithMetricsObserver(o.metrics),
		tablet.WithResourceController(rc),
		tablet.WithBlockCacheSize(o.blockCacheSize),
		tablet.WithManifestStore(o.manifestStore),
		tablet.WithFlushConfig(tablet.FlushConfig{
			MaxMemRowSetSize: o.flushThreshold,
			Interval:         o.flushInterval,
			Compression:      o.flushCompression,
			BlockSize:        o.blockSize,
		}),
		tablet.WithCompactionConfig(tablet.CompactionConfig{
			Compression: o.compactionCompression,
			BlockSize:   o.blockSize,
		}),
	)
	if err != nil {
		return nil, translateError(err)
	}

	return &DB{
		t:      t,
		logger: o.logger.WithTablet(t.TabletID()),
	}, nil
}

// ID returns the persistent tablet identity.
func (db *DB) ID() string {
	return db.t.TabletID()
}

// Insert adds a new row. It returns *ErrKeyExists if key is already present.
func (db *DB) Insert(ctx context.Context, key, value []byte) error {
	err := translateInsertError(key, db.t.Insert(ctx, key, value))
	db.logger.LogInsert(ctx, key, err)
	return err
}

// Get returns the value of key, or ErrNotFound.
func (db *DB) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := db.t.Get(ctx, key)
	err = translateError(err)
	if errors.Is(err, ErrNotFound) {
		db.logger.LogGet(ctx, key, false, nil)
		return nil, err
	}
	db.logger.LogGet(ctx, key, err == nil, err)
	return v, err
}

// Scan returns up to limit rows with lower <= key <= upper in ascending key
// order. A nil bound is open and limit <= 0 means no limit.
func (db *DB) Scan(ctx context.Context, lower, upper []byte, limit int) ([]Row, error) {
	rows, err := db.t.Scan(ctx, lower, upper, limit)
	err = translateError(err)
	db.logger.LogScan(ctx, lower, upper, len(rows), err)
	return rows, err
}

// Delete removes key, or returns ErrNotFound.
func (db *DB) Delete(ctx context.Context, key []byte) error {
	err := translateError(db.t.Delete(ctx, key))
	db.logger.LogDelete(ctx, key, err)
	return err
}

// Flush writes all in-memory rows to disk rowsets and persists pending deletes.
func (db *DB) Flush(ctx context.Context) error {
	err := translateError(db.t.Flush(ctx))
	var n int
	if err == nil {
		if st, serr := db.t.Stats(); serr == nil {
			n = st.DiskRowSets
		}
	}
	db.logger.LogFlush(ctx, n, err)
	return err
}

// Compact merges the given disk rowsets into one.
func (db *DB) Compact(ctx context.Context, ids ...RowSetID) error {
	err := translateError(db.t.Compact(ctx, ids))
	db.logger.LogCompaction(ctx, ids, err)
	return err
}

// CompactAll merges every disk rowset into one. It is a no-op with fewer than
// two disk rowsets.
func (db *DB) CompactAll(ctx context.Context) error {
	infos, err := db.RowSets()
	if err != nil {
		return err
	}
	var ids []RowSetID
	for _, info := range infos {
		if info.Kind == KindDisk {
			ids = append(ids, info.ID)
		}
	}
	if len(ids) < 2 {
		return nil
	}
	return db.Compact(ctx, ids...)
}

// Stats returns the current database statistics.
func (db *DB) Stats() (Stats, error) {
	st, err := db.t.Stats()
	return st, translateError(err)
}

// RowSets lists the active, frozen and disk rowsets.
func (db *DB) RowSets() ([]RowSetInfo, error) {
	infos, err := db.t.RowSets()
	return infos, translateError(err)
}

// KeyEndpoints returns the key-ordered START/STOP events of all disk rowsets.
func (db *DB) KeyEndpoints() ([]Endpoint, error) {
	eps, err := db.t.KeyEndpoints()
	return eps, translateError(err)
}

// Close flushes in-memory rows and releases all resources.
// Calling Close twice returns ErrClosed.
func (db *DB) Close(ctx context.Context) error {
	return translateError(db.t.Close(ctx))
}
