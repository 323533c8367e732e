package tablet

import (
	"log/slog"
	"time"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/cache"
	"github.com/hupe1980/tabletdb/internal/diskrowset"
	"github.com/hupe1980/tabletdb/internal/resource"
)

// FlushConfig holds configuration for flushing memrowsets to disk.
type FlushConfig struct {
	// MaxMemRowSetSize is the size of the active memrowset in bytes that triggers
	// a background flush. If 0, defaults to 64MB. Negative disables auto-flush.
	MaxMemRowSetSize int64

	// Interval flushes periodically when positive.
	Interval time.Duration

	// Compression is the block compression of flushed rowsets.
	Compression diskrowset.CompressionType

	// BlockSize is the target block size of flushed rowsets.
	// If 0, defaults to diskrowset.DefaultBlockSize.
	BlockSize int
}

// CompactionConfig holds configuration for compaction outputs.
type CompactionConfig struct {
	// Compression is the block compression of compacted rowsets.
	Compression diskrowset.CompressionType

	// BlockSize is the target block size of compacted rowsets.
	BlockSize int
}

const defaultMaxMemRowSetSize = 64 << 20

// Option defines a configuration option for the Tablet.
type Option func(*Tablet)

// WithLogger sets the logger for the tablet.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tablet) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer for the tablet.
func WithMetricsObserver(observer MetricsObserver) Option {
	return func(t *Tablet) {
		if observer != nil {
			t.metrics = observer
		}
	}
}

// WithResourceController sets the resource controller shared by background
// jobs, the block cache and flush IO.
func WithResourceController(rc *resource.Controller) Option {
	return func(t *Tablet) {
		t.rc = rc
	}
}

// WithBlockCache sets the cache for decoded disk rowset blocks.
func WithBlockCache(c cache.BlockCache) Option {
	return func(t *Tablet) {
		t.blockCache = c
	}
}

// WithBlockCacheSize creates a sharded LRU block cache of the given size in bytes.
// It is charged against the resource controller's memory budget.
func WithBlockCacheSize(size int64) Option {
	return func(t *Tablet) {
		t.blockCacheSize = size
	}
}

// WithFlushConfig sets the flush configuration.
func WithFlushConfig(cfg FlushConfig) Option {
	return func(t *Tablet) {
		t.flushConfig = cfg
	}
}

// WithCompactionConfig sets the compaction configuration.
func WithCompactionConfig(cfg CompactionConfig) Option {
	return func(t *Tablet) {
		t.compactionConfig = cfg
	}
}

// WithManifestStore sets the store used for manifests. Defaults to the data store.
// Use a commit store here to get conditional CURRENT updates on S3.
func WithManifestStore(st blobstore.BlobStore) Option {
	return func(t *Tablet) {
		t.manifestBlobs = st
	}
}
