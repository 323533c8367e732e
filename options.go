package tabletdb

import (
	"log/slog"
	"time"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/diskrowset"
	"github.com/hupe1980/tabletdb/internal/resource"
)

// Compression selects the block compression of disk rowsets.
type Compression = diskrowset.CompressionType

const (
	CompressionNone = diskrowset.CompressionNone
	CompressionLZ4  = diskrowset.CompressionLZ4
	CompressionZSTD = diskrowset.CompressionZSTD
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	return diskrowset.ParseCompression(s)
}

// ResourceLimits bounds the background work of a database.
type ResourceLimits struct {
	// MemoryLimitBytes caps memory held by the block cache. 0 only tracks usage.
	MemoryLimitBytes int64
	// MaxBackgroundJobs is the number of concurrent flushes and compactions. 0 means 1.
	MaxBackgroundJobs int64
	// IOLimitBytesPerSec throttles rowset writes. 0 is unlimited.
	IOLimitBytesPerSec int64
}

type options struct {
	logger                *Logger
	metrics               MetricsObserver
	flushCompression      Compression
	compactionCompression Compression
	blockSize             int
	flushThreshold        int64
	flushInterval         time.Duration
	blockCacheSize        int64
	limits                *ResourceLimits
	manifestStore         blobstore.BlobStore
}

// Option configures Open and OpenRemote.
type Option func(*options)

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := tabletdb.NewJSONLogger(slog.LevelInfo)
//	db, _ := tabletdb.Open(ctx, "./data", tabletdb.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsObserver configures an observer for operation metrics.
// Pass nil to disable metrics.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsObserver{}
		}
		o.metrics = m
	}
}

// WithCompression sets the block compression of flushed and compacted rowsets.
// Defaults to LZ4 for flushes and ZSTD for compactions.
func WithCompression(flush, compaction Compression) Option {
	return func(o *options) {
		o.flushCompression = flush
		o.compactionCompression = compaction
	}
}

// WithFlushThreshold sets the memrowset size in bytes that triggers a
// background flush, and an optional periodic flush interval.
// A negative size disables size-triggered flushes.
func WithFlushThreshold(size int64, interval time.Duration) Option {
	return func(o *options) {
		o.flushThreshold = size
		o.flushInterval = interval
	}
}

// WithBlockSize sets the target uncompressed size of rowset data blocks.
func WithBlockSize(size int) Option {
	return func(o *options) {
		o.blockSize = size
	}
}

// WithBlockCacheSize enables a cache of decoded blocks of the given size in bytes.
func WithBlockCacheSize(size int64) Option {
	return func(o *options) {
		o.blockCacheSize = size
	}
}

// WithResourceLimits bounds background jobs, cache memory and write IO.
func WithResourceLimits(limits ResourceLimits) Option {
	return func(o *options) {
		o.limits = &limits
	}
}

// WithManifestStore keeps manifests in a separate store, e.g. an s3.CommitStore
// for conditional manifest commits.
func WithManifestStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.manifestStore = store
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:                NoopLogger(),
		metrics:               NoopMetricsObserver{},
		flushCompression:      CompressionLZ4,
		compactionCompression: CompressionZSTD,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func (o *options) resourceController() *resource.Controller {
	if o.limits == nil {
		return nil
	}
	return resource.NewController(resource.Config{
		MemoryLimitBytes:   o.limits.MemoryLimitBytes,
		MaxBackgroundJobs:  o.limits.MaxBackgroundJobs,
		IOLimitBytesPerSec: o.limits.IOLimitBytesPerSec,
	})
}
