package cache

import (
	"context"

	"github.com/hupe1980/tabletdb/internal/rowset"
)

// Key identifies one decoded data block of a disk rowset.
type Key struct {
	RowSet rowset.ID
	Block  uint32
}

// BlockCache holds decoded, immutable rowset blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches a block. The cache retains b; callers must not modify it afterwards.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Stats returns cache statistics.
	Stats() Stats
}

// Stats is a point-in-time summary of a BlockCache.
type Stats struct {
	Hits   int64
	Misses int64
	Bytes  int64
}

// ForRowSet returns a predicate matching every block of id.
func ForRowSet(id rowset.ID) func(Key) bool {
	return func(k Key) bool { return k.RowSet == id }
}
