package cache

import (
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/hupe1980/tabletdb/internal/resource"
)

const numShards = 16

// ShardedLRUBlockCache spreads entries over independent LRU shards to reduce
// lock contention between concurrent readers.
type ShardedLRUBlockCache struct {
	shards [numShards]*LRUBlockCache
}

// NewShardedLRUBlockCache creates a sharded cache. The capacity is divided
// evenly across all shards.
func NewShardedLRUBlockCache(capacity int64, rc *resource.Controller) *ShardedLRUBlockCache {
	shardCapacity := max(capacity/numShards, 1)

	s := &ShardedLRUBlockCache{}
	for i := range numShards {
		s.shards[i] = NewLRUBlockCache(shardCapacity, rc)
	}
	return s
}

func (s *ShardedLRUBlockCache) shard(key Key) *LRUBlockCache {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(key.RowSet))
	binary.LittleEndian.PutUint32(buf[8:12], key.Block)
	return s.shards[xxhash.Sum64(buf[:])%numShards]
}

// Get returns a cached block.
func (s *ShardedLRUBlockCache) Get(ctx context.Context, key Key) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

// Set caches a block.
func (s *ShardedLRUBlockCache) Set(ctx context.Context, key Key, b []byte) {
	s.shard(key).Set(ctx, key, b)
}

// Invalidate removes entries matching the predicate from every shard.
func (s *ShardedLRUBlockCache) Invalidate(predicate func(key Key) bool) {
	for _, shard := range s.shards {
		shard.Invalidate(predicate)
	}
}

// Stats returns statistics aggregated over all shards.
func (s *ShardedLRUBlockCache) Stats() Stats {
	var total Stats
	for _, shard := range s.shards {
		st := shard.Stats()
		total.Hits += st.Hits
		total.Misses += st.Misses
		total.Bytes += st.Bytes
	}
	return total
}
