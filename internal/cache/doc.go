// Package cache provides an in-memory cache for decoded disk rowset blocks.
//
// Point lookups on a disk rowset decompress one data block. Hot blocks are kept
// in a BlockCache keyed by rowset ID and block ordinal so repeated lookups skip
// the blob read, the CRC check and decompression. Entries are dropped with
// Invalidate(ForRowSet(id)) when a rowset is retired by compaction.
package cache
