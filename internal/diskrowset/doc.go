// Package diskrowset implements the immutable on-disk rowset.
//
// A disk rowset is written once, in key order, by a flush or a compaction. The
// file holds framed data blocks (optionally LZ4 or ZSTD compressed, CRC32
// checked), an index with the first and last key of every block, and a binary
// fuse filter over all keys that lets point lookups skip the file without
// reading a block.
//
// Deleted rows are tracked by ordinal in a roaring bitmap stored as a separate
// blob next to the data file.
package diskrowset
