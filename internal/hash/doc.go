// Package hash provides the checksum used by every persisted tabletdb format:
// rowset blocks, rowset indexes and manifests.
//
// CRC32-Castagnoli is hardware accelerated on x86 (SSE4.2) and arm64, and it
// is what RocksDB and LevelDB use for their block trailers.
package hash
