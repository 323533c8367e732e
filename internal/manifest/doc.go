// Package manifest implements atomic manifest persistence for a tablet.
//
// # Overview
//
// The manifest is a snapshot of the tablet's durable state: its identity, the
// next rowset id to allocate, and every disk rowset with its key bounds. The
// bounds let a tablet rebuild its range index on open without reading rowset
// files first.
//
// # Binary Format
//
// Manifests are stored in a compact binary format with integrity checking:
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x54424d46 ("TBMF")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32-IEEE of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  ID           (8 bytes)  - Manifest version ID
//	  TabletID     (16 bytes) - Tablet UUID
//	  CreatedAt    (8 bytes)  - Unix nanoseconds
//	  NextRowSetID (8 bytes)  - Next rowset ID to allocate
//	  NumRowSets   (4 bytes)  - Number of rowsets
//	  RowSets[]               - Rowset metadata
//
// Strings are length-prefixed (2-byte length + bytes), keys carry a 4-byte length.
//
// # Atomic Protocol
//
// Save follows a two-phase commit protocol for atomic updates:
//
//  1. Write manifest blob to MANIFEST-NNNNNN.bin (where N is the version ID)
//  2. Atomically update CURRENT pointer file to reference the new manifest
//
// Load reads CURRENT to find the active manifest filename, then loads that file.
//
// # Thread Safety
//
// All Store methods are protected by a mutex and safe for concurrent use.
package manifest
