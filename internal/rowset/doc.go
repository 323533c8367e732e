// Package rowset defines the contract shared by all rowset implementations.
//
// A rowset is a key-sorted chunk of a tablet. Two kinds exist:
//
//   - memrowset: the mutable in-memory rowset receiving inserts. Its key range
//     keeps changing, so GetBounds reports ErrNotSupported.
//   - diskrowset: an immutable flushed or compacted rowset with fixed bounds.
package rowset
