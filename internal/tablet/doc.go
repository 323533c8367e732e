// Package tablet stores one key-sorted partition of a table as a set of rowsets
// and routes every read and write through a range index over their key bounds.
//
// # Rowsets
//
// Inserts go to the active memrowset. Flush freezes it, writes it as an
// immutable disk rowset and swaps the two. Compact merges disk rowsets chosen
// by the caller into one. Memrowsets have no fixed key bounds and are visited
// by every query; disk rowsets are visited only when their [min, max] range
// matches.
//
// # Views
//
// The rowset set and its range index are published together as an immutable,
// reference counted view. Get and Scan pin the current view without locking.
// Changing the rowset set builds a new index and publishes a new view; if the
// build fails the previous view stays in place. A disk rowset retired by a
// compaction is closed, and its files removed, after the last view referencing
// it is released.
//
// # Durability
//
// Only flushed data is durable. The manifest lists the disk rowsets and is
// saved after each flush and compaction. Deletes against disk rowsets are kept
// in delete bitmaps, saved after flushes and on Close.
package tablet
