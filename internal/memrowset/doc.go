// Package memrowset implements the mutable in-memory rowset of a tablet.
//
// A tablet has exactly one active MemRowSet accepting inserts. When it grows
// past the flush threshold it is frozen, written out as a disk rowset and
// replaced by a fresh one. Because its key range is not fixed, a MemRowSet
// reports rowset.ErrNotSupported from GetBounds and the range index returns it
// for every query.
package memrowset
