// Package rowsettree answers "which rowsets could contain key K" and "which
// rowsets overlap [lo, hi]" for a tablet.
//
// A Tree is a write-once snapshot over the tablet's rowsets. Rowsets with fixed
// bounds are indexed in an interval tree keyed by byte-lexicographic order.
// Rowsets without fixed bounds (the active memrowset) are returned by every query.
//
// The tree also retains the sorted sequence of range endpoints so that callers
// can reason about overlap depth across the key space.
package rowsettree
