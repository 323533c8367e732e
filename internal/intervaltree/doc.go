// Package intervaltree provides a static interval tree over closed intervals with
// a caller-supplied point ordering.
//
// The tree is built once from the full interval set and answers two queries:
// point containment and interval overlap. Both endpoints are inclusive. Storage
// is etcd's augmented red-black tree (go.etcd.io/etcd/pkg/v3/adt).
package intervaltree
