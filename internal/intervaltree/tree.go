package intervaltree

import (
	"fmt"

	"go.etcd.io/etcd/pkg/v3/adt"
)

// Interval is a closed interval [Low, High] carrying a payload.
type Interval[P, V any] struct {
	Low, High P
	Value     V
}

// Tree is an interval tree over closed intervals, stored in an augmented
// red-black tree from etcd's adt package.
//
// adt works on half-open intervals. Every closed interval [Low, High] is stored
// as [Low, High+) where High+ sorts directly behind High and before any larger
// point, so no successor key has to be computed for P.
//
// A Tree is immutable after New and safe for concurrent use.
type Tree[P, V any] struct {
	compare func(a, b P) int
	tree    adt.IntervalTree
}

// bound is a point of the half-open space adt orders.
type bound[P any] struct {
	point   P
	after   bool // sorts immediately behind point
	compare func(a, b P) int
}

func (b *bound[P]) Compare(c adt.Comparable) int {
	o := c.(*bound[P])
	if r := b.compare(b.point, o.point); r != 0 {
		return r
	}
	switch {
	case b.after == o.after:
		return 0
	case b.after:
		return 1
	default:
		return -1
	}
}

// New builds a tree over intervals using compare as the total order over points.
// The input slice is not retained. New panics if an interval has Low > High.
func New[P, V any](compare func(a, b P) int, intervals []Interval[P, V]) *Tree[P, V] {
	t := &Tree[P, V]{
		compare: compare,
		tree:    adt.NewIntervalTree(),
	}
	for i, iv := range intervals {
		if compare(iv.Low, iv.High) > 0 {
			panic(fmt.Sprintf("intervaltree: interval %d has low > high", i))
		}
		t.tree.Insert(t.closed(iv.Low, iv.High), iv.Value)
	}
	return t
}

// closed maps [lo, hi] to the equivalent half-open adt interval.
func (t *Tree[P, V]) closed(lo, hi P) adt.Interval {
	return adt.Interval{
		Begin: &bound[P]{point: lo, compare: t.compare},
		End:   &bound[P]{point: hi, after: true, compare: t.compare},
	}
}

// Len returns the number of intervals stored in the tree.
func (t *Tree[P, V]) Len() int {
	return t.tree.Len()
}

// FindContainingPoint appends the payload of every interval containing p to dst.
func (t *Tree[P, V]) FindContainingPoint(p P, dst []V) []V {
	return t.visit(t.closed(p, p), dst)
}

// FindIntersectingInterval appends the payload of every interval overlapping the
// closed range [lo, hi] to dst. The caller guarantees lo <= hi.
func (t *Tree[P, V]) FindIntersectingInterval(lo, hi P, dst []V) []V {
	return t.visit(t.closed(lo, hi), dst)
}

func (t *Tree[P, V]) visit(q adt.Interval, dst []V) []V {
	if t.tree.Len() == 0 {
		return dst
	}
	t.tree.Visit(q, func(n *adt.IntervalValue) bool {
		dst = append(dst, n.Val.(V))
		return true
	})
	return dst
}
