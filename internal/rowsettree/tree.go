package rowsettree

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/tabletdb/internal/intervaltree"
	"github.com/hupe1980/tabletdb/internal/rowset"
)

// ErrInvertedBounds is returned by Reset when a rowset reports min > max.
var ErrInvertedBounds = errors.New("rowsettree: min key greater than max key")

// RowSet is the contract the index needs from a rowset handle.
type RowSet = rowset.Bounded

// EndpointType distinguishes the start and the end of a rowset's key range.
type EndpointType uint8

const (
	// EndpointStart marks a rowset's minimum key.
	EndpointStart EndpointType = iota
	// EndpointStop marks a rowset's maximum key.
	EndpointStop
)

func (t EndpointType) String() string {
	switch t {
	case EndpointStart:
		return "START"
	case EndpointStop:
		return "STOP"
	default:
		return fmt.Sprintf("EndpointType(%d)", uint8(t))
	}
}

// Endpoint is one boundary event of a bounded rowset.
type Endpoint[R RowSet] struct {
	RowSet R
	Type   EndpointType
	Key    []byte
}

// boundedEntry captures a rowset's bounds at build time.
type boundedEntry[R RowSet] struct {
	rowset R
	minKey []byte
	maxKey []byte
}

// Tree indexes a fixed set of rowsets by key range.
//
// Rowsets with known bounds live in an interval tree; rowsets whose bounds are
// not fixed (ErrNotSupported) are kept aside and returned by every query.
//
// A Tree is built exactly once with Reset and is read-only afterwards, so any
// number of goroutines may query it concurrently. To reflect a new rowset set,
// build a new Tree and publish it in place of the old one.
type Tree[R RowSet] struct {
	initted   bool
	entries   []*boundedEntry[R]
	unbounded []R
	endpoints []Endpoint[R]
	tree      *intervaltree.Tree[[]byte, *boundedEntry[R]]
	all       []R
}

// New builds a Tree over rowsets.
func New[R RowSet](rowsets []R) (*Tree[R], error) {
	t := &Tree[R]{}
	if err := t.Reset(rowsets); err != nil {
		return nil, err
	}
	return t, nil
}

// Reset populates the tree from rowsets.
//
// If any rowset fails to report its bounds for a reason other than
// rowset.ErrNotSupported, Reset returns that error and the tree stays
// uninitialized. Reset panics when called on an initialized tree.
func (t *Tree[R]) Reset(rowsets []R) error {
	if t.initted {
		panic("rowsettree: Reset called on an initialized tree")
	}

	entries := make([]*boundedEntry[R], 0, len(rowsets))
	var unbounded []R
	endpoints := make([]Endpoint[R], 0, 2*len(rowsets))

	for _, rs := range rowsets {
		minKey, maxKey, err := rs.GetBounds()
		if err != nil {
			if errors.Is(err, rowset.ErrNotSupported) {
				// Bounds still change as rows arrive, so the rowset
				// cannot be excluded from any query.
				unbounded = append(unbounded, rs)
				continue
			}
			return fmt.Errorf("rowsettree: unable to determine bounds of %s: %w", rs, err)
		}
		if bytes.Compare(minKey, maxKey) > 0 {
			return fmt.Errorf("%w: %s", ErrInvertedBounds, rs)
		}

		e := &boundedEntry[R]{
			rowset: rs,
			minKey: slices.Clip(bytes.Clone(minKey)),
			maxKey: slices.Clip(bytes.Clone(maxKey)),
		}
		endpoints = append(endpoints,
			Endpoint[R]{RowSet: rs, Type: EndpointStart, Key: e.minKey},
			Endpoint[R]{RowSet: rs, Type: EndpointStop, Key: e.maxKey},
		)
		entries = append(entries, e)
	}

	slices.SortStableFunc(endpoints, compareEndpoints[R])

	intervals := make([]intervaltree.Interval[[]byte, *boundedEntry[R]], len(entries))
	for i, e := range entries {
		intervals[i] = intervaltree.Interval[[]byte, *boundedEntry[R]]{
			Low:   e.minKey,
			High:  e.maxKey,
			Value: e,
		}
	}

	t.entries = entries
	t.unbounded = unbounded
	t.tree = intervaltree.New(bytes.Compare, intervals)
	t.endpoints = endpoints
	t.all = slices.Clone(rowsets)
	t.initted = true

	return nil
}

// compareEndpoints orders by key, then START before STOP, so that a sweep over
// the sequence counts [a, b] and [b, c] as overlapping at b.
func compareEndpoints[R RowSet](a, b Endpoint[R]) int {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return int(a.Type) - int(b.Type)
}

// FindRowSetsWithKeyInRange appends to dst every rowset that may contain key:
// all unbounded rowsets, then every bounded rowset with min <= key <= max.
func (t *Tree[R]) FindRowSetsWithKeyInRange(key []byte, dst []R) []R {
	t.mustBeInitted()

	dst = append(dst, t.unbounded...)

	for _, e := range t.tree.FindContainingPoint(key, nil) {
		dst = append(dst, e.rowset)
	}
	return dst
}

// FindRowSetsIntersectingInterval appends to dst every rowset that may hold a key
// in [lower, upper]: all unbounded rowsets, then every bounded rowset with
// min <= upper and max >= lower.
//
// An inverted range (lower > upper) contains no keys and leaves dst unchanged.
func (t *Tree[R]) FindRowSetsIntersectingInterval(lower, upper []byte, dst []R) []R {
	t.mustBeInitted()

	if bytes.Compare(lower, upper) > 0 {
		return dst
	}

	dst = append(dst, t.unbounded...)

	for _, e := range t.tree.FindIntersectingInterval(lower, upper, nil) {
		dst = append(dst, e.rowset)
	}
	return dst
}

// AllRowSets returns every rowset the tree was built from, in input order.
// The returned slice is shared. Its elements must not be modified, but appending
// to it reallocates.
func (t *Tree[R]) AllRowSets() []R {
	return slices.Clip(t.all)
}

// UnboundedRowSets returns the rowsets without fixed bounds.
// Like AllRowSets, the returned slice is shared and clipped.
func (t *Tree[R]) UnboundedRowSets() []R {
	return slices.Clip(t.unbounded)
}

// KeyEndpoints returns the START/STOP events of all bounded rowsets sorted by key.
// The returned slice and every Key are shared and clipped to their length.
func (t *Tree[R]) KeyEndpoints() []Endpoint[R] {
	return slices.Clip(t.endpoints)
}

// NumBounded returns the number of rowsets stored in the interval tree.
func (t *Tree[R]) NumBounded() int {
	return len(t.entries)
}

// Initialized reports whether Reset has completed successfully.
func (t *Tree[R]) Initialized() bool {
	return t.initted
}

func (t *Tree[R]) mustBeInitted() {
	if !t.initted {
		panic("rowsettree: query on an uninitialized tree")
	}
}
