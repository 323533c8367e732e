package tablet

import (
	"slices"
	"sync/atomic"

	"github.com/hupe1980/tabletdb/internal/diskrowset"
	"github.com/hupe1980/tabletdb/internal/memrowset"
	"github.com/hupe1980/tabletdb/internal/rowset"
	"github.com/hupe1980/tabletdb/internal/rowsettree"
)

// view is an immutable snapshot of the rowsets of a tablet together with the
// range index built over them. Readers pin a view with acquire; disk rowsets
// referenced by a view stay open until every reader released it.
type view struct {
	refs atomic.Int64

	active *memrowset.MemRowSet
	frozen []*memrowset.MemRowSet // oldest first
	disk   []*diskrowset.RowSet
	tree   *rowsettree.Tree[rowset.RowSet]
}

// newView builds the range index over the given rowsets. On success the view
// holds a reference on every disk rowset. On failure nothing is retained.
func newView(active *memrowset.MemRowSet, frozen []*memrowset.MemRowSet, disk []*diskrowset.RowSet) (*view, error) {
	all := make([]rowset.RowSet, 0, 1+len(frozen)+len(disk))
	all = append(all, active)
	for _, m := range frozen {
		all = append(all, m)
	}
	for _, d := range disk {
		all = append(all, d)
	}

	tree, err := rowsettree.New(all)
	if err != nil {
		return nil, err
	}

	v := &view{
		active: active,
		frozen: slices.Clone(frozen),
		disk:   slices.Clone(disk),
		tree:   tree,
	}
	for _, d := range v.disk {
		d.IncRef()
	}
	v.refs.Store(1)
	return v, nil
}

func (v *view) tryAcquire() bool {
	for {
		n := v.refs.Load()
		if n <= 0 {
			return false
		}
		if v.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (v *view) release() {
	if v.refs.Add(-1) == 0 {
		for _, d := range v.disk {
			d.DecRef()
		}
	}
}

func (v *view) findDisk(id rowset.ID) *diskrowset.RowSet {
	for _, d := range v.disk {
		if d.ID() == id {
			return d
		}
	}
	return nil
}

// acquire pins the current view. The caller must release it.
func (t *Tablet) acquire() (*view, error) {
	for {
		if t.closed.Load() {
			return nil, ErrClosed
		}
		v := t.current.Load()
		if v == nil {
			return nil, ErrClosed
		}
		if v.tryAcquire() {
			return v, nil
		}
	}
}

// publish installs v as the current view. Callers hold t.mu.
func (t *Tablet) publish(v *view) {
	if old := t.current.Swap(v); old != nil {
		old.release()
	}
}
