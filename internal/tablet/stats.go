package tablet

import (
	"bytes"
	"fmt"

	"github.com/hupe1980/tabletdb/internal/cache"
	"github.com/hupe1980/tabletdb/internal/memrowset"
	"github.com/hupe1980/tabletdb/internal/rowset"
	"github.com/hupe1980/tabletdb/internal/rowsettree"
)

// RowSetKind classifies a rowset within a tablet.
type RowSetKind uint8

const (
	// KindActive is the memrowset receiving inserts.
	KindActive RowSetKind = iota
	// KindFrozen is a memrowset waiting to be flushed.
	KindFrozen
	// KindDisk is an immutable disk rowset.
	KindDisk
)

func (k RowSetKind) String() string {
	switch k {
	case KindActive:
		return "active"
	case KindFrozen:
		return "frozen"
	case KindDisk:
		return "disk"
	default:
		return fmt.Sprintf("RowSetKind(%d)", uint8(k))
	}
}

// RowSetInfo describes one rowset of the current view.
type RowSetInfo struct {
	ID      rowset.ID
	Kind    RowSetKind
	Rows    int
	Deleted uint64
	Size    int64
	Blocks  int
	Path    string
	Bounded bool
	MinKey  []byte
	MaxKey  []byte
}

// Endpoint is a START or STOP event of a bounded rowset in key order.
type Endpoint struct {
	RowSet rowset.ID
	Type   rowsettree.EndpointType
	Key    []byte
}

// Stats is a point-in-time summary of a tablet.
type Stats struct {
	ManifestID       uint64
	MemRowSets       int
	DiskRowSets      int
	UnboundedRowSets int
	Rows             int
	MemoryBytes      int64
	DiskBytes        int64

	// MaxOverlapDepth is the largest number of disk rowsets covering one key.
	MaxOverlapDepth int
	// AverageOverlapDepth is the mean number of rowsets covering the minimum
	// key of each bounded rowset. 1 means no two rowsets overlap.
	AverageOverlapDepth float64

	Cache cache.Stats
}

// Stats returns the current tablet statistics.
func (t *Tablet) Stats() (Stats, error) {
	v, err := t.acquire()
	if err != nil {
		return Stats{}, err
	}
	defer v.release()

	st := Stats{
		ManifestID:       t.ManifestID(),
		MemRowSets:       1 + len(v.frozen),
		DiskRowSets:      len(v.disk),
		UnboundedRowSets: len(v.tree.UnboundedRowSets()),
	}
	for _, m := range append([]*memrowset.MemRowSet{v.active}, v.frozen...) {
		st.Rows += m.Len()
		st.MemoryBytes += m.Size()
	}
	for _, d := range v.disk {
		st.Rows += d.Len()
		st.DiskBytes += d.Size()
	}
	st.MaxOverlapDepth, st.AverageOverlapDepth = overlapDepth(v.tree.KeyEndpoints())
	if t.blockCache != nil {
		st.Cache = t.blockCache.Stats()
	}
	return st, nil
}

// overlapDepth sweeps the endpoint sequence. Because STARTs sort before STOPs
// at equal keys, rowsets touching at a single key count as overlapping.
func overlapDepth[R rowsettree.RowSet](eps []rowsettree.Endpoint[R]) (maxDepth int, avgDepth float64) {
	var depth, starts, sum int
	for _, ep := range eps {
		switch ep.Type {
		case rowsettree.EndpointStart:
			depth++
			starts++
			sum += depth
			maxDepth = max(maxDepth, depth)
		case rowsettree.EndpointStop:
			depth--
		}
	}
	if starts > 0 {
		avgDepth = float64(sum) / float64(starts)
	}
	return maxDepth, avgDepth
}

// RowSets describes every rowset of the current view: the active memrowset,
// frozen memrowsets and disk rowsets, in that order.
func (t *Tablet) RowSets() ([]RowSetInfo, error) {
	v, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer v.release()

	out := make([]RowSetInfo, 0, 1+len(v.frozen)+len(v.disk))
	out = append(out, memInfo(v.active, KindActive))
	for _, m := range v.frozen {
		out = append(out, memInfo(m, KindFrozen))
	}
	for _, d := range v.disk {
		minKey, maxKey, _ := d.GetBounds()
		out = append(out, RowSetInfo{
			ID:      d.ID(),
			Kind:    KindDisk,
			Rows:    d.Len(),
			Deleted: d.DeletedCount(),
			Size:    d.Size(),
			Blocks:  d.NumBlocks(),
			Path:    d.Name(),
			Bounded: true,
			MinKey:  bytes.Clone(minKey),
			MaxKey:  bytes.Clone(maxKey),
		})
	}
	return out, nil
}

func memInfo(m *memrowset.MemRowSet, kind RowSetKind) RowSetInfo {
	info := RowSetInfo{ID: m.ID(), Kind: kind, Rows: m.Len(), Size: m.Size()}
	if minKey, maxKey, ok := m.KeyRange(); ok {
		info.MinKey, info.MaxKey = minKey, maxKey
	}
	return info
}

// KeyEndpoints returns the START/STOP events of all bounded rowsets in key order.
func (t *Tablet) KeyEndpoints() ([]Endpoint, error) {
	v, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer v.release()

	eps := v.tree.KeyEndpoints()
	out := make([]Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = Endpoint{RowSet: ep.RowSet.ID(), Type: ep.Type, Key: bytes.Clone(ep.Key)}
	}
	return out, nil
}
