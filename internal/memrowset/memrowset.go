package memrowset

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/tabletdb/internal/rowset"
	"github.com/tidwall/btree"
)

// rowOverhead approximates per-row bookkeeping in the btree.
const rowOverhead = 48

// MemRowSet is the in-memory rowset receiving inserts.
//
// Rows live in a copy-on-write B-tree keyed by the string form of the row key,
// whose ordering matches bytes.Compare. Scans iterate a snapshot taken under a
// short read lock, so writers are never blocked by long scans.
type MemRowSet struct {
	id rowset.ID

	mu      sync.RWMutex
	rows    *btree.Map[string, []byte]
	size    int64
	frozen  bool
	deleted [][]byte // keys deleted after Freeze
}

// New creates an empty MemRowSet.
func New(id rowset.ID) *MemRowSet {
	return &MemRowSet{
		id:   id,
		rows: new(btree.Map[string, []byte]),
	}
}

// ID returns the rowset ID.
func (m *MemRowSet) ID() rowset.ID {
	return m.id
}

func (m *MemRowSet) String() string {
	return fmt.Sprintf("MemRowSet(%d)", uint64(m.id))
}

// GetBounds always fails with rowset.ErrNotSupported: the key range keeps
// growing until the rowset is flushed.
func (m *MemRowSet) GetBounds() ([]byte, []byte, error) {
	return nil, nil, fmt.Errorf("%s: %w", m, rowset.ErrNotSupported)
}

// Insert adds a row. It returns rowset.ErrKeyExists if key is already present
// and rowset.ErrFrozen once the rowset is being flushed.
func (m *MemRowSet) Insert(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return rowset.ErrFrozen
	}
	k := string(key)
	if _, ok := m.rows.Get(k); ok {
		return rowset.ErrKeyExists
	}
	m.rows.Set(k, bytes.Clone(value))
	m.size += int64(len(key)+len(value)) + rowOverhead
	return nil
}

// Get returns the value for key.
func (m *MemRowSet) Get(_ context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.rows.Get(string(key))
	if !ok {
		return nil, rowset.ErrNotFound
	}
	return v, nil
}

// Contains reports whether key is present.
func (m *MemRowSet) Contains(_ context.Context, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.rows.Get(string(key))
	return ok, nil
}

// Scan calls fn for all rows in [lower, upper]. A nil bound is open.
// Rows inserted after Scan starts are not visited.
func (m *MemRowSet) Scan(ctx context.Context, lower, upper []byte, fn func(rowset.Row) error) error {
	m.mu.RLock()
	snap := m.rows.Copy()
	m.mu.RUnlock()

	iter := snap.Iter()
	var more bool
	if lower == nil {
		more = iter.First()
	} else {
		more = iter.Seek(string(lower))
	}

	for n := 0; more; n++ {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		k := iter.Key()
		if upper != nil && k > string(upper) {
			return nil
		}
		if err := fn(rowset.Row{Key: []byte(k), Value: iter.Value()}); err != nil {
			return err
		}
		more = iter.Next()
	}
	return nil
}

// Delete removes key. After Freeze the key is also recorded so the flush can
// carry the delete over to the disk rowset it is writing.
func (m *MemRowSet) Delete(_ context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.rows.Delete(string(key))
	if !ok {
		return rowset.ErrNotFound
	}
	m.size -= int64(len(key)+len(v)) + rowOverhead
	if m.frozen {
		m.deleted = append(m.deleted, bytes.Clone(key))
	}
	return nil
}

// Freeze stops accepting inserts. Deletes remain allowed.
func (m *MemRowSet) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
}

// Frozen reports whether Freeze was called.
func (m *MemRowSet) Frozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// DeletedSinceFreeze returns the keys deleted after Freeze, in delete order.
func (m *MemRowSet) DeletedSinceFreeze() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.deleted...)
}

// Len returns the number of rows.
func (m *MemRowSet) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows.Len()
}

// Size returns the approximate memory footprint in bytes.
func (m *MemRowSet) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// KeyRange returns the current smallest and largest key. ok is false when empty.
// Unlike GetBounds the result is only a snapshot.
func (m *MemRowSet) KeyRange() (minKey, maxKey []byte, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo, _, ok := m.rows.Min()
	if !ok {
		return nil, nil, false
	}
	hi, _, _ := m.rows.Max()
	return []byte(lo), []byte(hi), true
}

var _ rowset.RowSet = (*MemRowSet)(nil)
