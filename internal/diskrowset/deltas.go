package diskrowset

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/rowset"
)

// DeltaName returns the blob name of the delete bitmap belonging to a rowset file.
func DeltaName(name string) string {
	return name + ".del"
}

// Delete marks key as deleted. It returns rowset.ErrNotFound if the key is
// absent or already deleted.
func (r *RowSet) Delete(ctx context.Context, key []byte) error {
	ord, _, err := r.find(ctx, key)
	if err != nil {
		return err
	}
	return r.DeleteOrdinal(ord)
}

// DeleteOrdinal marks the row at ord as deleted.
func (r *RowSet) DeleteOrdinal(ord uint32) error {
	if ord >= r.rows {
		return fmt.Errorf("%w: ordinal %d out of range", rowset.ErrNotFound, ord)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.deleted.CheckedAdd(ord) {
		return rowset.ErrNotFound
	}
	r.dirty = true
	return nil
}

func (r *RowSet) isDeleted(ord uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deleted.Contains(ord)
}

// DeletedSnapshot returns a copy of the delete bitmap.
func (r *RowSet) DeletedSnapshot() *roaring.Bitmap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deleted.Clone()
}

// DeletedCount returns the number of deleted rows.
func (r *RowSet) DeletedCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deleted.GetCardinality()
}

// Dirty reports whether deletes were made since the last SaveDeltas.
func (r *RowSet) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// SaveDeltas persists the delete bitmap. It is a no-op when nothing changed.
func (r *RowSet) SaveDeltas(ctx context.Context) error {
	r.mu.RLock()
	if !r.dirty {
		r.mu.RUnlock()
		return nil
	}
	snap := r.deleted.Clone()
	r.mu.RUnlock()

	var buf bytes.Buffer
	if _, err := snap.WriteTo(&buf); err != nil {
		return err
	}
	if err := r.store.Put(ctx, DeltaName(r.name), buf.Bytes()); err != nil {
		return err
	}

	r.mu.Lock()
	// Deletes that raced with the write keep the rowset dirty.
	if r.deleted.GetCardinality() == snap.GetCardinality() {
		r.dirty = false
	}
	r.mu.Unlock()
	return nil
}

func (r *RowSet) loadDeltas(ctx context.Context) error {
	data, err := blobstore.ReadAll(ctx, r.store, DeltaName(r.name))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: delete bitmap: %v", ErrCorrupt, err)
	}
	if bm.GetCardinality() > 0 && bm.Maximum() >= r.rows {
		return fmt.Errorf("%w: delete bitmap references ordinal %d", ErrCorrupt, bm.Maximum())
	}
	r.deleted = bm
	return nil
}
