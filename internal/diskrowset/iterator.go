package diskrowset

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
)

// Iterator walks the live rows of a RowSet in key order, one block at a time.
type Iterator struct {
	r       *RowSet
	deleted *roaring.Bitmap

	block int
	rows  []blockRow
	pos   int
	ord   uint32
	err   error
}

// NewIterator returns an Iterator that skips the ordinals in deleted.
// A nil bitmap skips nothing. The iterator is positioned before the first row.
func (r *RowSet) NewIterator(deleted *roaring.Bitmap) *Iterator {
	if deleted == nil {
		deleted = roaring.New()
	}
	return &Iterator{r: r, deleted: deleted, block: -1}
}

// Next advances to the next live row. It returns false at the end or on error.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for {
		it.pos++
		if it.block >= 0 && it.pos < len(it.rows) {
			it.ord = it.r.ix.blocks[it.block].firstOrdinal + uint32(it.pos)
			if it.deleted.Contains(it.ord) {
				continue
			}
			return true
		}

		it.block++
		if it.block >= len(it.r.ix.blocks) {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		rows, err := it.r.readBlock(ctx, it.block)
		if err != nil {
			it.err = err
			return false
		}
		it.rows = rows
		it.pos = -1
	}
}

// Key returns the current key. It is valid until the next call to Next.
func (it *Iterator) Key() []byte { return it.rows[it.pos].key }

// Value returns the current value. It is valid until the next call to Next.
func (it *Iterator) Value() []byte { return it.rows[it.pos].value }

// Ordinal returns the ordinal of the current row.
func (it *Iterator) Ordinal() uint32 { return it.ord }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }
