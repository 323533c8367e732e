package diskrowset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/cache"
	"github.com/hupe1980/tabletdb/internal/hash"
	"github.com/hupe1980/tabletdb/internal/rowset"
)

// Options configures Open.
type Options struct {
	// Cache holds decoded blocks. Nil disables caching.
	Cache cache.BlockCache
	// Store is used to persist delete bitmaps. Defaults to the store passed to Open.
	Store blobstore.BlobStore
}

// RowSet is an immutable, flushed rowset with fixed key bounds.
//
// Row data never changes after the file is written. Deletes are tracked as row
// ordinals in a bitmap persisted next to the data file (see SaveDeltas).
//
// A RowSet is reference counted. Open returns a handle holding one reference;
// the file is closed when the last reference is released with DecRef.
type RowSet struct {
	id    rowset.ID
	name  string
	store blobstore.BlobStore
	blob  blobstore.Blob
	data  []byte // non-nil when the blob is memory mapped
	size  int64
	ix    *index
	rows  uint32
	cache cache.BlockCache

	mu      sync.RWMutex
	deleted *roaring.Bitmap
	dirty   bool

	refs    atomic.Int64
	closed  atomic.Bool
	onClose atomic.Value // stores func()
}

var _ rowset.RowSet = (*RowSet)(nil)

// Open opens the rowset file name and loads its delete bitmap if one exists.
func Open(ctx context.Context, store blobstore.BlobStore, name string, id rowset.ID, opts Options) (*RowSet, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	r := &RowSet{
		id:      id,
		name:    name,
		store:   store,
		blob:    blob,
		size:    blob.Size(),
		cache:   opts.Cache,
		deleted: roaring.New(),
	}
	if opts.Store != nil {
		r.store = opts.Store
	}
	if m, ok := blob.(blobstore.Mappable); ok {
		if data, err := m.Bytes(); err == nil {
			r.data = data
		}
	}

	if err := r.load(ctx); err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("diskrowset: open %s: %w", name, err)
	}
	if err := r.loadDeltas(ctx); err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("diskrowset: open %s: %w", name, err)
	}

	r.refs.Store(1)
	var f func()
	r.onClose.Store(f)
	return r, nil
}

func (r *RowSet) load(ctx context.Context) error {
	if r.size < footerSize {
		return fmt.Errorf("%w: file too small (%d bytes)", ErrCorrupt, r.size)
	}
	fb, err := r.readAt(ctx, r.size-footerSize, footerSize)
	if err != nil {
		return err
	}
	ft, err := decodeFooter(fb)
	if err != nil {
		return err
	}
	if ft.indexOffset+uint64(ft.indexLen) > uint64(r.size-footerSize) {
		return fmt.Errorf("%w: index out of bounds", ErrCorrupt)
	}

	ib, err := r.readAt(ctx, int64(ft.indexOffset), int(ft.indexLen))
	if err != nil {
		return err
	}
	if hash.CRC32C(ib) != ft.indexCRC {
		return fmt.Errorf("%w: index", ErrChecksum)
	}
	// The decoded index aliases its buffer, which must outlive the mapping.
	ix, err := decodeIndex(bytes.Clone(ib))
	if err != nil {
		return err
	}

	var total uint32
	for _, b := range ix.blocks {
		if b.firstOrdinal != total || b.offset+uint64(b.length) > ft.indexOffset {
			return fmt.Errorf("%w: block table", ErrCorrupt)
		}
		total += b.rows
	}
	if total != ft.rows || total == 0 {
		return fmt.Errorf("%w: row count %d, footer says %d", ErrCorrupt, total, ft.rows)
	}

	r.ix = ix
	r.rows = ft.rows
	return nil
}

// readAt returns n bytes at off. Slices from a mapped blob alias the mapping.
func (r *RowSet) readAt(ctx context.Context, off int64, n int) ([]byte, error) {
	if r.data != nil {
		if off < 0 || off+int64(n) > int64(len(r.data)) {
			return nil, fmt.Errorf("%w: read beyond end of file", ErrCorrupt)
		}
		return r.data[off : off+int64(n)], nil
	}
	buf := make([]byte, n)
	m, err := r.blob.ReadAt(ctx, buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && m == n) {
		return nil, err
	}
	return buf, nil
}

// ID returns the rowset id.
func (r *RowSet) ID() rowset.ID { return r.id }

// Name returns the blob name of the data file.
func (r *RowSet) Name() string { return r.name }

func (r *RowSet) String() string {
	return fmt.Sprintf("DiskRowSet(%d)", uint64(r.id))
}

// GetBounds returns the smallest and largest key written to the file.
// Deleted rows do not shrink the bounds.
func (r *RowSet) GetBounds() ([]byte, []byte, error) {
	if r.closed.Load() {
		return nil, nil, rowset.ErrClosed
	}
	return r.ix.minKey, r.ix.maxKey, nil
}

// NumBlocks returns the number of data blocks.
func (r *RowSet) NumBlocks() int { return len(r.ix.blocks) }

// Compression returns the block compression of the file.
func (r *RowSet) Compression() CompressionType { return r.ix.compression }

// TotalRows returns the number of rows in the file, deleted ones included.
func (r *RowSet) TotalRows() uint32 { return r.rows }

// Len returns the number of live rows.
func (r *RowSet) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(uint64(r.rows) - r.deleted.GetCardinality())
}

// Size returns the size of the data file in bytes.
func (r *RowSet) Size() int64 { return r.size }

// blockFor returns the index of the only block that may hold key, or -1.
func (r *RowSet) blockFor(key []byte) int {
	blocks := r.ix.blocks
	i := sort.Search(len(blocks), func(i int) bool {
		return bytes.Compare(blocks[i].lastKey, key) >= 0
	})
	if i == len(blocks) || bytes.Compare(blocks[i].firstKey, key) > 0 {
		return -1
	}
	return i
}

// readBlock returns the decoded rows of block i, going through the block cache.
func (r *RowSet) readBlock(ctx context.Context, i int) ([]blockRow, error) {
	b := r.ix.blocks[i]
	key := cache.Key{RowSet: r.id, Block: uint32(i)}

	if r.cache != nil {
		if data, ok := r.cache.Get(ctx, key); ok {
			return decodeRows(data, b.rows)
		}
	}

	framed, err := r.readAt(ctx, int64(b.offset), int(b.length))
	if err != nil {
		return nil, err
	}
	data, err := decodeBlock(framed, r.ix.compression)
	if err != nil {
		return nil, fmt.Errorf("%s block %d: %w", r, i, err)
	}
	if r.cache != nil {
		r.cache.Set(ctx, key, data)
	}
	return decodeRows(data, b.rows)
}

// find locates key and returns its ordinal and value.
func (r *RowSet) find(ctx context.Context, key []byte) (uint32, []byte, error) {
	if r.closed.Load() {
		return 0, nil, rowset.ErrClosed
	}
	if !r.ix.filter.mayContain(key) {
		return 0, nil, rowset.ErrNotFound
	}
	bi := r.blockFor(key)
	if bi < 0 {
		return 0, nil, rowset.ErrNotFound
	}
	rows, err := r.readBlock(ctx, bi)
	if err != nil {
		return 0, nil, err
	}
	j, ok := sort.Find(len(rows), func(j int) int {
		return bytes.Compare(key, rows[j].key)
	})
	if !ok {
		return 0, nil, rowset.ErrNotFound
	}
	return r.ix.blocks[bi].firstOrdinal + uint32(j), rows[j].value, nil
}

// Get returns the value stored for key. The returned slice must not be modified.
func (r *RowSet) Get(ctx context.Context, key []byte) ([]byte, error) {
	ord, v, err := r.find(ctx, key)
	if err != nil {
		return nil, err
	}
	if r.isDeleted(ord) {
		return nil, rowset.ErrNotFound
	}
	return v, nil
}

// Contains reports whether key is present and not deleted.
func (r *RowSet) Contains(ctx context.Context, key []byte) (bool, error) {
	_, err := r.Get(ctx, key)
	if errors.Is(err, rowset.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Scan calls fn for every live row with lower <= key <= upper.
// Row slices must not be modified or retained past the callback.
func (r *RowSet) Scan(ctx context.Context, lower, upper []byte, fn func(rowset.Row) error) error {
	deleted := r.DeletedSnapshot()
	return r.scan(ctx, lower, upper, deleted, func(_ uint32, row rowset.Row) error {
		return fn(row)
	})
}

func (r *RowSet) scan(ctx context.Context, lower, upper []byte, deleted *roaring.Bitmap, fn func(uint32, rowset.Row) error) error {
	if r.closed.Load() {
		return rowset.ErrClosed
	}
	start := 0
	if lower != nil {
		start = sort.Search(len(r.ix.blocks), func(i int) bool {
			return bytes.Compare(r.ix.blocks[i].lastKey, lower) >= 0
		})
	}

	for bi := start; bi < len(r.ix.blocks); bi++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := r.ix.blocks[bi]
		if upper != nil && bytes.Compare(b.firstKey, upper) > 0 {
			return nil
		}
		rows, err := r.readBlock(ctx, bi)
		if err != nil {
			return err
		}
		for j, row := range rows {
			if lower != nil && bytes.Compare(row.key, lower) < 0 {
				continue
			}
			if upper != nil && bytes.Compare(row.key, upper) > 0 {
				return nil
			}
			ord := b.firstOrdinal + uint32(j)
			if deleted.Contains(ord) {
				continue
			}
			if err := fn(ord, rowset.Row{Key: row.key, Value: row.value}); err != nil {
				return err
			}
		}
	}
	return nil
}

// KeyAt returns the key stored at ordinal ord, deleted or not.
func (r *RowSet) KeyAt(ctx context.Context, ord uint32) ([]byte, error) {
	if ord >= r.rows {
		return nil, fmt.Errorf("%w: ordinal %d out of range", rowset.ErrNotFound, ord)
	}
	blocks := r.ix.blocks
	bi := sort.Search(len(blocks), func(i int) bool {
		return blocks[i].firstOrdinal+blocks[i].rows > ord
	})
	rows, err := r.readBlock(ctx, bi)
	if err != nil {
		return nil, err
	}
	return rows[ord-blocks[bi].firstOrdinal].key, nil
}

// IncRef adds a reference.
func (r *RowSet) IncRef() {
	r.refs.Add(1)
}

// TryIncRef adds a reference unless the rowset is already released.
func (r *RowSet) TryIncRef() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// DecRef releases a reference. The last release closes the file, drops its
// cached blocks and runs the close callback.
func (r *RowSet) DecRef() {
	if r.refs.Add(-1) != 0 {
		return
	}
	r.closed.Store(true)
	if r.cache != nil {
		r.cache.Invalidate(cache.ForRowSet(r.id))
	}
	_ = r.blob.Close()
	if f := r.onClose.Load().(func()); f != nil {
		f()
	}
}

// SetOnClose sets a callback run after the last reference is released.
func (r *RowSet) SetOnClose(f func()) {
	r.onClose.Store(f)
}
