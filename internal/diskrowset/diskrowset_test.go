package diskrowset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/cache"
	"github.com/hupe1980/tabletdb/internal/rowset"
)

func key(i int) []byte   { return []byte(fmt.Sprintf("key-%05d", i)) }
func value(i int) []byte { return []byte(fmt.Sprintf("value-%d-%s", i, bytes.Repeat([]byte("x"), i%17))) }

func build(t *testing.T, store blobstore.BlobStore, name string, n int, opts WriterOptions) Info {
	t.Helper()
	info, err := Build(context.Background(), store, name, opts, nil, func(w *Writer) error {
		for i := 0; i < n; i++ {
			if err := w.Add(key(i), value(i)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return info
}

func TestWriteAndRead(t *testing.T) {
	for _, ct := range []CompressionType{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(ct.String(), func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemoryStore()
			info := build(t, store, "rs", 1000, WriterOptions{BlockSize: 512, Compression: ct})

			assert.Equal(t, uint32(1000), info.Rows)
			assert.Equal(t, key(0), info.MinKey)
			assert.Equal(t, key(999), info.MaxKey)
			assert.Greater(t, info.Blocks, 1)

			r, err := Open(ctx, store, "rs", 7, Options{})
			require.NoError(t, err)
			defer r.DecRef()

			assert.Equal(t, rowset.ID(7), r.ID())
			assert.Equal(t, "DiskRowSet(7)", r.String())
			assert.Equal(t, ct, r.Compression())
			assert.Equal(t, info.Blocks, r.NumBlocks())
			assert.Equal(t, 1000, r.Len())
			assert.Equal(t, info.Size, r.Size())

			minKey, maxKey, err := r.GetBounds()
			require.NoError(t, err)
			assert.Equal(t, key(0), minKey)
			assert.Equal(t, key(999), maxKey)

			for _, i := range []int{0, 1, 499, 998, 999} {
				v, err := r.Get(ctx, key(i))
				require.NoError(t, err)
				assert.Equal(t, value(i), v)
			}

			_, err = r.Get(ctx, []byte("key-99999"))
			assert.ErrorIs(t, err, rowset.ErrNotFound)
			_, err = r.Get(ctx, []byte("a"))
			assert.ErrorIs(t, err, rowset.ErrNotFound)

			ok, err := r.Contains(ctx, key(10))
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestWriterRejectsUnsortedKeys(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WriterOptions{})
	require.NoError(t, w.Add([]byte("b"), nil))
	assert.ErrorIs(t, w.Add([]byte("b"), nil), ErrUnsorted)
	assert.ErrorIs(t, w.Add([]byte("a"), nil), ErrUnsorted)
	assert.Equal(t, uint32(1), w.Rows())
}

func TestWriterEmpty(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriter(&buf, WriterOptions{}).Close()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestBuildAbortsOnError(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	boom := errors.New("boom")

	_, err := Build(ctx, store, "rs", WriterOptions{}, nil, func(w *Writer) error {
		_ = w.Add([]byte("a"), []byte("1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 300, WriterOptions{BlockSize: 256})

	r, err := Open(ctx, store, "rs", 1, Options{})
	require.NoError(t, err)
	defer r.DecRef()

	tests := []struct {
		name         string
		lower, upper []byte
		want         []int
	}{
		{"all", nil, nil, rangeInts(0, 300)},
		{"closed", key(10), key(20), rangeInts(10, 21)},
		{"open upper", key(295), nil, rangeInts(295, 300)},
		{"open lower", nil, key(3), rangeInts(0, 4)},
		{"between keys", []byte("key-00010a"), []byte("key-00012a"), []int{11, 12}},
		{"past end", []byte("z"), nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			err := r.Scan(ctx, tt.lower, tt.upper, func(row rowset.Row) error {
				var i int
				_, err := fmt.Sscanf(string(row.Key), "key-%05d", &i)
				require.NoError(t, err)
				assert.Equal(t, value(i), row.Value)
				got = append(got, i)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func rangeInts(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestScanCallbackError(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 10, WriterOptions{})

	r, err := Open(ctx, store, "rs", 1, Options{})
	require.NoError(t, err)
	defer r.DecRef()

	stop := errors.New("stop")
	n := 0
	err = r.Scan(ctx, nil, nil, func(rowset.Row) error {
		n++
		if n == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, n)
}

func TestScanCanceled(t *testing.T) {
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 10, WriterOptions{})

	r, err := Open(context.Background(), store, "rs", 1, Options{})
	require.NoError(t, err)
	defer r.DecRef()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.Scan(ctx, nil, nil, func(rowset.Row) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeletesPersist(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 100, WriterOptions{BlockSize: 256})

	r, err := Open(ctx, store, "rs", 1, Options{})
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, key(5)))
	assert.ErrorIs(t, r.Delete(ctx, key(5)), rowset.ErrNotFound)
	assert.ErrorIs(t, r.Delete(ctx, []byte("nope")), rowset.ErrNotFound)
	assert.ErrorIs(t, r.DeleteOrdinal(1000), rowset.ErrNotFound)

	_, err = r.Get(ctx, key(5))
	assert.ErrorIs(t, err, rowset.ErrNotFound)
	assert.Equal(t, 99, r.Len())
	assert.Equal(t, uint32(100), r.TotalRows())
	assert.True(t, r.Dirty())

	// Bounds are fixed at write time.
	require.NoError(t, r.Delete(ctx, key(0)))
	minKey, _, err := r.GetBounds()
	require.NoError(t, err)
	assert.Equal(t, key(0), minKey)

	require.NoError(t, r.SaveDeltas(ctx))
	assert.False(t, r.Dirty())
	r.DecRef()

	r, err = Open(ctx, store, "rs", 1, Options{})
	require.NoError(t, err)
	defer r.DecRef()

	assert.Equal(t, 98, r.Len())
	assert.Equal(t, uint64(2), r.DeletedCount())
	ok, err := r.Contains(ctx, key(5))
	require.NoError(t, err)
	assert.False(t, ok)

	var n int
	require.NoError(t, r.Scan(ctx, nil, key(9), func(row rowset.Row) error {
		assert.NotEqual(t, key(5), row.Key)
		n++
		return nil
	}))
	assert.Equal(t, 8, n)
}

func TestSaveDeltasNoop(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 5, WriterOptions{})

	r, err := Open(ctx, store, "rs", 1, Options{})
	require.NoError(t, err)
	defer r.DecRef()

	require.NoError(t, r.SaveDeltas(ctx))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"rs"}, names)
}

func TestKeyAt(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 200, WriterOptions{BlockSize: 128})

	r, err := Open(ctx, store, "rs", 1, Options{})
	require.NoError(t, err)
	defer r.DecRef()

	for _, i := range []int{0, 57, 199} {
		k, err := r.KeyAt(ctx, uint32(i))
		require.NoError(t, err)
		assert.Equal(t, key(i), k)
	}
	_, err = r.KeyAt(ctx, 200)
	assert.ErrorIs(t, err, rowset.ErrNotFound)
}

func TestIterator(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 50, WriterOptions{BlockSize: 100})

	r, err := Open(ctx, store, "rs", 1, Options{})
	require.NoError(t, err)
	defer r.DecRef()

	require.NoError(t, r.Delete(ctx, key(0)))
	require.NoError(t, r.Delete(ctx, key(25)))
	require.NoError(t, r.Delete(ctx, key(49)))

	it := r.NewIterator(r.DeletedSnapshot())
	var got []int
	for it.Next(ctx) {
		var i int
		_, err := fmt.Sscanf(string(it.Key()), "key-%05d", &i)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), it.Ordinal())
		assert.Equal(t, value(i), it.Value())
		got = append(got, i)
	}
	require.NoError(t, it.Err())
	assert.Len(t, got, 47)
	assert.NotContains(t, got, 25)

	all := r.NewIterator(nil)
	n := 0
	for all.Next(ctx) {
		n++
	}
	assert.Equal(t, 50, n)
}

func TestBlockCache(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 100, WriterOptions{BlockSize: 256, Compression: CompressionLZ4})

	c := cache.NewLRUBlockCache(1<<20, nil)
	r, err := Open(ctx, store, "rs", 3, Options{Cache: c})
	require.NoError(t, err)

	_, err = r.Get(ctx, key(1))
	require.NoError(t, err)
	_, err = r.Get(ctx, key(2))
	require.NoError(t, err)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Positive(t, st.Bytes)

	r.DecRef()
	assert.Zero(t, c.Stats().Bytes)
}

func TestRefCounting(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 3, WriterOptions{})

	r, err := Open(ctx, store, "rs", 1, Options{})
	require.NoError(t, err)

	var closed bool
	r.SetOnClose(func() { closed = true })

	r.IncRef()
	r.DecRef()
	assert.False(t, closed)

	r.DecRef()
	assert.True(t, closed)
	assert.False(t, r.TryIncRef())

	_, _, err = r.GetBounds()
	assert.ErrorIs(t, err, rowset.ErrClosed)
	_, err = r.Get(ctx, key(0))
	assert.ErrorIs(t, err, rowset.ErrClosed)
}

func TestOpenCorrupt(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	build(t, store, "rs", 100, WriterOptions{BlockSize: 256})

	data, err := blobstore.ReadAll(ctx, store, "rs")
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "bad", data[:10]))
		_, err := Open(ctx, store, "bad", 1, Options{})
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("magic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xff
		require.NoError(t, store.Put(ctx, "bad", bad))
		_, err := Open(ctx, store, "bad", 1, Options{})
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("index checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-footerSize-1] ^= 0xff
		require.NoError(t, store.Put(ctx, "bad", bad))
		_, err := Open(ctx, store, "bad", 1, Options{})
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("block checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[blockHeaderSize] ^= 0xff
		require.NoError(t, store.Put(ctx, "bad", bad))
		r, err := Open(ctx, store, "bad", 1, Options{})
		require.NoError(t, err)
		defer r.DecRef()
		_, err = r.Get(ctx, key(0))
		assert.ErrorIs(t, err, ErrChecksum)
	})
}

func TestLocalStoreMapped(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewLocalStore(t.TempDir())
	build(t, store, "rowsets/000001.rs", 500, WriterOptions{Compression: CompressionZSTD})

	r, err := Open(ctx, store, "rowsets/000001.rs", 1, Options{})
	require.NoError(t, err)
	defer r.DecRef()

	v, err := r.Get(ctx, key(321))
	require.NoError(t, err)
	assert.Equal(t, value(321), v)
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]CompressionType{"": CompressionNone, "none": CompressionNone, "lz4": CompressionLZ4, "zstd": CompressionZSTD} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("snappy")
	assert.Error(t, err)
}
