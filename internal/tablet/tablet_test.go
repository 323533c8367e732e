package tablet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/diskrowset"
	"github.com/hupe1980/tabletdb/internal/rowset"
	"github.com/hupe1980/tabletdb/internal/rowsettree"
)

func k(s string) []byte { return []byte(s) }

func openTablet(t *testing.T, store blobstore.BlobStore, opts ...Option) *Tablet {
	t.Helper()
	opts = append([]Option{WithFlushConfig(FlushConfig{MaxMemRowSetSize: -1})}, opts...)
	tb, err := Open(context.Background(), store, opts...)
	require.NoError(t, err)
	return tb
}

func insertAll(t *testing.T, tb *Tablet, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, tb.Insert(context.Background(), k(key), k("v-"+key)))
	}
}

func keysOf(rows []rowset.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r.Key)
	}
	return out
}

func diskIDs(t *testing.T, tb *Tablet) []rowset.ID {
	t.Helper()
	infos, err := tb.RowSets()
	require.NoError(t, err)
	var ids []rowset.ID
	for _, info := range infos {
		if info.Kind == KindDisk {
			ids = append(ids, info.ID)
		}
	}
	return ids
}

func TestInsertGetDelete(t *testing.T) {
	ctx := context.Background()
	tb := openTablet(t, blobstore.NewMemoryStore())
	defer tb.Close(ctx)

	require.NoError(t, tb.Insert(ctx, k("a"), k("1")))
	assert.ErrorIs(t, tb.Insert(ctx, k("a"), k("2")), ErrKeyExists)
	assert.ErrorIs(t, tb.Insert(ctx, nil, k("x")), ErrInvalidArgument)

	v, err := tb.Get(ctx, k("a"))
	require.NoError(t, err)
	assert.Equal(t, k("1"), v)

	_, err = tb.Get(ctx, k("b"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tb.Delete(ctx, k("a")))
	assert.ErrorIs(t, tb.Delete(ctx, k("a")), ErrNotFound)
	_, err = tb.Get(ctx, k("a"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tb.Insert(ctx, k("a"), k("3")))
}

func TestFlushMovesRowsToDisk(t *testing.T) {
	ctx := context.Background()
	tb := openTablet(t, blobstore.NewMemoryStore())
	defer tb.Close(ctx)

	insertAll(t, tb, "a", "b", "c")
	require.NoError(t, tb.Flush(ctx))

	infos, err := tb.RowSets()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, KindActive, infos[0].Kind)
	assert.Zero(t, infos[0].Rows)
	assert.Equal(t, KindDisk, infos[1].Kind)
	assert.Equal(t, 3, infos[1].Rows)
	assert.True(t, infos[1].Bounded)
	assert.Equal(t, k("a"), infos[1].MinKey)
	assert.Equal(t, k("c"), infos[1].MaxKey)

	// Duplicate detection consults the disk rowset through the index.
	assert.ErrorIs(t, tb.Insert(ctx, k("b"), k("x")), ErrKeyExists)
	require.NoError(t, tb.Insert(ctx, k("d"), k("v-d")))

	v, err := tb.Get(ctx, k("b"))
	require.NoError(t, err)
	assert.Equal(t, k("v-b"), v)

	// An empty active memrowset is not flushed.
	st, err := tb.Stats()
	require.NoError(t, err)
	manifestID := st.ManifestID
	require.NoError(t, tb.Delete(ctx, k("d")))
	require.NoError(t, tb.Flush(ctx))
	st, err = tb.Stats()
	require.NoError(t, err)
	assert.Equal(t, manifestID, st.ManifestID)
	assert.Equal(t, 1, st.DiskRowSets)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	tb := openTablet(t, blobstore.NewMemoryStore())
	defer tb.Close(ctx)

	insertAll(t, tb, "b", "d", "f")
	require.NoError(t, tb.Flush(ctx))
	insertAll(t, tb, "a", "c", "e")
	require.NoError(t, tb.Flush(ctx))
	insertAll(t, tb, "g", "h")
	require.NoError(t, tb.Delete(ctx, k("d")))

	tests := []struct {
		name         string
		lower, upper []byte
		limit        int
		want         []string
	}{
		{"all", nil, nil, 0, []string{"a", "b", "c", "e", "f", "g", "h"}},
		{"closed", k("b"), k("e"), 0, []string{"b", "c", "e"}},
		{"limit", nil, nil, 3, []string{"a", "b", "c"}},
		{"open upper", k("f"), nil, 0, []string{"f", "g", "h"}},
		{"beyond disk", k("fa"), nil, 0, []string{"g", "h"}},
		{"open lower", nil, k("b"), 0, []string{"a", "b"}},
		{"point", k("c"), k("c"), 0, []string{"c"}},
		{"inverted", k("e"), k("b"), 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := tb.Scan(ctx, tt.lower, tt.upper, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keysOf(rows))
		})
	}

	rows, err := tb.Scan(ctx, k("a"), k("a"), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, k("v-a"), rows[0].Value)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewLocalStore(t.TempDir())

	tb := openTablet(t, store)
	tabletID := tb.TabletID()
	insertAll(t, tb, "a", "b", "c")
	require.NoError(t, tb.Flush(ctx))
	require.NoError(t, tb.Delete(ctx, k("b")))
	insertAll(t, tb, "x", "y")
	require.NoError(t, tb.Close(ctx))
	assert.ErrorIs(t, tb.Close(ctx), ErrClosed)
	_, err := tb.Get(ctx, k("a"))
	assert.ErrorIs(t, err, ErrClosed)

	tb = openTablet(t, store)
	defer tb.Close(ctx)
	assert.Equal(t, tabletID, tb.TabletID())

	rows, err := tb.Scan(ctx, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "x", "y"}, keysOf(rows))

	// Rowset ids keep increasing across restarts.
	insertAll(t, tb, "z")
	require.NoError(t, tb.Flush(ctx))
	ids := diskIDs(t, tb)
	require.Len(t, ids, 3)
	assert.Less(t, ids[1], ids[2])
}

func TestWritesRejectedWhileClosing(t *testing.T) {
	ctx := context.Background()
	tb := openTablet(t, blobstore.NewMemoryStore())
	insertAll(t, tb, "a")

	tb.closing.Store(true)
	assert.ErrorIs(t, tb.Insert(ctx, k("b"), k("1")), ErrClosed)
	assert.ErrorIs(t, tb.Delete(ctx, k("a")), ErrClosed)
	v, err := tb.Get(ctx, k("a"))
	require.NoError(t, err)
	assert.Equal(t, k("v-a"), v)

	tb.closing.Store(false)
	require.NoError(t, tb.Close(ctx))
}

func TestInsertsRacingCloseAreDurable(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	tb := openTablet(t, store)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		acked []string
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				key := fmt.Sprintf("w%d-%06d", w, i)
				if err := tb.Insert(ctx, k(key), k("v")); err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
				mu.Lock()
				acked = append(acked, key)
				mu.Unlock()
			}
		}(w)
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tb.Close(ctx))
	wg.Wait()

	tb = openTablet(t, store)
	defer tb.Close(ctx)
	for _, key := range acked {
		_, err := tb.Get(ctx, k(key))
		require.NoError(t, err, key)
	}
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	tb := openTablet(t, store, WithCompactionConfig(CompactionConfig{Compression: diskrowset.CompressionZSTD}))
	defer tb.Close(ctx)

	insertAll(t, tb, "a", "c", "e")
	require.NoError(t, tb.Flush(ctx))
	insertAll(t, tb, "b", "d", "f")
	require.NoError(t, tb.Flush(ctx))
	require.NoError(t, tb.Delete(ctx, k("c")))

	st, err := tb.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.MaxOverlapDepth)

	inputs := diskIDs(t, tb)
	require.Len(t, inputs, 2)
	require.NoError(t, tb.Compact(ctx, inputs))

	infos, err := tb.RowSets()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	out := infos[1]
	assert.Equal(t, KindDisk, out.Kind)
	assert.Equal(t, 5, out.Rows)
	assert.Zero(t, out.Deleted)
	assert.Equal(t, k("a"), out.MinKey)
	assert.Equal(t, k("f"), out.MaxKey)
	assert.NotContains(t, inputs, out.ID)

	rows, err := tb.Scan(ctx, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d", "e", "f"}, keysOf(rows))

	st, err = tb.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.MaxOverlapDepth)
	assert.InDelta(t, 1.0, st.AverageOverlapDepth, 1e-9)

	// Retired rowset files are gone once no view references them.
	names, err := store.List(ctx, rowSetDir)
	require.NoError(t, err)
	assert.Equal(t, []string{out.Path}, names)

	assert.ErrorIs(t, tb.Compact(ctx, inputs), ErrRowSetNotFound)
	assert.ErrorIs(t, tb.Compact(ctx, nil), ErrInvalidArgument)
}

func TestCompactAllDeleted(t *testing.T) {
	ctx := context.Background()
	tb := openTablet(t, blobstore.NewMemoryStore())
	defer tb.Close(ctx)

	insertAll(t, tb, "a", "b")
	require.NoError(t, tb.Flush(ctx))
	require.NoError(t, tb.Delete(ctx, k("a")))
	require.NoError(t, tb.Delete(ctx, k("b")))

	require.NoError(t, tb.Compact(ctx, diskIDs(t, tb)))
	assert.Empty(t, diskIDs(t, tb))

	rows, err := tb.Scan(ctx, nil, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReplayDeletes(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	build := func(name string, id rowset.ID, keys ...string) *diskrowset.RowSet {
		_, err := diskrowset.Build(ctx, store, name, diskrowset.WriterOptions{}, nil, func(w *diskrowset.Writer) error {
			for _, key := range keys {
				if err := w.Add(k(key), k("v")); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
		d, err := diskrowset.Open(ctx, store, name, id, diskrowset.Options{})
		require.NoError(t, err)
		return d
	}

	in1 := build("in1", 1, "a", "c")
	in2 := build("in2", 2, "b", "d")
	inputs := []*diskrowset.RowSet{in1, in2}
	snaps := []*roaring.Bitmap{in1.DeletedSnapshot(), in2.DeletedSnapshot()}

	_, err := diskrowset.Build(ctx, store, "out", diskrowset.WriterOptions{}, nil, func(w *diskrowset.Writer) error {
		return mergeRowSets(ctx, inputs, snaps, w.Add)
	})
	require.NoError(t, err)
	out, err := diskrowset.Open(ctx, store, "out", 3, diskrowset.Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, out.Len())

	// Deletes that land on the inputs while the merge runs.
	require.NoError(t, in1.Delete(ctx, k("c")))
	require.NoError(t, in2.Delete(ctx, k("b")))

	require.NoError(t, replayDeletes(ctx, inputs, snaps, out))
	assert.Equal(t, 2, out.Len())
	ok, err := out.Contains(ctx, k("c"))
	require.NoError(t, err)
	assert.False(t, ok)
}

type boundsOnly struct {
	name     string
	min, max string
}

func (b boundsOnly) GetBounds() ([]byte, []byte, error) { return k(b.min), k(b.max), nil }
func (b boundsOnly) String() string                     { return b.name }

func TestOverlapDepth(t *testing.T) {
	build := func(rs ...boundsOnly) []rowsettree.Endpoint[boundsOnly] {
		tree, err := rowsettree.New(rs)
		require.NoError(t, err)
		return tree.KeyEndpoints()
	}

	tests := []struct {
		name    string
		rowsets []boundsOnly
		max     int
		avg     float64
	}{
		{"empty", nil, 0, 0},
		{"disjoint", []boundsOnly{{"A", "a", "b"}, {"B", "c", "d"}}, 1, 1},
		{"nested", []boundsOnly{{"A", "a", "z"}, {"B", "b", "c"}, {"C", "d", "e"}}, 2, 5.0 / 3},
		{"touching", []boundsOnly{{"A", "a", "m"}, {"B", "m", "z"}}, 2, 1.5},
		{"stacked", []boundsOnly{{"A", "a", "z"}, {"B", "a", "z"}, {"C", "a", "z"}}, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxDepth, avg := overlapDepth(build(tt.rowsets...))
			assert.Equal(t, tt.max, maxDepth)
			assert.InDelta(t, tt.avg, avg, 1e-9)
		})
	}
}

func TestKeyEndpoints(t *testing.T) {
	ctx := context.Background()
	tb := openTablet(t, blobstore.NewMemoryStore())
	defer tb.Close(ctx)

	insertAll(t, tb, "a", "c")
	require.NoError(t, tb.Flush(ctx))
	insertAll(t, tb, "b", "d")
	require.NoError(t, tb.Flush(ctx))

	ids := diskIDs(t, tb)
	require.Len(t, ids, 2)

	eps, err := tb.KeyEndpoints()
	require.NoError(t, err)
	require.Len(t, eps, 4)
	assert.Equal(t, Endpoint{RowSet: ids[0], Type: rowsettree.EndpointStart, Key: k("a")}, eps[0])
	assert.Equal(t, Endpoint{RowSet: ids[1], Type: rowsettree.EndpointStart, Key: k("b")}, eps[1])
	assert.Equal(t, Endpoint{RowSet: ids[0], Type: rowsettree.EndpointStop, Key: k("c")}, eps[2])
	assert.Equal(t, Endpoint{RowSet: ids[1], Type: rowsettree.EndpointStop, Key: k("d")}, eps[3])

	st, err := tb.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.DiskRowSets)
	assert.Equal(t, 1, st.MemRowSets)
	assert.Equal(t, 1, st.UnboundedRowSets)
	assert.Equal(t, 4, st.Rows)
	assert.Positive(t, st.DiskBytes)
	assert.InDelta(t, 1.5, st.AverageOverlapDepth, 1e-9)
}

func TestFailedRebuildKeepsView(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	tb := openTablet(t, store)
	defer tb.Close(ctx)

	insertAll(t, tb, "a")
	require.NoError(t, tb.Flush(ctx))

	_, err := diskrowset.Build(ctx, store, "stray", diskrowset.WriterOptions{}, nil, func(w *diskrowset.Writer) error {
		return w.Add(k("q"), k("v"))
	})
	require.NoError(t, err)
	stray, err := diskrowset.Open(ctx, store, "stray", 99, diskrowset.Options{})
	require.NoError(t, err)
	stray.DecRef() // a closed rowset cannot report bounds

	before := tb.current.Load()
	tb.mu.Lock()
	_, err = tb.buildView(before.active, before.frozen, append(before.disk, stray))
	tb.mu.Unlock()
	require.Error(t, err)
	assert.ErrorIs(t, err, rowset.ErrClosed)
	assert.Same(t, before, tb.current.Load())

	v, err := tb.Get(ctx, k("a"))
	require.NoError(t, err)
	assert.Equal(t, k("v-a"), v)
}

func TestAutoFlush(t *testing.T) {
	ctx := context.Background()
	obs := &BasicMetricsObserver{}
	tb, err := Open(ctx, blobstore.NewMemoryStore(),
		WithFlushConfig(FlushConfig{MaxMemRowSetSize: 1}),
		WithMetricsObserver(obs),
		WithBlockCacheSize(1<<20),
	)
	require.NoError(t, err)
	defer tb.Close(ctx)

	require.NoError(t, tb.Insert(ctx, k("a"), k("1")))
	require.Eventually(t, func() bool {
		return len(diskIDs(t, tb)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err = tb.Get(ctx, k("a"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), obs.Inserts.Load())
	assert.Equal(t, int64(1), obs.Gets.Load())
	assert.GreaterOrEqual(t, obs.Flushes.Load(), int64(1))
	assert.Equal(t, int64(1), obs.FlushedRows.Load())
	assert.Positive(t, obs.IndexRebuilds.Load())
}

func TestConcurrentReadersDuringFlushAndCompaction(t *testing.T) {
	ctx := context.Background()
	tb := openTablet(t, blobstore.NewMemoryStore())
	defer tb.Close(ctx)

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, tb.Insert(ctx, k(fmt.Sprintf("key-%04d", i)), k("v")))
		if i%50 == 49 {
			require.NoError(t, tb.Flush(ctx))
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				key := k(fmt.Sprintf("key-%04d", i%n))
				if _, err := tb.Get(ctx, key); err != nil {
					errs <- fmt.Errorf("get %s: %w", key, err)
					return
				}
				rows, err := tb.Scan(ctx, nil, nil, 0)
				if err != nil {
					errs <- err
					return
				}
				if len(rows) != n {
					errs <- fmt.Errorf("scan returned %d rows", len(rows))
					return
				}
			}
		}()
	}

	require.NoError(t, tb.Compact(ctx, diskIDs(t, tb)))
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Len(t, diskIDs(t, tb), 1)
}
