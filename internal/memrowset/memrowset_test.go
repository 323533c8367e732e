package memrowset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/tabletdb/internal/rowset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, m *MemRowSet, lower, upper []byte) []string {
	t.Helper()
	var keys []string
	require.NoError(t, m.Scan(context.Background(), lower, upper, func(r rowset.Row) error {
		keys = append(keys, string(r.Key))
		return nil
	}))
	return keys
}

func TestInsertGet(t *testing.T) {
	ctx := context.Background()
	m := New(7)

	require.NoError(t, m.Insert([]byte("b"), []byte("2")))
	require.NoError(t, m.Insert([]byte("a"), []byte("1")))

	v, err := m.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	_, err = m.Get(ctx, []byte("z"))
	assert.ErrorIs(t, err, rowset.ErrNotFound)

	ok, err := m.Contains(ctx, []byte("b"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, m.Insert([]byte("a"), []byte("again")), rowset.ErrKeyExists)
	assert.Equal(t, 2, m.Len())
	assert.Positive(t, m.Size())
	assert.Equal(t, rowset.ID(7), m.ID())
	assert.Equal(t, "MemRowSet(7)", m.String())
}

func TestInsertCopiesValue(t *testing.T) {
	m := New(1)
	value := []byte("value")
	require.NoError(t, m.Insert([]byte("k"), value))
	value[0] = 'X'

	v, err := m.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "value", string(v))
}

func TestGetBoundsUnsupported(t *testing.T) {
	m := New(1)
	require.NoError(t, m.Insert([]byte("k"), nil))

	_, _, err := m.GetBounds()
	assert.ErrorIs(t, err, rowset.ErrNotSupported)

	lo, hi, ok := m.KeyRange()
	require.True(t, ok)
	assert.Equal(t, "k", string(lo))
	assert.Equal(t, "k", string(hi))

	_, _, ok = New(2).KeyRange()
	assert.False(t, ok)
}

func TestScan(t *testing.T) {
	m := New(1)
	for _, k := range []string{"d", "a", "c", "b", "e"} {
		require.NoError(t, m.Insert([]byte(k), []byte(k)))
	}

	tests := []struct {
		name         string
		lower, upper []byte
		want         []string
	}{
		{"all", nil, nil, []string{"a", "b", "c", "d", "e"}},
		{"closed", []byte("b"), []byte("d"), []string{"b", "c", "d"}},
		{"open upper", []byte("c"), nil, []string{"c", "d", "e"}},
		{"open lower", nil, []byte("b"), []string{"a", "b"}},
		{"between keys", []byte("bb"), []byte("cc"), []string{"c"}},
		{"empty", []byte("x"), []byte("z"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(t, m, tt.lower, tt.upper))
		})
	}
}

func TestScanStopsOnError(t *testing.T) {
	m := New(1)
	for i := range 10 {
		require.NoError(t, m.Insert([]byte(fmt.Sprintf("%02d", i)), nil))
	}
	stop := errors.New("stop")
	n := 0
	err := m.Scan(context.Background(), nil, nil, func(rowset.Row) error {
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
	m := New(1)
	require.NoError(t, m.Insert([]byte("a"), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Scan(ctx, nil, nil, func(rowset.Row) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanSnapshotIsolation(t *testing.T) {
	m := New(1)
	require.NoError(t, m.Insert([]byte("a"), nil))
	require.NoError(t, m.Insert([]byte("c"), nil))

	var seen []string
	require.NoError(t, m.Scan(context.Background(), nil, nil, func(r rowset.Row) error {
		seen = append(seen, string(r.Key))
		if string(r.Key) == "a" {
			require.NoError(t, m.Insert([]byte("b"), nil))
		}
		return nil
	}))
	assert.Equal(t, []string{"a", "c"}, seen)
	assert.Equal(t, 3, m.Len())
}

func TestFreezeAndDelete(t *testing.T) {
	ctx := context.Background()
	m := New(1)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, m.Insert([]byte(k), []byte(k)))
	}

	require.NoError(t, m.Delete(ctx, []byte("a")))
	assert.ErrorIs(t, m.Delete(ctx, []byte("a")), rowset.ErrNotFound)
	assert.Empty(t, m.DeletedSinceFreeze())

	m.Freeze()
	assert.True(t, m.Frozen())
	assert.ErrorIs(t, m.Insert([]byte("d"), nil), rowset.ErrFrozen)

	require.NoError(t, m.Delete(ctx, []byte("c")))
	require.NoError(t, m.Delete(ctx, []byte("b")))

	deleted := m.DeletedSinceFreeze()
	require.Len(t, deleted, 2)
	assert.Equal(t, "c", string(deleted[0]))
	assert.Equal(t, "b", string(deleted[1]))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int64(0), m.Size())
}

func TestConcurrentInsertScan(t *testing.T) {
	m := New(1)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 250 {
				_ = m.Insert([]byte(fmt.Sprintf("%d-%04d", w, i)), []byte("v"))
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				prev := ""
				_ = m.Scan(ctx, nil, nil, func(r rowset.Row) error {
					if string(r.Key) <= prev {
						t.Errorf("scan out of order: %q after %q", r.Key, prev)
					}
					prev = string(r.Key)
					return nil
				})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, m.Len())
}
