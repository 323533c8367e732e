package manifest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tabletdb/blobstore"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore(blobstore.NewLocalStore(t.TempDir()))

	// 1. Load on empty -> not found
	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	// 2. Save (increments ID)
	m := New()
	id := m.AllocateRowSetID()
	m.RowSets = append(m.RowSets, RowSetInfo{ID: id, Path: "rs-1", Rows: 2, MinKey: []byte("a"), MaxKey: []byte("b")})
	require.NoError(t, store.Save(ctx, m))
	assert.Equal(t, uint64(1), m.ID)

	// 3. Load updated
	m2, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m2.ID)
	assert.Equal(t, m.TabletID, m2.TabletID)
	assert.Equal(t, m.NextRowSetID, m2.NextRowSetID)
	assert.Equal(t, m.RowSets, m2.RowSets)

	// 4. A second version keeps the first readable
	m2.RowSets = nil
	require.NoError(t, store.Save(ctx, m2))

	latest, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.ID)
	assert.Empty(t, latest.RowSets)

	v1, err := store.LoadVersion(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, v1.RowSets, 1)

	versions, err := store.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, uint64(1), versions[0].ID)
	assert.Equal(t, uint64(2), versions[1].ID)

	// 5. Delete the old version
	require.NoError(t, store.DeleteVersion(ctx, 1))
	_, err = store.LoadVersion(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListVersionsSkipsCorrupt(t *testing.T) {
	ctx := context.Background()
	bs := blobstore.NewMemoryStore()
	store := NewStore(bs)

	require.NoError(t, store.Save(ctx, New()))
	require.NoError(t, bs.Put(ctx, "MANIFEST-000099.bin", []byte("garbage")))
	require.NoError(t, bs.Put(ctx, "MANIFEST-000100.json", []byte("{}")))

	versions, err := store.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, uint64(1), versions[0].ID)
}

func TestClone(t *testing.T) {
	m := New()
	m.RowSets = []RowSetInfo{{ID: 1, MinKey: []byte("a"), MaxKey: []byte("z")}}

	c := m.Clone()
	c.RowSets[0].MinKey[0] = 'b'
	c.RowSets = append(c.RowSets, RowSetInfo{ID: 2})

	assert.Equal(t, []byte("a"), m.RowSets[0].MinKey)
	assert.Len(t, m.RowSets, 1)
	assert.Equal(t, m.TabletID, c.TabletID)
}
