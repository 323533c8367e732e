package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	data := []byte("payload")
	require.NoError(t, store.Put(ctx, "a/1", data))
	data[0] = 'X'

	got, err := ReadAll(ctx, store, "a/1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	w, err := store.Create(ctx, "a/2")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b, err := store.Open(ctx, "a/2")
	require.NoError(t, err)
	buf := make([]byte, 10)
	n, err := b.ReadAt(ctx, buf, 2)
	assert.Equal(t, 6, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "reamed", string(buf[:n]))

	w, err = store.Create(ctx, "a/3")
	require.NoError(t, err)
	_, _ = w.Write([]byte("discard"))
	require.NoError(t, w.Abort())
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, names)

	require.NoError(t, store.Delete(ctx, "a/1"))
	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/2"}, names)
}
