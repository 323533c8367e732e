package manifest

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tabletdb/internal/rowset"
)

func TestBinaryRoundTrip(t *testing.T) {
	m := &Manifest{
		Version:      1,
		ID:           1,
		TabletID:     uuid.New(),
		CreatedAt:    time.Now(),
		NextRowSetID: 3,
		RowSets: []RowSetInfo{
			{ID: 1, Path: "rowsets/000001.rs", Rows: 10, Size: 1024, MinKey: []byte("a"), MaxKey: []byte("m")},
			{ID: 2, Path: "rowsets/000002.rs", Rows: 5, Size: 512, MinKey: []byte{}, MaxKey: []byte("\xff\x00")},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, m.WriteBinary(&buf))

	m2, err := ReadBinary(&buf)
	require.NoError(t, err)

	assert.Equal(t, m.ID, m2.ID)
	assert.Equal(t, m.TabletID, m2.TabletID)
	assert.Equal(t, m.CreatedAt.UnixNano(), m2.CreatedAt.UnixNano())
	assert.Equal(t, rowset.ID(3), m2.NextRowSetID)
	require.Len(t, m2.RowSets, 2)

	s := m2.RowSets[0]
	assert.Equal(t, rowset.ID(1), s.ID)
	assert.Equal(t, uint32(10), s.Rows)
	assert.Equal(t, int64(1024), s.Size)
	assert.Equal(t, "rowsets/000001.rs", s.Path)
	assert.Equal(t, []byte("a"), s.MinKey)
	assert.Equal(t, []byte("m"), s.MaxKey)

	assert.Empty(t, m2.RowSets[1].MinKey)
	assert.Equal(t, []byte("\xff\x00"), m2.RowSets[1].MaxKey)
}

func TestReadBinaryRejectsDamage(t *testing.T) {
	m := New()
	m.RowSets = []RowSetInfo{{ID: 1, Path: "x", MinKey: []byte("a"), MaxKey: []byte("b")}}

	var buf bytes.Buffer
	require.NoError(t, m.WriteBinary(&buf))
	data := buf.Bytes()

	t.Run("checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xff
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("magic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] ^= 0xff
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("version", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint32(bad[4:8], 999)
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrIncompatibleVersion)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ReadBinary(bytes.NewReader(data[:headerSize+3]))
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}
