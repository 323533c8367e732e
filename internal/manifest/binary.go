package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/tabletdb/internal/hash"
	"github.com/hupe1980/tabletdb/internal/rowset"
)

const (
	binaryMagic   = 0x54424d46 // "TBMF"
	binaryVersion = 1
	headerSize    = 16
)

// WriteBinary writes the manifest in binary format.
// Format:
// Magic (4 bytes)
// Version (4 bytes)
// Checksum (4 bytes) - CRC32 of payload
// PayloadLength (4 bytes)
// Payload:
//
//	ID (8 bytes)
//	TabletID (16 bytes)
//	CreatedAt (8 bytes) - UnixNano
//	NextRowSetID (8 bytes)
//	NumRowSets (4 bytes)
//	RowSets...
//	  ID (8 bytes)
//	  Rows (4 bytes)
//	  Size (8 bytes)
//	  Path (string)
//	  MinKey (bytes)
//	  MaxKey (bytes)
func (m *Manifest) WriteBinary(w io.Writer) error {
	buf := make([]byte, 0, 64+len(m.RowSets)*96)
	pb := newPayloadBuffer(buf)

	pb.writeUint64(m.ID)
	pb.writeRaw(m.TabletID[:])
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint64(uint64(m.NextRowSetID))
	pb.writeUint32(uint32(len(m.RowSets)))

	for _, rs := range m.RowSets {
		pb.writeUint64(uint64(rs.ID))
		pb.writeUint32(rs.Rows)
		pb.writeUint64(uint64(rs.Size))
		pb.writeString(rs.Path)
		pb.writeBytes(rs.MinKey)
		pb.writeBytes(rs.MaxKey)
	}

	if pb.err != nil {
		return pb.err
	}

	payload := pb.buf

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadBinary reads the manifest from binary format.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != binaryVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrCorrupt, err)
	}
	if hash.CRC32C(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{Version: int(version)}

	m.ID = pb.readUint64()
	copy(m.TabletID[:], pb.readRaw(len(uuid.UUID{})))
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.NextRowSetID = rowset.ID(pb.readUint64())

	n := pb.readUint32()
	if pb.err == nil && uint64(n) > uint64(len(payload)) {
		return nil, fmt.Errorf("%w: rowset count %d", ErrCorrupt, n)
	}
	m.RowSets = make([]RowSetInfo, n)
	for i := range m.RowSets {
		m.RowSets[i].ID = rowset.ID(pb.readUint64())
		m.RowSets[i].Rows = pb.readUint32()
		m.RowSets[i].Size = int64(pb.readUint64())
		m.RowSets[i].Path = pb.readString()
		m.RowSets[i].MinKey = pb.readBytes()
		m.RowSets[i].MaxKey = pb.readBytes()
	}

	if pb.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, pb.err)
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeRaw(b []byte) {
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, b...)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

// writeBytes writes a 4-byte length prefix; keys are not limited to 64 KiB.
func (p *payloadBuffer) writeBytes(b []byte) {
	p.writeUint32(uint32(len(b)))
	p.writeRaw(b)
}

func (p *payloadBuffer) readUint64() uint64 {
	if p.err != nil {
		return 0
	}
	if p.pos+8 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if p.err != nil {
		return 0
	}
	if p.pos+4 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readRaw(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+n : p.pos+n]
	p.pos += n
	return b
}

func (p *payloadBuffer) readString() string {
	if p.err != nil {
		return ""
	}
	if p.pos+2 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	l := int(binary.LittleEndian.Uint16(p.buf[p.pos:]))
	p.pos += 2
	return string(p.readRaw(l))
}

func (p *payloadBuffer) readBytes() []byte {
	n := p.readUint32()
	if p.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(p.buf)-p.pos) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	return p.readRaw(int(n))
}
