package diskrowset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// File layout:
//
//	[block 0] ... [block N-1] [index] [footer]
//
// Block:  [uncompressedLen u32][compressedLen u32][crc32 u32][payload]
// compressedLen == 0 means the payload is stored raw. The CRC covers the
// stored payload. A decoded payload is a run of
// uvarint(len(key)) key uvarint(len(value)) value.
//
// Footer: [indexOffset u64][indexLen u32][indexCRC u32][rows u32][version u32][magic u32]
const (
	magic   uint32 = 0x54525331 // "TRS1"
	version uint32 = 1

	footerSize      = 28
	blockHeaderSize = 12

	// DefaultBlockSize is the target uncompressed size of a data block.
	DefaultBlockSize = 32 << 10
)

var (
	// ErrInvalidMagic is returned when a blob is not a disk rowset.
	ErrInvalidMagic = errors.New("diskrowset: invalid magic number")
	// ErrInvalidVersion is returned for files written by an unknown format version.
	ErrInvalidVersion = errors.New("diskrowset: unsupported version")
	// ErrCorrupt is returned when the file structure is inconsistent.
	ErrCorrupt = errors.New("diskrowset: corrupt file")
	// ErrChecksum is returned when a block or the index fails its CRC check.
	ErrChecksum = errors.New("diskrowset: checksum mismatch")
	// ErrUnsorted is returned by Writer.Add for keys not strictly ascending.
	ErrUnsorted = errors.New("diskrowset: keys not in strictly ascending order")
	// ErrEmpty is returned by Writer.Close when no rows were added.
	ErrEmpty = errors.New("diskrowset: no rows written")
)

type footer struct {
	indexOffset uint64
	indexLen    uint32
	indexCRC    uint32
	rows        uint32
	version     uint32
	magic       uint32
}

func (f footer) encode() []byte {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(buf[0:], f.indexOffset)
	binary.LittleEndian.PutUint32(buf[8:], f.indexLen)
	binary.LittleEndian.PutUint32(buf[12:], f.indexCRC)
	binary.LittleEndian.PutUint32(buf[16:], f.rows)
	binary.LittleEndian.PutUint32(buf[20:], f.version)
	binary.LittleEndian.PutUint32(buf[24:], f.magic)
	return buf
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) < footerSize {
		return footer{}, fmt.Errorf("%w: footer truncated", ErrCorrupt)
	}
	f := footer{
		indexOffset: binary.LittleEndian.Uint64(buf[0:]),
		indexLen:    binary.LittleEndian.Uint32(buf[8:]),
		indexCRC:    binary.LittleEndian.Uint32(buf[12:]),
		rows:        binary.LittleEndian.Uint32(buf[16:]),
		version:     binary.LittleEndian.Uint32(buf[20:]),
		magic:       binary.LittleEndian.Uint32(buf[24:]),
	}
	if f.magic != magic {
		return footer{}, ErrInvalidMagic
	}
	if f.version != version {
		return footer{}, fmt.Errorf("%w: %d", ErrInvalidVersion, f.version)
	}
	return f, nil
}

// blockEntry locates one data block and the ordinals of the rows it holds.
type blockEntry struct {
	firstKey     []byte
	lastKey      []byte
	offset       uint64
	length       uint32 // header + stored payload
	firstOrdinal uint32
	rows         uint32
}

// index is the section between the last block and the footer.
type index struct {
	compression CompressionType
	blocks      []blockEntry
	minKey      []byte
	maxKey      []byte
	filter      *keyFilter
}

func (ix *index) encode() []byte {
	pb := newPayloadBuffer(make([]byte, 0, 64+len(ix.blocks)*48))
	pb.writeByte(byte(ix.compression))
	pb.writeUvarint(uint64(len(ix.blocks)))
	for _, b := range ix.blocks {
		pb.writeBytes(b.firstKey)
		pb.writeBytes(b.lastKey)
		pb.writeUvarint(b.offset)
		pb.writeUvarint(uint64(b.length))
		pb.writeUvarint(uint64(b.firstOrdinal))
		pb.writeUvarint(uint64(b.rows))
	}
	pb.writeBytes(ix.minKey)
	pb.writeBytes(ix.maxKey)
	ix.filter.encode(pb)
	return pb.buf
}

func decodeIndex(buf []byte) (*index, error) {
	pb := newPayloadBuffer(buf)
	ix := &index{compression: CompressionType(pb.readByte())}

	n := pb.readUvarint()
	if pb.err == nil && n > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: block count %d", ErrCorrupt, n)
	}
	ix.blocks = make([]blockEntry, 0, n)
	for i := uint64(0); i < n && pb.err == nil; i++ {
		ix.blocks = append(ix.blocks, blockEntry{
			firstKey:     pb.readBytes(),
			lastKey:      pb.readBytes(),
			offset:       pb.readUvarint(),
			length:       uint32(pb.readUvarint()),
			firstOrdinal: uint32(pb.readUvarint()),
			rows:         uint32(pb.readUvarint()),
		})
	}
	ix.minKey = pb.readBytes()
	ix.maxKey = pb.readBytes()
	ix.filter = decodeKeyFilter(pb)

	if pb.err != nil {
		return nil, fmt.Errorf("%w: index: %v", ErrCorrupt, pb.err)
	}
	if !ix.compression.valid() {
		return nil, fmt.Errorf("%w: compression %d", ErrCorrupt, ix.compression)
	}
	return ix, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeByte(v byte) {
	p.buf = append(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeUint64(v uint64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUvarint(v uint64) {
	p.buf = binary.AppendUvarint(p.buf, v)
}

func (p *payloadBuffer) writeBytes(b []byte) {
	p.writeUvarint(uint64(len(b)))
	p.buf = append(p.buf, b...)
}

func (p *payloadBuffer) readByte() byte {
	if p.err != nil {
		return 0
	}
	if p.pos >= len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
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

func (p *payloadBuffer) readUvarint() uint64 {
	if p.err != nil {
		return 0
	}
	v, n := binary.Uvarint(p.buf[p.pos:])
	if n <= 0 {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	p.pos += n
	return v
}

// readBytes returns a subslice of the buffer without copying.
func (p *payloadBuffer) readBytes() []byte {
	n := p.readUvarint()
	if p.err != nil {
		return nil
	}
	if n > uint64(len(p.buf)-p.pos) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+int(n) : p.pos+int(n)]
	p.pos += int(n)
	return b
}
