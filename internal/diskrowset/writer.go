package diskrowset

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/hash"
	"github.com/hupe1980/tabletdb/internal/resource"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// BlockSize is the target uncompressed block size. Defaults to DefaultBlockSize.
	BlockSize int
	// Compression is the block compression algorithm.
	Compression CompressionType
}

// Info describes a finished rowset file.
type Info struct {
	Rows   uint32
	Size   int64
	MinKey []byte
	MaxKey []byte
	Blocks int
}

// Writer streams rows in strictly ascending key order into the disk rowset format.
type Writer struct {
	w    io.Writer
	opts WriterOptions

	offset  uint64
	block   []byte
	first   []byte
	last    []byte
	inBlock uint32
	rows    uint32

	ix     index
	hashes []uint64
	closed bool
}

// NewWriter creates a Writer emitting to w.
func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	return &Writer{
		w:     w,
		opts:  opts,
		block: make([]byte, 0, opts.BlockSize),
		ix:    index{compression: opts.Compression},
	}
}

// Add appends a row. Keys must be strictly ascending.
func (w *Writer) Add(key, value []byte) error {
	if w.closed {
		return fmt.Errorf("diskrowset: add on closed writer")
	}
	if w.rows > 0 && bytes.Compare(key, w.last) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrUnsorted, key, w.last)
	}

	if w.inBlock == 0 {
		w.first = bytes.Clone(key)
	}
	w.block = appendRow(w.block, key, value)
	w.last = bytes.Clone(key)
	w.inBlock++
	w.rows++
	w.hashes = append(w.hashes, hashKey(key))

	if w.rows == 1 {
		w.ix.minKey = w.first
	}

	if len(w.block) >= w.opts.BlockSize {
		return w.flushBlock()
	}
	return nil
}

// Rows returns the number of rows added so far.
func (w *Writer) Rows() uint32 {
	return w.rows
}

func (w *Writer) flushBlock() error {
	if w.inBlock == 0 {
		return nil
	}
	framed, err := encodeBlock(w.block, w.opts.Compression)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(framed); err != nil {
		return err
	}

	w.ix.blocks = append(w.ix.blocks, blockEntry{
		firstKey:     w.first,
		lastKey:      w.last,
		offset:       w.offset,
		length:       uint32(len(framed)),
		firstOrdinal: w.rows - w.inBlock,
		rows:         w.inBlock,
	})
	w.offset += uint64(len(framed))
	w.block = w.block[:0]
	w.inBlock = 0
	return nil
}

// Close writes the index and footer. It returns ErrEmpty if no rows were added.
// The underlying writer is not closed.
func (w *Writer) Close() (Info, error) {
	if w.closed {
		return Info{}, fmt.Errorf("diskrowset: writer already closed")
	}
	w.closed = true

	if w.rows == 0 {
		return Info{}, ErrEmpty
	}
	if err := w.flushBlock(); err != nil {
		return Info{}, err
	}

	w.ix.maxKey = w.last
	w.ix.filter = buildKeyFilter(w.hashes)
	w.hashes = nil

	idx := w.ix.encode()
	if _, err := w.w.Write(idx); err != nil {
		return Info{}, err
	}

	ft := footer{
		indexOffset: w.offset,
		indexLen:    uint32(len(idx)),
		indexCRC:    hash.CRC32C(idx),
		rows:        w.rows,
		version:     version,
		magic:       magic,
	}
	if _, err := w.w.Write(ft.encode()); err != nil {
		return Info{}, err
	}

	return Info{
		Rows:   w.rows,
		Size:   int64(w.offset) + int64(len(idx)) + footerSize,
		MinKey: w.ix.minKey,
		MaxKey: w.ix.maxKey,
		Blocks: len(w.ix.blocks),
	}, nil
}

// Build writes a rowset named name to store. fill adds the rows.
// Writes are charged against rc's IO budget. On any error the partial blob is discarded.
func Build(ctx context.Context, store blobstore.BlobStore, name string, opts WriterOptions, rc *resource.Controller, fill func(*Writer) error) (Info, error) {
	wb, err := store.Create(ctx, name)
	if err != nil {
		return Info{}, err
	}

	w := NewWriter(resource.NewThrottledWriter(ctx, wb, rc), opts)
	info, err := func() (Info, error) {
		if err := fill(w); err != nil {
			return Info{}, err
		}
		info, err := w.Close()
		if err != nil {
			return Info{}, err
		}
		if err := wb.Sync(); err != nil {
			return Info{}, err
		}
		return info, wb.Close()
	}()
	if err != nil {
		_ = wb.Abort()
		return Info{}, err
	}
	return info, nil
}
