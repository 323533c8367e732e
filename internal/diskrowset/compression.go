package diskrowset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/tabletdb/internal/hash"
)

// CompressionType selects the block compression algorithm.
type CompressionType uint8

const (
	// CompressionNone stores blocks raw.
	CompressionNone CompressionType = 0
	// CompressionLZ4 uses LZ4 block compression (fast, good for hot data).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD uses ZSTD (better ratio, good for cold data).
	CompressionZSTD CompressionType = 2
)

func (c CompressionType) valid() bool {
	return c <= CompressionZSTD
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("CompressionType(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration value to a CompressionType.
func ParseCompression(s string) (CompressionType, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("diskrowset: unknown compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// encodeBlock frames data with a block header, compressing it when that pays off.
// A payload that does not shrink below 90% of its raw size is stored raw.
func encodeBlock(data []byte, ct CompressionType) ([]byte, error) {
	var compressed []byte
	switch ct {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	payload := data
	compressedLen := uint32(0)
	if len(compressed) > 0 && float64(len(compressed)) <= float64(len(data))*0.9 {
		payload = compressed
		compressedLen = uint32(len(compressed))
	}

	out := make([]byte, blockHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], compressedLen)
	binary.LittleEndian.PutUint32(out[8:], hash.CRC32C(payload))
	copy(out[blockHeaderSize:], payload)
	return out, nil
}

// decodeBlock verifies and decompresses a framed block.
// The result never aliases block.
func decodeBlock(block []byte, ct CompressionType) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, fmt.Errorf("%w: block too small for header", ErrCorrupt)
	}
	rawLen := binary.LittleEndian.Uint32(block[0:])
	compressedLen := binary.LittleEndian.Uint32(block[4:])
	sum := binary.LittleEndian.Uint32(block[8:])

	storedLen := rawLen
	if compressedLen != 0 {
		storedLen = compressedLen
	}
	if uint64(len(block)-blockHeaderSize) < uint64(storedLen) {
		return nil, fmt.Errorf("%w: block payload truncated", ErrCorrupt)
	}
	payload := block[blockHeaderSize : blockHeaderSize+int(storedLen)]
	if hash.CRC32C(payload) != sum {
		return nil, ErrChecksum
	}
	if compressedLen == 0 {
		return bytes.Clone(payload), nil
	}

	switch ct {
	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if n != int(rawLen) {
			return nil, fmt.Errorf("%w: lz4 size mismatch", ErrCorrupt)
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if len(out) != int(rawLen) {
			return nil, fmt.Errorf("%w: zstd size mismatch", ErrCorrupt)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compressed block with compression %s", ErrCorrupt, ct)
	}
}

// appendRow appends one encoded row to a block payload.
func appendRow(dst, key, value []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(key)))
	dst = append(dst, key...)
	dst = binary.AppendUvarint(dst, uint64(len(value)))
	return append(dst, value...)
}

// decodeRows splits a decoded block payload into rows. Keys and values alias data.
func decodeRows(data []byte, n uint32) ([]blockRow, error) {
	rows := make([]blockRow, 0, n)
	pb := newPayloadBuffer(data)
	for pb.pos < len(data) {
		k := pb.readBytes()
		v := pb.readBytes()
		if pb.err != nil {
			return nil, fmt.Errorf("%w: block rows: %v", ErrCorrupt, pb.err)
		}
		rows = append(rows, blockRow{key: k, value: v})
	}
	if uint32(len(rows)) != n {
		return nil, fmt.Errorf("%w: block holds %d rows, index says %d", ErrCorrupt, len(rows), n)
	}
	return rows, nil
}

type blockRow struct {
	key   []byte
	value []byte
}
