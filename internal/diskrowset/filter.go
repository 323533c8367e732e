package diskrowset

import (
	"github.com/FastFilter/xorfilter"
	"github.com/cespare/xxhash/v2"
)

// keyFilter is an approximate membership filter over the keys of a rowset.
// A nil filter admits every key.
type keyFilter struct {
	f *xorfilter.BinaryFuse8
}

func buildKeyFilter(hashes []uint64) *keyFilter {
	if len(hashes) == 0 {
		return nil
	}
	f, err := xorfilter.PopulateBinaryFuse8(dedupHashes(hashes))
	if err != nil {
		// Construction can fail on pathological input; lookups then fall back to the index.
		return nil
	}
	return &keyFilter{f: f}
}

func hashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// mayContain reports false only when key is definitely absent.
func (kf *keyFilter) mayContain(key []byte) bool {
	if kf == nil {
		return true
	}
	return kf.f.Contains(hashKey(key))
}

// encode writes a presence byte followed by the filter parameters and fingerprints.
func (kf *keyFilter) encode(pb *payloadBuffer) {
	if kf == nil {
		pb.writeByte(0)
		return
	}
	pb.writeByte(1)
	pb.writeUint64(kf.f.Seed)
	pb.writeUint32(kf.f.SegmentLength)
	pb.writeUint32(kf.f.SegmentLengthMask)
	pb.writeUint32(kf.f.SegmentCount)
	pb.writeUint32(kf.f.SegmentCountLength)
	pb.writeBytes(kf.f.Fingerprints)
}

func decodeKeyFilter(pb *payloadBuffer) *keyFilter {
	if pb.readByte() == 0 {
		return nil
	}
	f := &xorfilter.BinaryFuse8{
		Seed:               pb.readUint64(),
		SegmentLength:      pb.readUint32(),
		SegmentLengthMask:  pb.readUint32(),
		SegmentCount:       pb.readUint32(),
		SegmentCountLength: pb.readUint32(),
	}
	f.Fingerprints = pb.readBytes()
	if pb.err != nil {
		return nil
	}
	return &keyFilter{f: f}
}

// dedupHashes removes duplicate hashes in place. Distinct keys may collide and
// binary fuse construction requires unique input.
func dedupHashes(hashes []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(hashes))
	out := hashes[:0]
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
