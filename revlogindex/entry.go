// Package revlogindex packs and unpacks fixed-width revlog index entries
// (spec §3, §4.B): 64 bytes in v1, 96 bytes in v2, all big-endian, grounded
// on the fixed-record binary index codecs retrieved alongside go-git's
// plumbing/format/index package and the encoding/binary BigEndian idiom
// other pack repos use for similar tables.
package revlogindex

import (
	"encoding/binary"
	"fmt"
)

// EntrySizeV1 and EntrySizeV2 are the fixed on-disk record sizes spec §3
// names.
const (
	EntrySizeV1 = 64
	EntrySizeV2 = 96
	NodeSize    = 20
)

// Format identifies the header's low-16-bit version field.
type Format uint16

const (
	FormatV1         Format = 1
	FormatV2         Format = 2
	FormatChangelogV2 Format = 3
)

// Feature flags packed into the header word's high 16 bits.
const (
	FlagInline       uint16 = 1 << 0
	FlagGeneralDelta uint16 = 1 << 1
)

// DataCompressionMode and SidedataCompressionMode values for v2's packed
// trailing byte (spec §3: "low 2 bits select the data compression mode and
// next 2 bits select the sidedata compression mode").
type CompressionMode byte

const (
	CompressionInline  CompressionMode = 0
	CompressionNone    CompressionMode = 1
	CompressionDefault CompressionMode = 2
	CompressionOther   CompressionMode = 3
)

// Entry is the decoded form of one index record, common to v1 and v2.
type Entry struct {
	Offset             uint64 // byte offset of the compressed payload, flags masked off
	Flags              uint16
	CompressedLength   uint32
	UncompressedLength int32 // may be -1 ("unknown") on some paths
	BaseRev            int32
	LinkRev            int32
	Parent1Rev         int32
	Parent2Rev         int32
	Node               [NodeSize]byte

	// v2 only:
	SidedataOffset  uint64
	SidedataLength  uint32
	DataCompression CompressionMode
	SidedataCompression CompressionMode
}

// PackHeader builds the 4-byte header word: high 16 bits flags, low 16 bits
// version (spec §3 "Header word").
func PackHeader(flags uint16, version Format) [4]byte {
	word := uint32(flags)<<16 | uint32(version)
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], word)
	return out
}

// UnpackHeader splits a 4-byte header word back into flags and version.
func UnpackHeader(raw [4]byte) (flags uint16, version Format) {
	word := binary.BigEndian.Uint32(raw[:])
	return uint16(word >> 16), Format(word & 0xFFFF)
}

// offsetShift is the width of the per-revision flags field in the low 16
// bits of the 8-byte offset_flags word; the offset sits above it. For
// revision 0 of a v1 index the high 4 bytes (the first 4 bytes of the file)
// carry the header word instead, so the decoded offset is masked to 0.
const offsetShift = 16

// DecodeEntryV1 unpacks one 64-byte v1 record. For rev == 0, the version
// header bits living in the high bytes of offset_flags must be masked out
// before the offset is interpreted (spec §3, §4.B).
func DecodeEntryV1(rev int, raw []byte) (Entry, error) {
	if len(raw) != EntrySizeV1 {
		return Entry{}, fmt.Errorf("revlogindex: v1 entry must be %d bytes, got %d", EntrySizeV1, len(raw))
	}
	offsetFlags := binary.BigEndian.Uint64(raw[0:8])
	flags := uint16(offsetFlags & 0xFFFF)
	offset := offsetFlags >> offsetShift
	if rev == 0 {
		// the high 48 bits carry the version header here, not a real
		// offset. Revision 0's payload starts at 0 of a split data file;
		// for inline storage the caller derives it from the scan offsets.
		offset = 0
	}
	e := Entry{
		Offset:             offset,
		Flags:              flags,
		CompressedLength:   binary.BigEndian.Uint32(raw[8:12]),
		UncompressedLength: int32(binary.BigEndian.Uint32(raw[12:16])),
		BaseRev:            int32(binary.BigEndian.Uint32(raw[16:20])),
		LinkRev:            int32(binary.BigEndian.Uint32(raw[20:24])),
		Parent1Rev:         int32(binary.BigEndian.Uint32(raw[24:28])),
		Parent2Rev:         int32(binary.BigEndian.Uint32(raw[28:32])),
	}
	copy(e.Node[:], raw[32:32+NodeSize])
	return e, nil
}

// EncodeEntryV1 packs an Entry into its 64-byte v1 form. rev0Header, if
// non-nil, is packed into the high 4 bytes of offset_flags (the first 4
// bytes of the record) in place of the offset, while the entry's own flags
// stay in the low 16 bits (only meaningful for revision 0).
func EncodeEntryV1(e Entry, rev int, rev0Header *[4]byte) ([]byte, error) {
	out := make([]byte, EntrySizeV1)
	var offsetFlags uint64
	if rev == 0 && rev0Header != nil {
		header := binary.BigEndian.Uint32(rev0Header[:])
		offsetFlags = uint64(header)<<32 | uint64(e.Flags)
	} else {
		offsetFlags = (e.Offset << offsetShift) | uint64(e.Flags)
	}
	binary.BigEndian.PutUint64(out[0:8], offsetFlags)
	binary.BigEndian.PutUint32(out[8:12], e.CompressedLength)
	binary.BigEndian.PutUint32(out[12:16], uint32(e.UncompressedLength))
	binary.BigEndian.PutUint32(out[16:20], uint32(e.BaseRev))
	binary.BigEndian.PutUint32(out[20:24], uint32(e.LinkRev))
	binary.BigEndian.PutUint32(out[24:28], uint32(e.Parent1Rev))
	binary.BigEndian.PutUint32(out[28:32], uint32(e.Parent2Rev))
	copy(out[32:32+NodeSize], e.Node[:])
	// remaining 12 bytes: zero-padded reserved space (spec §3)
	return out, nil
}

// DecodeEntryV2 unpacks one 96-byte v2 record: the v1 layout plus
// sidedata_offset (8), sidedata_length (4), and a packed compression-mode
// byte (spec §3). v2 entries never carry a header in rev 0 — the version
// lives in the docket (spec §4.B: "the codec refuses to pack a raw header
// into a v2 entry").
func DecodeEntryV2(raw []byte) (Entry, error) {
	if len(raw) != EntrySizeV2 {
		return Entry{}, fmt.Errorf("revlogindex: v2 entry must be %d bytes, got %d", EntrySizeV2, len(raw))
	}
	offsetFlags := binary.BigEndian.Uint64(raw[0:8])
	e := Entry{
		Offset:             offsetFlags >> offsetShift,
		Flags:              uint16(offsetFlags & 0xFFFF),
		CompressedLength:   binary.BigEndian.Uint32(raw[8:12]),
		UncompressedLength: int32(binary.BigEndian.Uint32(raw[12:16])),
		BaseRev:            int32(binary.BigEndian.Uint32(raw[16:20])),
		LinkRev:            int32(binary.BigEndian.Uint32(raw[20:24])),
		Parent1Rev:         int32(binary.BigEndian.Uint32(raw[24:28])),
		Parent2Rev:         int32(binary.BigEndian.Uint32(raw[28:32])),
	}
	copy(e.Node[:], raw[32:32+NodeSize])
	off := 32 + NodeSize
	e.SidedataOffset = binary.BigEndian.Uint64(raw[off : off+8])
	e.SidedataLength = binary.BigEndian.Uint32(raw[off+8 : off+12])
	modeByte := raw[off+12]
	e.DataCompression = CompressionMode(modeByte & 0x3)
	e.SidedataCompression = CompressionMode((modeByte >> 2) & 0x3)
	return e, nil
}

// EncodeEntryV2 packs an Entry into its 96-byte v2 form.
func EncodeEntryV2(e Entry) ([]byte, error) {
	out := make([]byte, EntrySizeV2)
	offsetFlags := (e.Offset << offsetShift) | uint64(e.Flags)
	binary.BigEndian.PutUint64(out[0:8], offsetFlags)
	binary.BigEndian.PutUint32(out[8:12], e.CompressedLength)
	binary.BigEndian.PutUint32(out[12:16], uint32(e.UncompressedLength))
	binary.BigEndian.PutUint32(out[16:20], uint32(e.BaseRev))
	binary.BigEndian.PutUint32(out[20:24], uint32(e.LinkRev))
	binary.BigEndian.PutUint32(out[24:28], uint32(e.Parent1Rev))
	binary.BigEndian.PutUint32(out[28:32], uint32(e.Parent2Rev))
	copy(out[32:32+NodeSize], e.Node[:])
	off := 32 + NodeSize
	binary.BigEndian.PutUint64(out[off:off+8], e.SidedataOffset)
	binary.BigEndian.PutUint32(out[off+8:off+12], e.SidedataLength)
	out[off+12] = byte(e.DataCompression&0x3) | byte((e.SidedataCompression&0x3)<<2)
	return out, nil
}

// ScanInline walks an inline index+data stream (entries and payloads
// interleaved) entry by entry, using each entry's compressed_length (v1) or
// compressed_length+sidedata_length (v2) to compute the start offset of
// the next entry. It fails with an error if the walk does not land exactly
// on len(data) (spec §4.B: "fails with CorruptIndex if the walk does not
// end exactly at len(bytes)").
func ScanInline(data []byte, entrySize int, v2 bool) ([]int, error) {
	var offsets []int
	pos := 0
	for pos < len(data) {
		if pos+entrySize > len(data) {
			return nil, fmt.Errorf("revlogindex: inline scan: truncated entry at offset %d", pos)
		}
		offsets = append(offsets, pos)
		raw := data[pos : pos+entrySize]
		var compLen uint32
		var sideLen uint32
		if v2 {
			e, err := DecodeEntryV2(raw)
			if err != nil {
				return nil, err
			}
			compLen = e.CompressedLength
			sideLen = e.SidedataLength
		} else {
			e, err := DecodeEntryV1(len(offsets)-1, raw)
			if err != nil {
				return nil, err
			}
			compLen = e.CompressedLength
		}
		pos += entrySize + int(compLen) + int(sideLen)
	}
	if pos != len(data) {
		return nil, fmt.Errorf("revlogindex: inline scan overrun: ended at %d, expected %d", pos, len(data))
	}
	return offsets, nil
}
