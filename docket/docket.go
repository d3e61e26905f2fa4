// Package docket implements the v2 revlog pointer file (spec §3, §4.C): a
// small file naming the current index/data segment UUIDs and their valid
// lengths, with a pending (uncommitted) tail. It is grounded on
// mercurial/revlogutils/docket.py (see _examples/original_source) for the
// field layout and atomic-write/pending semantics, and on
// github.com/google/uuid (as used by the dolthub/noms content-addressed
// chunk store in the retrieval pack) for the random UUID suffixes.
package docket

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rcowham/revlogstore/revlogindex"
	"github.com/rcowham/revlogstore/txn"
	"github.com/rcowham/revlogstore/vfs"
)

// fixedHeaderSize is the docket's fixed-layout portion: 4-byte version
// header, 1-byte index-UUID length, 1-byte data-UUID length, four 8-byte
// lengths (official/pending index, official/pending data), and a 1-byte
// default compression code (spec §3 "Docket (v2 only)").
const fixedHeaderSize = 4 + 1 + 1 + 8 + 8 + 8 + 8 + 1

// UIDSource generates a docket UUID suffix; overridable so tests (and
// golden-file comparisons) get reproducible names (see SPEC_FULL.md
// supplement 1).
type UIDSource func() string

func defaultUIDSource() string {
	return uuid.New().String()
}

// Docket is the in-memory, possibly-dirty form of a v2 pointer file.
type Docket struct {
	radix              string
	version            revlogindex.Format
	flags              uint16
	defaultCompression byte

	indexUUID string
	dataUUID  string

	officialIndexEnd int64
	pendingIndexEnd  int64
	officialDataEnd  int64
	pendingDataEnd   int64

	dirty     bool
	uidSource UIDSource
}

// New creates a fresh docket for radix with unset UUIDs — they are
// allocated on first IndexPath/DataPath call (spec §4.C: "new(version,
// default_compression) → Docket: fresh object with unset UUIDs").
func New(radix string, version revlogindex.Format, flags uint16, defaultCompression byte, uidSource UIDSource) *Docket {
	if uidSource == nil {
		uidSource = defaultUIDSource
	}
	return &Docket{
		radix:              radix,
		version:            version,
		flags:              flags,
		defaultCompression: defaultCompression,
		uidSource:          uidSource,
		dirty:              true,
	}
}

// IndexPath returns "<radix>-<uuid>.idx", allocating a fresh UUID suffix on
// first call so that concurrent readers keep seeing the old files even
// after a rewrite (spec §4.C).
func (d *Docket) IndexPath() string {
	if d.indexUUID == "" {
		d.indexUUID = d.uidSource()
	}
	return fmt.Sprintf("%s-%s.idx", d.radix, d.indexUUID)
}

// DataPath returns "<radix>-<uuid>.dat", same allocation rule as IndexPath.
func (d *Docket) DataPath() string {
	if d.dataUUID == "" {
		d.dataUUID = d.uidSource()
	}
	return fmt.Sprintf("%s-%s.dat", d.radix, d.dataUUID)
}

func (d *Docket) docketPath() string { return d.radix + ".n" }

// SetIndexEnd dirties the docket and sets the in-memory index length.
func (d *Docket) SetIndexEnd(n int64) {
	d.pendingIndexEnd = n
	d.dirty = true
}

// SetDataEnd dirties the docket and sets the in-memory data length.
func (d *Docket) SetDataEnd(n int64) {
	d.pendingDataEnd = n
	d.dirty = true
}

// OfficialIndexEnd, OfficialDataEnd are the lengths visible to readers
// outside the writing transaction.
func (d *Docket) OfficialIndexEnd() int64 { return d.officialIndexEnd }
func (d *Docket) OfficialDataEnd() int64  { return d.officialDataEnd }

// Format and Flags expose the header word fields for revlog.Open.
func (d *Docket) Format() revlogindex.Format { return d.version }
func (d *Docket) Flags() uint16              { return d.flags }

// ResetPendingToOfficial discards any in-memory pending growth, used by
// Revlog on transaction abort to make the next Write serialize the old,
// pre-transaction lengths (spec §4.D: "for v2, rewrite the docket with the
// old official ends").
func (d *Docket) ResetPendingToOfficial() {
	d.pendingIndexEnd = d.officialIndexEnd
	d.pendingDataEnd = d.officialDataEnd
	d.dirty = true
}

// PendingIndexEnd, PendingDataEnd are the in-memory, not-yet-committed
// lengths.
func (d *Docket) PendingIndexEnd() int64 { return d.pendingIndexEnd }
func (d *Docket) PendingDataEnd() int64  { return d.pendingDataEnd }

// Dirty reports whether the docket has unwritten changes.
func (d *Docket) Dirty() bool { return d.dirty }

// checkInvariant enforces spec §4.C: official_index_end <= pending_index_end
// <= physical_index_file_size (same for data). Violations are Programming
// errors, never surfaced to end users.
func (d *Docket) checkInvariant(fs vfs.VFS) error {
	if d.officialIndexEnd > d.pendingIndexEnd {
		return fmt.Errorf("docket: programming error: official index end %d exceeds pending %d", d.officialIndexEnd, d.pendingIndexEnd)
	}
	if d.officialDataEnd > d.pendingDataEnd {
		return fmt.Errorf("docket: programming error: official data end %d exceeds pending %d", d.officialDataEnd, d.pendingDataEnd)
	}
	if d.indexUUID != "" {
		if info, err := fs.Stat(d.IndexPath()); err == nil && d.pendingIndexEnd > info.Size {
			return fmt.Errorf("docket: programming error: pending index end %d exceeds physical size %d", d.pendingIndexEnd, info.Size)
		}
	}
	return nil
}

// Write serializes and atomically writes the docket if dirty (spec §4.C).
// Returns false with no error if the docket was not dirty. When pending is
// true, the on-disk official ends stay at their previous values and only
// the pending ends advance, so readers outside this transaction keep
// seeing the old valid range; the in-memory docket stays dirty afterward
// so a later promotion write is still pending (mirrors docket.py's
// `self._dirty = pending`).
func (d *Docket) Write(tr *txn.Transaction, fs vfs.VFS, pending bool, stripping bool) (bool, error) {
	if !d.dirty {
		return false, nil
	}
	if err := d.checkInvariant(fs); err != nil {
		return false, err
	}
	if !stripping && fs.Exists(d.docketPath()) {
		backupPath := d.docketPath() + ".backup"
		if err := copyFile(fs, d.docketPath(), backupPath); err != nil {
			return false, fmt.Errorf("docket: backup failed: %w", err)
		}
		tr.AddBackup(d.docketPath(), backupPath)
	}

	serialized := d.serialize(pending)
	af, err := fs.OpenAtomic(d.docketPath())
	if err != nil {
		return false, fmt.Errorf("docket: open atomic: %w", err)
	}
	if _, err := af.Write(serialized); err != nil {
		af.Discard()
		return false, fmt.Errorf("docket: write: %w", err)
	}
	if err := af.Commit(); err != nil {
		return false, fmt.Errorf("docket: commit: %w", err)
	}

	if !pending {
		d.officialIndexEnd = d.pendingIndexEnd
		d.officialDataEnd = d.pendingDataEnd
	}
	d.dirty = pending
	return true, nil
}

// serialize packs the docket per spec §3: header, UUID-length bytes, four
// lengths, compression byte, then the two UUID strings.
func (d *Docket) serialize(pending bool) []byte {
	// pending=true: official stays at its last-committed value, only the
	// pending field advances, so outside readers see the old range.
	// pending=false: this write promotes pending -> official; both
	// fields end up equal.
	indexEnd, pendIndexEnd := d.officialIndexEnd, d.pendingIndexEnd
	dataEnd, pendDataEnd := d.officialDataEnd, d.pendingDataEnd
	if !pending {
		indexEnd = d.pendingIndexEnd
		dataEnd = d.pendingDataEnd
	}

	out := make([]byte, fixedHeaderSize, fixedHeaderSize+len(d.indexUUID)+len(d.dataUUID))
	header := revlogindex.PackHeader(d.flags, d.version)
	copy(out[0:4], header[:])
	out[4] = byte(len(d.indexUUID))
	out[5] = byte(len(d.dataUUID))
	binary.BigEndian.PutUint64(out[6:14], uint64(indexEnd))
	binary.BigEndian.PutUint64(out[14:22], uint64(pendIndexEnd))
	binary.BigEndian.PutUint64(out[22:30], uint64(dataEnd))
	binary.BigEndian.PutUint64(out[30:38], uint64(pendDataEnd))
	out[38] = d.defaultCompression
	out = append(out, []byte(d.indexUUID)...)
	out = append(out, []byte(d.dataUUID)...)
	return out
}

// Load parses a serialized docket back into memory.
func Load(radix string, raw []byte, uidSource UIDSource) (*Docket, error) {
	if len(raw) < fixedHeaderSize {
		return nil, fmt.Errorf("docket: truncated header: need %d bytes, got %d", fixedHeaderSize, len(raw))
	}
	var header [4]byte
	copy(header[:], raw[0:4])
	flags, version := revlogindex.UnpackHeader(header)

	indexUUIDLen := int(raw[4])
	dataUUIDLen := int(raw[5])
	officialIndexEnd := int64(binary.BigEndian.Uint64(raw[6:14]))
	pendingIndexEnd := int64(binary.BigEndian.Uint64(raw[14:22]))
	officialDataEnd := int64(binary.BigEndian.Uint64(raw[22:30]))
	pendingDataEnd := int64(binary.BigEndian.Uint64(raw[30:38]))
	defaultCompression := raw[38]

	want := fixedHeaderSize + indexUUIDLen + dataUUIDLen
	if len(raw) != want {
		return nil, fmt.Errorf("docket: length mismatch: want %d bytes, got %d", want, len(raw))
	}
	indexUUID := string(raw[fixedHeaderSize : fixedHeaderSize+indexUUIDLen])
	dataUUID := string(raw[fixedHeaderSize+indexUUIDLen : want])

	if uidSource == nil {
		uidSource = defaultUIDSource
	}
	return &Docket{
		radix:              radix,
		version:            version,
		flags:              flags,
		defaultCompression: defaultCompression,
		indexUUID:          indexUUID,
		dataUUID:           dataUUID,
		officialIndexEnd:   officialIndexEnd,
		pendingIndexEnd:    pendingIndexEnd,
		officialDataEnd:    officialDataEnd,
		pendingDataEnd:     pendingDataEnd,
		uidSource:          uidSource,
		dirty:              false,
	}, nil
}

// LoadFromVFS reads and parses the docket file for radix.
func LoadFromVFS(fs vfs.VFS, radix string, uidSource UIDSource) (*Docket, error) {
	r, err := fs.Open(radix + ".n")
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("docket: read %s: %w", radix+".n", err)
	}
	return Load(radix, buf, uidSource)
}

func copyFile(fs vfs.VFS, src, dst string) error {
	r, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
