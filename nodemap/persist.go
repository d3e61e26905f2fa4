package nodemap

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rcowham/revlogstore/vfs"
)

// persistHeaderSize is the fixed prefix of a .nd file: the block count and
// rev count the base blob was written with, and the base blob's byte
// length (needed because SerializeFull's output is no longer a fixed
// multiple of blockRecordSize now that it carries a node table), followed
// by that many bytes of base blob, followed by an optional incremental
// tail (spec §4.A persistent form: "a full blob and an append-only
// incremental tail").
const persistHeaderSize = 12

// Persister decides, on each save, whether to rewrite the whole persisted
// node map or append an incremental tail onto the existing base, trading
// write cost against file growth (spec §4.A marks the exact threshold
// unspecified; see DESIGN.md).
type Persister struct {
	// FragmentationRatio is the growth-since-base fraction past which Save
	// rewrites the file in full rather than appending another tail.
	FragmentationRatio float64
}

// NewPersister returns a Persister using ratio, or 0.25 if ratio is <= 0.
func NewPersister(ratio float64) *Persister {
	if ratio <= 0 {
		ratio = 0.25
	}
	return &Persister{FragmentationRatio: ratio}
}

// Save writes nm to path. baseBlockCount/baseRevCount are the block and
// node counts the file at path was last written with (0 if the file
// doesn't exist yet or a full rewrite is being forced); it returns the new
// base counts to pass in on the next call.
func (p *Persister) Save(fs vfs.VFS, path string, nm *NodeMap, baseBlockCount, baseRevCount int) (int, int, error) {
	full := baseBlockCount <= 0
	if !full {
		grown := nm.BlockCount() - baseBlockCount
		full = float64(grown)/float64(baseBlockCount) > p.FragmentationRatio
	}
	if !full {
		// an incremental tail replaces only the root block, so a change to
		// any other base block since the base was written forces a full blob.
		onDisk, err := p.readBase(fs, path)
		if err != nil {
			return 0, 0, err
		}
		base, err := LoadFull(onDisk)
		if err != nil {
			return 0, 0, err
		}
		for i := 1; i < baseBlockCount && i < len(base.blocks); i++ {
			full = full || base.blocks[i] != nm.blocks[i]
		}
	}

	af, err := fs.OpenAtomic(path)
	if err != nil {
		return 0, 0, err
	}

	var newBlockCount, newRevCount int
	var baseBlob, tail []byte
	if full {
		newBlockCount = nm.BlockCount()
		newRevCount = nm.Len()
		baseBlob = nm.SerializeFull()
	} else {
		newBlockCount = baseBlockCount
		newRevCount = baseRevCount
		baseBlob, err = p.readBase(fs, path)
		if err != nil {
			af.Discard()
			return 0, 0, err
		}
		tail = nm.SerializeIncremental(baseBlockCount, baseRevCount)
	}

	header := make([]byte, persistHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(newBlockCount))
	binary.BigEndian.PutUint32(header[4:8], uint32(newRevCount))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(baseBlob)))
	payload := append(header, baseBlob...)
	payload = append(payload, tail...)

	if _, err := af.Write(payload); err != nil {
		af.Discard()
		return 0, 0, err
	}
	if err := af.Close(); err != nil {
		af.Discard()
		return 0, 0, err
	}
	if err := af.Commit(); err != nil {
		return 0, 0, err
	}
	return newBlockCount, newRevCount, nil
}

// readBase re-reads the on-disk base blob bytes of the file currently at
// path, so an incremental Save can carry it forward unchanged alongside
// the new tail.
func (p *Persister) readBase(fs vfs.VFS, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(raw) < persistHeaderSize {
		return nil, fmt.Errorf("nodemap: persisted file shorter than its header")
	}
	baseLen := int(binary.BigEndian.Uint32(raw[8:12]))
	if len(raw) < persistHeaderSize+baseLen {
		return nil, fmt.Errorf("nodemap: persisted file shorter than its recorded base")
	}
	return raw[persistHeaderSize : persistHeaderSize+baseLen], nil
}

// Load reconstructs a NodeMap from path, returning its current base block
// and rev counts for use in a subsequent Save call. A missing file returns
// an empty map and zero counts.
func (p *Persister) Load(fs vfs.VFS, path string) (*NodeMap, int, int, error) {
	if !fs.Exists(path) {
		return New(), 0, 0, nil
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(raw) < persistHeaderSize {
		return nil, 0, 0, fmt.Errorf("nodemap: persisted file %s truncated", path)
	}
	baseBlockCount := int(binary.BigEndian.Uint32(raw[0:4]))
	baseRevCount := int(binary.BigEndian.Uint32(raw[4:8]))
	baseLen := int(binary.BigEndian.Uint32(raw[8:12]))
	rest := raw[persistHeaderSize:]
	if len(rest) < baseLen {
		return nil, 0, 0, fmt.Errorf("nodemap: persisted file %s shorter than its base", path)
	}
	base := rest[:baseLen]
	tail := rest[baseLen:]
	if len(tail) == 0 {
		nm, err := LoadFull(base)
		return nm, baseBlockCount, baseRevCount, err
	}
	nm, err := LoadIncremental(base, tail)
	return nm, baseBlockCount, baseRevCount, err
}
