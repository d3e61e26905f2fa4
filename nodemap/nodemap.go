// Package nodemap implements the in-memory and persistent node→revision
// map (spec §3, §4.A): a radix trie over node hex nibbles, 16 slots per
// block, each slot either empty, a terminal revision, or a pointer to
// another block. It is grounded on the fixed-record binary table idioms
// retrieved from go-git's index codec and the append-only segment store in
// quadgatefoundation-fluxor's appendlog, generalized from byte offsets to
// nibble-indexed trie blocks.
package nodemap

import (
	"encoding/binary"
	"fmt"

	"github.com/rcowham/revlogstore/rlhash"
)

// Rev is a revision number; -1 denotes the null revision.
type Rev int32

const NullRev Rev = -1

// slot encodes one of a block's 16 children: 0 means empty, a positive
// value (rev+1) is a terminal leaf, a negative value is -(blockIndex+1),
// pointing at another block.
type slot int32

const emptySlot slot = 0

func (s slot) isEmpty() bool     { return s == emptySlot }
func (s slot) isTerminal() bool  { return s > 0 }
func (s slot) isBlockPtr() bool  { return s < 0 }
func (s slot) rev() Rev          { return Rev(int32(s) - 1) }
func (s slot) blockIndex() int   { return int(-s) - 1 }
func terminalSlot(r Rev) slot    { return slot(int32(r) + 1) }
func blockPtrSlot(idx int) slot  { return slot(-(idx + 1)) }

type block [16]slot

// NodeMap is the in-memory node→revision map.
type NodeMap struct {
	blocks []block        // blocks[0] is the root
	nodes  []rlhash.Node  // nodes[rev] caches the node for rev, for split-on-insert
}

// New returns an empty node map.
func New() *NodeMap {
	nm := &NodeMap{blocks: make([]block, 1)}
	return nm
}

func nibble(n rlhash.Node, i int) int {
	b := n[i/2]
	if i%2 == 0 {
		return int(b >> 4)
	}
	return int(b & 0x0F)
}

// HasNode reports whether node is present.
func (nm *NodeMap) HasNode(node rlhash.Node) bool {
	_, ok := nm.GetRev(node)
	return ok
}

// Rev returns the revision for node, or an error if absent (spec §4.A:
// "fails with UnknownNode if absent").
func (nm *NodeMap) Rev(node rlhash.Node) (Rev, error) {
	r, ok := nm.GetRev(node)
	if !ok {
		return NullRev, fmt.Errorf("nodemap: unknown node %s", node.Hex())
	}
	return r, nil
}

// GetRev returns the revision for node and whether it was found.
func (nm *NodeMap) GetRev(node rlhash.Node) (Rev, bool) {
	blockIdx := 0
	for depth := 0; depth < rlhash.Size*2; depth++ {
		s := nm.blocks[blockIdx][nibble(node, depth)]
		switch {
		case s.isEmpty():
			return NullRev, false
		case s.isTerminal():
			// a terminal only proves a shared prefix; confirm the full node.
			r := s.rev()
			if int(r) < len(nm.nodes) && nm.nodes[r] == node {
				return r, true
			}
			return NullRev, false
		default:
			blockIdx = s.blockIndex()
		}
	}
	return NullRev, false
}

// Append inserts node -> rev. It panics if node is already mapped to a
// different revision, matching spec §4.A's invariant I7 (node uniqueness)
// — this is a programming error in the caller, not an operator condition.
// Revisions are assigned densely in append order (invariant I1), so nodes
// is grown to rev+1 as a side effect.
func (nm *NodeMap) Append(node rlhash.Node, rev Rev) {
	if int(rev) >= len(nm.nodes) {
		grown := make([]rlhash.Node, rev+1)
		copy(grown, nm.nodes)
		nm.nodes = grown
	}
	nm.nodes[rev] = node
	nm.insert(0, 0, node, rev)
}

// insert descends the trie from (blockIdx, depth) looking for where node
// belongs, splitting a terminal slot into a new block when a different
// node already occupies the path.
func (nm *NodeMap) insert(blockIdx, depth int, node rlhash.Node, rev Rev) {
	for {
		n := nibble(node, depth)
		s := nm.blocks[blockIdx][n]
		switch {
		case s.isEmpty():
			nm.blocks[blockIdx][n] = terminalSlot(rev)
			return
		case s.isTerminal():
			existingRev := s.rev()
			existingNode := nm.nodes[existingRev]
			if existingNode == node {
				if existingRev == rev {
					return
				}
				panic(fmt.Sprintf("nodemap: node %s already mapped to rev %d, cannot append rev %d", node.Hex(), existingRev, rev))
			}
			newBlockIdx := nm.growBlock()
			nm.blocks[blockIdx][n] = blockPtrSlot(newBlockIdx)
			nm.insert(newBlockIdx, depth+1, existingNode, existingRev)
			nm.insert(newBlockIdx, depth+1, node, rev)
			return
		default:
			blockIdx = s.blockIndex()
			depth++
		}
	}
}

// StripFrom removes all entries for revisions >= rev by rebuilding the trie
// from the node map's own rev->node cache (spec §4.A: "remove all entries
// for revisions >= rev"). Returns a fresh NodeMap; the receiver is
// unmodified.
func (nm *NodeMap) StripFrom(rev Rev) *NodeMap {
	out := New()
	for r := Rev(0); int(r) < len(nm.nodes) && r < rev; r++ {
		out.Append(nm.nodes[r], r)
	}
	return out
}

// ClearCache is a no-op for this in-memory implementation (spec §4.A names
// it for parity with the source's lazy-loading caches).
func (nm *NodeMap) ClearCache() {}

// PrefixLookup resolves a short hex-nibble prefix (spec §4.A). It returns
// the unique matching revision, ErrAmbiguousPrefix if >=2 candidates share
// the prefix, or an error if none match.
func (nm *NodeMap) PrefixLookup(hexPrefix string) (Rev, error) {
	if len(hexPrefix) == 0 {
		return NullRev, fmt.Errorf("nodemap: empty prefix")
	}
	nibbles := make([]int, len(hexPrefix))
	for i, c := range hexPrefix {
		v, err := hexNibble(byte(c))
		if err != nil {
			return NullRev, fmt.Errorf("nodemap: invalid prefix %q: %w", hexPrefix, err)
		}
		nibbles[i] = v
	}
	blockIdx := 0
	for depth, n := range nibbles {
		s := nm.blocks[blockIdx][n]
		switch {
		case s.isEmpty():
			return NullRev, errUnknownPrefix(hexPrefix)
		case s.isTerminal():
			// a terminal reached before the prefix is exhausted is the
			// only candidate: every longer node sharing this prefix would
			// have forced a split into a deeper block. It matches only if
			// its remaining nibbles agree with the rest of the prefix.
			r := s.rev()
			for i := depth + 1; i < len(nibbles); i++ {
				if int(r) >= len(nm.nodes) || nibble(nm.nodes[r], i) != nibbles[i] {
					return NullRev, errUnknownPrefix(hexPrefix)
				}
			}
			return r, nil
		default:
			blockIdx = s.blockIndex()
		}
	}
	// we consumed the whole prefix and landed on an internal block: if it
	// has exactly one non-empty descendant chain, it's unique; otherwise
	// ambiguous. Walk down collecting leaves until unique or >1 found.
	revs := collectLeaves(nm.blocks, blockIdx, 2)
	switch len(revs) {
	case 0:
		return NullRev, errUnknownPrefix(hexPrefix)
	case 1:
		return revs[0], nil
	default:
		return NullRev, ErrAmbiguousPrefix{Prefix: hexPrefix}
	}
}

func collectLeaves(blocks []block, idx int, limit int) []Rev {
	var out []Rev
	var walk func(i int)
	walk = func(i int) {
		for _, s := range blocks[i] {
			if len(out) >= limit {
				return
			}
			switch {
			case s.isTerminal():
				out = append(out, s.rev())
			case s.isBlockPtr():
				walk(s.blockIndex())
			}
		}
	}
	walk(idx)
	return out
}

func hexNibble(c byte) (int, error) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, nil
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, nil
	default:
		return 0, fmt.Errorf("not a hex digit: %q", c)
	}
}

// ErrAmbiguousPrefix is returned when a prefix matches more than one node.
type ErrAmbiguousPrefix struct{ Prefix string }

func (e ErrAmbiguousPrefix) Error() string {
	return fmt.Sprintf("nodemap: ambiguous prefix %q", e.Prefix)
}

type errUnknownPrefixT struct{ prefix string }

func (e errUnknownPrefixT) Error() string { return fmt.Sprintf("nodemap: no node matches prefix %q", e.prefix) }
func errUnknownPrefix(p string) error     { return errUnknownPrefixT{prefix: p} }

// --- persistence -----------------------------------------------------

// blockRecordSize is the on-disk size of one trie block: 16 slots * 4
// bytes each, big-endian, mirroring the fixed-width index entry encoding.
const blockRecordSize = 16 * 4

func encodeBlock(b block) []byte {
	out := make([]byte, blockRecordSize)
	for i, s := range b {
		binary.BigEndian.PutUint32(out[i*4:i*4+4], uint32(int32(s)))
	}
	return out
}

func decodeBlock(raw []byte) (block, error) {
	if len(raw) != blockRecordSize {
		return block{}, fmt.Errorf("nodemap: block must be %d bytes, got %d", blockRecordSize, len(raw))
	}
	var b block
	for i := range b {
		b[i] = slot(int32(binary.BigEndian.Uint32(raw[i*4 : i*4+4])))
	}
	return b, nil
}

// nodeTableHeaderSize is the width of the rev->node table's length prefix
// carried at the front of every serialized blob, so a loader can recover
// nodes (and therefore Len) without any side-channel from the caller.
const nodeTableHeaderSize = 4

func encodeNodeTable(nodes []rlhash.Node) []byte {
	out := make([]byte, nodeTableHeaderSize, nodeTableHeaderSize+len(nodes)*rlhash.Size)
	binary.BigEndian.PutUint32(out, uint32(len(nodes)))
	for _, n := range nodes {
		out = append(out, n[:]...)
	}
	return out
}

// decodeNodeTable reads a node table from the front of raw and returns the
// decoded nodes along with the remaining, unconsumed bytes.
func decodeNodeTable(raw []byte) (nodes []rlhash.Node, rest []byte, err error) {
	if len(raw) < nodeTableHeaderSize {
		return nil, nil, fmt.Errorf("nodemap: blob truncated before node table header")
	}
	count := int(binary.BigEndian.Uint32(raw[:nodeTableHeaderSize]))
	end := nodeTableHeaderSize + count*rlhash.Size
	if len(raw) < end {
		return nil, nil, fmt.Errorf("nodemap: blob shorter than its node table (%d nodes)", count)
	}
	nodes = make([]rlhash.Node, count)
	for i := 0; i < count; i++ {
		copy(nodes[i][:], raw[nodeTableHeaderSize+i*rlhash.Size:nodeTableHeaderSize+(i+1)*rlhash.Size])
	}
	return nodes, raw[end:], nil
}

// SerializeFull serializes the entire trie as a rev->node table followed by
// a sequence of fixed-width blocks (spec §4.A persistent form, blob 1). The
// node table lets a loader recover Len() and Rev() without replaying the
// index, which is the whole point of persisting this map.
func (nm *NodeMap) SerializeFull() []byte {
	out := encodeNodeTable(nm.nodes)
	for _, b := range nm.blocks {
		out = append(out, encodeBlock(b)...)
	}
	return out
}

// SerializeIncremental returns a blob extending an existing base of
// baseBlockCount blocks and baseRevCount nodes: the nodes appended past
// baseRevCount, a replacement of the root block, and any blocks added since
// baseBlockCount (spec §4.A persistent form, blob 2). Layout: [node table
// for nodes[baseRevCount:]][replacement root block][new blocks in
// block-index order]. Changes to base blocks other than the root are not
// carried; Persister.Save writes a full blob when any occurred.
func (nm *NodeMap) SerializeIncremental(baseBlockCount, baseRevCount int) []byte {
	out := encodeNodeTable(nm.nodes[baseRevCount:])
	out = append(out, encodeBlock(nm.blocks[0])...)
	for i := baseBlockCount; i < len(nm.blocks); i++ {
		out = append(out, encodeBlock(nm.blocks[i])...)
	}
	return out
}

// LoadFull reconstructs a NodeMap from a full blob produced by
// SerializeFull.
func LoadFull(data []byte) (*NodeMap, error) {
	nodes, blockData, err := decodeNodeTable(data)
	if err != nil {
		return nil, err
	}
	if len(blockData)%blockRecordSize != 0 {
		return nil, fmt.Errorf("nodemap: full blob block section length %d not a multiple of block size %d", len(blockData), blockRecordSize)
	}
	count := len(blockData) / blockRecordSize
	nm := &NodeMap{blocks: make([]block, count), nodes: nodes}
	for i := 0; i < count; i++ {
		b, err := decodeBlock(blockData[i*blockRecordSize : (i+1)*blockRecordSize])
		if err != nil {
			return nil, err
		}
		nm.blocks[i] = b
	}
	return nm, nil
}

// LoadIncremental reconstructs a NodeMap by combining a full base blob with
// an incremental tail blob: the tail's node table extends the base's nodes,
// its first block replaces the base's root, and the remaining tail blocks
// are appended (spec §4.A: "Readers must be able to combine a base block
// file with an append-only tail").
func LoadIncremental(baseFull, incrementalTail []byte) (*NodeMap, error) {
	base, err := LoadFull(baseFull)
	if err != nil {
		return nil, fmt.Errorf("nodemap: bad base blob: %w", err)
	}
	newNodes, rest, err := decodeNodeTable(incrementalTail)
	if err != nil {
		return nil, fmt.Errorf("nodemap: bad incremental tail: %w", err)
	}
	base.nodes = append(base.nodes, newNodes...)
	if len(rest) < blockRecordSize {
		return nil, fmt.Errorf("nodemap: incremental tail shorter than one block")
	}
	if len(rest)%blockRecordSize != 0 {
		return nil, fmt.Errorf("nodemap: incremental tail block section length %d not a multiple of block size %d", len(rest), blockRecordSize)
	}
	root, err := decodeBlock(rest[:blockRecordSize])
	if err != nil {
		return nil, err
	}
	base.blocks[0] = root
	for off := blockRecordSize; off < len(rest); off += blockRecordSize {
		b, err := decodeBlock(rest[off : off+blockRecordSize])
		if err != nil {
			return nil, err
		}
		base.blocks = append(base.blocks, b)
	}
	return base, nil
}

// BlockCount reports how many fixed-width blocks this map currently
// occupies, used by the Persister to decide full-vs-incremental writes.
func (nm *NodeMap) BlockCount() int { return len(nm.blocks) }

// Len reports how many revisions this map has entries for, used to check a
// persisted blob is current before trusting it in place of a rebuild.
func (nm *NodeMap) Len() int { return len(nm.nodes) }

// growBlock allocates a new block and returns its index, used internally
// when a terminal slot must split into a deeper block.
func (nm *NodeMap) growBlock() int {
	nm.blocks = append(nm.blocks, block{})
	return len(nm.blocks) - 1
}
