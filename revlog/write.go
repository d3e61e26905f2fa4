package revlog

import (
	"github.com/rcowham/revlogstore/compression"
	"github.com/rcowham/revlogstore/revlogindex"
	"github.com/rcowham/revlogstore/rlerrors"
	"github.com/rcowham/revlogstore/rlhash"
	"github.com/rcowham/revlogstore/txn"
)

// DeltaMode selects how AddRevision picks a base revision to delta against
// (spec §4.D "Delta-selection policies", SPEC_FULL.md DeltaReuseMode).
type DeltaMode int

const (
	DeltaFullAdd DeltaMode = iota
	DeltaSameRevs
	DeltaNoDelta
	DeltaAlways
)

// AddRevision appends a new revision with the given text, parents, link
// revision, flags and sidedata, returning its assigned revision number. If a
// revision with the same node already exists:
//   - with the same parents, this is a no-op success returning the existing
//     revision (idempotent re-add, matches callers that re-stream content
//     they already have);
//   - with different parents, this is a fatal DuplicateNode error (spec §4.D
//     invariant I7).
func (rl *Revlog) AddRevision(tr *txn.Transaction, text []byte, p1, p2 Rev, linkRev int, sidedata []byte, flags uint16, mode DeltaMode) (Rev, error) {
	if flags&^knownFlags != 0 {
		return NullRev, &rlerrors.CorruptRevlog{Detail: "unknown flag bits set"}
	}

	hashInput := text
	if proc, ok := rl.flagProcessors[flags&knownFlags]; ok && proc.Write != nil {
		out, useRaw, err := proc.Write(text)
		if err != nil {
			return NullRev, err
		}
		text = out
		if !useRaw {
			hashInput = out
		}
	}

	node := rl.opts.Hasher.Hash(rl.revNode(p1), rl.revNode(p2), hashInput)
	if existing, ok := rl.nodes.GetRev(node); ok {
		e := rl.entries[existing]
		if Rev(e.Parent1Rev) == p1 && Rev(e.Parent2Rev) == p2 {
			return existing, nil
		}
		return NullRev, &rlerrors.DuplicateNode{Node: node.Hex()}
	}

	rev := Rev(len(rl.entries))
	base, payload := rl.selectDeltaBase(rev, text, p1, p2, mode)

	engine, err := rl.opts.Compression.ByName(rl.opts.CompressionEngine)
	if err != nil {
		return NullRev, err
	}
	compressed, err := engine.Compress(payload)
	if err != nil {
		return NullRev, &rlerrors.CorruptRevlog{Detail: "compress rev " + itoa(int(rev)), Cause: err}
	}
	if len(compressed) >= len(payload)+1 {
		// compression didn't help: store raw behind the "none" marker.
		none, _ := rl.opts.Compression.Engine(compression.MarkerNone)
		compressed, _ = none.Compress(payload)
	}

	e := revlogindex.Entry{
		Flags:              flags,
		CompressedLength:   uint32(len(compressed)),
		UncompressedLength: int32(len(text)),
		BaseRev:            int32(base),
		LinkRev:            int32(linkRev),
		Parent1Rev:         int32(p1),
		Parent2Rev:         int32(p2),
		Node:               node,
	}
	if len(sidedata) > 0 {
		e.SidedataLength = uint32(len(sidedata))
		e.Flags |= FlagHasSideData
	}

	if err := rl.writeEntry(tr, rev, &e, compressed, sidedata); err != nil {
		return NullRev, err
	}

	rl.entries = append(rl.entries, e)
	rl.nodes.Append(node, rev)
	return rev, nil
}

// writeEntry lays the index record and its payload(s) onto storage,
// respecting the ordering the chosen layout requires: inline storage packs
// header, payload, and sidedata back to back in the single index file (so
// ScanInline can walk them); split storage writes header and payload to
// separate files and an entry's offset refers only to the data file.
func (rl *Revlog) writeEntry(tr *txn.Transaction, rev Rev, e *revlogindex.Entry, payload, sidedata []byte) error {
	if rl.inline {
		curLen, err := rl.statOrZero(rl.indexPath)
		if err != nil {
			return err
		}
		if err := rl.registerUndoOnce(tr, rl.indexPath, curLen); err != nil {
			return err
		}
		e.Offset = uint64(curLen) + uint64(rl.entrySize)
		if len(sidedata) > 0 {
			e.SidedataOffset = e.Offset + uint64(len(payload))
		}
		raw, err := rl.encodeEntry(rev, *e)
		if err != nil {
			return err
		}
		f, err := rl.fs.OpenAppend(rl.indexPath)
		if err != nil {
			return &rlerrors.IO{Source: err}
		}
		defer f.Close()
		if _, err := f.Write(raw); err != nil {
			return &rlerrors.IO{Source: err}
		}
		if _, err := f.Write(payload); err != nil {
			return &rlerrors.IO{Source: err}
		}
		if len(sidedata) > 0 {
			if _, err := f.Write(sidedata); err != nil {
				return &rlerrors.IO{Source: err}
			}
		}
		return nil
	}

	dataLen, err := rl.statOrZero(rl.dataPath)
	if err != nil {
		return err
	}
	// v2: bytes past the docket's pending ends were orphaned by an abort or
	// strip; reclaim them before appending so they never become visible.
	if rl.docket != nil && dataLen > rl.docket.PendingDataEnd() {
		dataLen = rl.docket.PendingDataEnd()
		if err := rl.fs.Truncate(rl.dataPath, dataLen); err != nil {
			return &rlerrors.IO{Source: err}
		}
	}
	if err := rl.registerUndoOnce(tr, rl.dataPath, dataLen); err != nil {
		return err
	}
	e.Offset = uint64(dataLen)
	if len(sidedata) > 0 {
		e.SidedataOffset = uint64(dataLen) + uint64(len(payload))
	}
	df, err := rl.fs.OpenAppend(rl.dataPath)
	if err != nil {
		return &rlerrors.IO{Source: err}
	}
	if _, err := df.Write(payload); err != nil {
		df.Close()
		return &rlerrors.IO{Source: err}
	}
	if len(sidedata) > 0 {
		if _, err := df.Write(sidedata); err != nil {
			df.Close()
			return &rlerrors.IO{Source: err}
		}
	}
	if err := df.Close(); err != nil {
		return &rlerrors.IO{Source: err}
	}
	if rl.docket != nil {
		rl.docket.SetDataEnd(dataLen + int64(len(payload)) + int64(len(sidedata)))
	}

	indexLen, err := rl.statOrZero(rl.indexPath)
	if err != nil {
		return err
	}
	if rl.docket != nil && indexLen > rl.docket.PendingIndexEnd() {
		indexLen = rl.docket.PendingIndexEnd()
		if err := rl.fs.Truncate(rl.indexPath, indexLen); err != nil {
			return &rlerrors.IO{Source: err}
		}
	}
	if err := rl.registerUndoOnce(tr, rl.indexPath, indexLen); err != nil {
		return err
	}
	raw, err := rl.encodeEntry(rev, *e)
	if err != nil {
		return err
	}
	idxf, err := rl.fs.OpenAppend(rl.indexPath)
	if err != nil {
		return &rlerrors.IO{Source: err}
	}
	defer idxf.Close()
	if _, err := idxf.Write(raw); err != nil {
		return &rlerrors.IO{Source: err}
	}
	if rl.docket != nil {
		rl.docket.SetIndexEnd(indexLen + int64(len(raw)))
	}
	return nil
}

func (rl *Revlog) encodeEntry(rev Rev, e revlogindex.Entry) ([]byte, error) {
	if rl.format == revlogindex.FormatV2 {
		raw, err := revlogindex.EncodeEntryV2(e)
		if err != nil {
			return nil, &rlerrors.CorruptRevlog{Detail: "encode index entry", Cause: err}
		}
		return raw, nil
	}
	var rev0Header *[4]byte
	if rev == 0 {
		h := revlogindex.PackHeader(rl.flags, rl.format)
		rev0Header = &h
	}
	raw, err := revlogindex.EncodeEntryV1(e, int(rev), rev0Header)
	if err != nil {
		return nil, &rlerrors.CorruptRevlog{Detail: "encode index entry", Cause: err}
	}
	return raw, nil
}

func (rl *Revlog) revNode(rev Rev) rlhash.Node {
	if rev == NullRev {
		return rlhash.Null
	}
	return rlhash.Node(rl.entries[rev].Node)
}

// selectDeltaBase picks a base revision and returns it with the payload to
// store: either the full text (base == rev, meaning "delta-encodes against
// itself") or an encoded delta against that base.
func (rl *Revlog) selectDeltaBase(rev Rev, text []byte, p1, p2 Rev, mode DeltaMode) (Rev, []byte) {
	if mode == DeltaNoDelta || mode == DeltaFullAdd || len(rl.entries) == 0 {
		return rev, text
	}

	candidates := []Rev{rev - 1}
	if p1 != NullRev {
		candidates = append(candidates, p1)
	}
	if p2 != NullRev {
		candidates = append(candidates, p2)
	}
	if mode == DeltaAlways {
		candidates = append(candidates, rl.ancestorSpan(rev-1)...)
		candidates = append(candidates, rl.ancestorSpan(p1)...)
		candidates = append(candidates, rl.ancestorSpan(p2)...)
	}

	bestBase := rev
	bestPayload := text
	bestLen := len(text)
	for _, c := range candidates {
		if c < 0 || int(c) >= len(rl.entries) {
			continue
		}
		if rl.chainLength(c)+1 > rl.opts.ChainLengthMax {
			continue
		}
		baseText, err := rl.Revision(c)
		if err != nil {
			continue
		}
		d := computeDelta(baseText, text)
		encoded := encodeDelta(d)
		if len(encoded) < bestLen {
			bestBase = c
			bestPayload = encoded
			bestLen = len(encoded)
		}
	}
	return bestBase, bestPayload
}

// ancestorSpan walks start's first-parent chain, collecting every ancestor
// within the configured chain-length budget, for DeltaAlways's "candidates
// against every ancestor within a span budget" policy (spec §4.D).
func (rl *Revlog) ancestorSpan(start Rev) []Rev {
	var out []Rev
	cur := start
	for i := 0; i < rl.opts.ChainLengthMax; i++ {
		if cur < 0 || int(cur) >= len(rl.entries) {
			break
		}
		out = append(out, cur)
		cur = Rev(rl.entries[cur].Parent1Rev)
	}
	return out
}

// chainLength counts how many revisions must be applied to reach rev's
// full-text anchor, used to enforce the configured maximum chain length
// (spec §4.D invariant "chain length bound").
func (rl *Revlog) chainLength(rev Rev) int {
	n := 0
	cur := rev
	for {
		e := rl.entries[cur]
		base := Rev(e.BaseRev)
		if base == cur {
			return n
		}
		n++
		cur = base
	}
}

func (rl *Revlog) statOrZero(path string) (int64, error) {
	if !rl.fs.Exists(path) {
		return 0, nil
	}
	info, err := rl.fs.Stat(path)
	if err != nil {
		return 0, &rlerrors.IO{Source: err}
	}
	return info.Size, nil
}

// registerUndoOnce records path's pre-transaction length the first time this
// transaction touches it, so Abort can truncate back (spec §4.D: v1 has no
// official/pending split and relies entirely on undo truncation).
func (rl *Revlog) registerUndoOnce(tr *txn.Transaction, path string, preLength int64) error {
	if rl.docket != nil {
		return nil // v2 relies on docket pending/official split instead.
	}
	if rl.preTxnRegistered == nil {
		rl.preTxnRegistered = make(map[string]bool)
	}
	if rl.preTxnRegistered[path] {
		return nil
	}
	rl.preTxnRegistered[path] = true
	tr.RegisterUndo(path, preLength)
	return nil
}
