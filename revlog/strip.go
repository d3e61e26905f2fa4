package revlog

import (
	"github.com/rcowham/revlogstore/revlogindex"
	"github.com/rcowham/revlogstore/txn"
)

// Strip removes every revision >= rev (spec §4.D "strip"), rebuilding the
// node map and truncating storage. For v1 this truncates the index (and
// data, if split) files directly via the transaction's undo mechanism; for
// v2 it only rewinds the docket's pending lengths back to the last
// committed values that preceded rev, since invariant I5 already makes any
// bytes past the official end invisible to other readers.
func (rl *Revlog) Strip(tr *txn.Transaction, rev Rev) error {
	if rev < 0 || int(rev) > len(rl.entries) {
		return nil
	}
	if int(rev) == len(rl.entries) {
		return nil
	}

	keep := rl.entries[:rev]
	truncOffset := int64(0)
	if len(keep) > 0 {
		last := keep[len(keep)-1]
		truncOffset = int64(last.Offset) + int64(last.CompressedLength) + int64(last.SidedataLength)
	}

	if rl.docket != nil {
		rl.docket.ResetPendingToOfficial()
		if _, err := rl.docket.Write(tr, rl.fs, false, true); err != nil {
			return err
		}
	} else {
		indexTrunc := int64(len(keep)) * int64(rl.entrySize)
		if rl.inline {
			// inline: header and payload interleave, so the correct cut
			// point is simply the byte right after the last kept entry's
			// payload (and sidedata, if any) — entry.Offset already
			// accounts for every preceding entry's header and payload.
			indexTrunc = truncOffset
		}
		tr.RegisterUndo(rl.indexPath, indexTrunc)
		if err := rl.fs.Truncate(rl.indexPath, indexTrunc); err != nil {
			return err
		}
		if !rl.inline && rl.dataPath != "" {
			tr.RegisterUndo(rl.dataPath, truncOffset)
			if err := rl.fs.Truncate(rl.dataPath, truncOffset); err != nil {
				return err
			}
		}
	}

	rl.entries = append([]revlogindex.Entry(nil), keep...)
	rl.nodes = rl.nodes.StripFrom(rev)
	return nil
}
