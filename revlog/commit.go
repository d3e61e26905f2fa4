package revlog

import (
	"github.com/rcowham/revlogstore/rlerrors"
	"github.com/rcowham/revlogstore/txn"
)

// Commit finalizes a transaction against this revlog. For v2, it writes the
// docket promoting its pending lengths to official (spec §4.D: "for v2,
// promote pending to official"); for v1 there is nothing extra to persist,
// since every append already landed directly on the index/data files and
// undo entries become irrelevant once committed.
func (rl *Revlog) Commit(tr *txn.Transaction) error {
	if rl.docket != nil {
		if _, err := rl.docket.Write(tr, rl.fs, false, false); err != nil {
			return err
		}
	}
	if err := tr.Commit(); err != nil {
		return err
	}
	rl.committedLen = len(rl.entries)
	rl.preTxnRegistered = nil
	if rl.nodemapPersister != nil && rl.docket != nil {
		blockBase, revBase, err := rl.nodemapPersister.Save(rl.fs, rl.nodemapPath, rl.nodes, rl.nodemapBaseBlocks, rl.nodemapBaseRevs)
		if err != nil {
			return &rlerrors.IO{Source: err}
		}
		rl.nodemapBaseBlocks = blockBase
		rl.nodemapBaseRevs = revBase
		rl.nodemapLoaded = true
	}
	return nil
}

// Abort rolls back every mutation this revlog made within tr. For v1, the
// transaction's registered undo entries truncate the index/data files back
// to their pre-transaction lengths, and the in-memory entries/nodes are
// rewound to match. For v2, the docket's pending lengths are reset to their
// last-committed official values and rewritten, after which the orphaned
// tail bytes are simply unreachable — reclaimed by the next successful
// write rather than removed now (spec §4.D).
func (rl *Revlog) Abort(tr *txn.Transaction) error {
	if rl.docket != nil {
		rl.docket.ResetPendingToOfficial()
		if _, err := rl.docket.Write(tr, rl.fs, false, true); err != nil {
			return err
		}
	}
	rl.entries = rl.entries[:rl.committedLen]
	rl.nodes = rl.nodes.StripFrom(Rev(rl.committedLen))
	rl.preTxnRegistered = nil
	return tr.Abort()
}

// Flush writes the v2 docket in pending mode, making in-progress growth
// durable on disk while keeping it invisible to readers outside tr (spec
// §4.C). No-op for v1, whose files are always written directly.
func (rl *Revlog) Flush(tr *txn.Transaction) error {
	if rl.docket == nil {
		return nil
	}
	_, err := rl.docket.Write(tr, rl.fs, true, false)
	return err
}
