package revlog

import (
	"github.com/rcowham/revlogstore/txn"
	"github.com/rcowham/revlogstore/vfs"
)

// Clone re-encodes every revision of src into a freshly created revlog at
// destRadix on destFS. The delta-reuse mode only controls how generously
// AddRevision searches for a good base on the destination side; this
// implementation always recomputes deltas rather than copying a source
// revlog's stored bytes verbatim, since the destination's base revisions
// are not guaranteed to land at the same offsets (spec §4.E "Clone
// revlogs").
func Clone(tr *txn.Transaction, src *Revlog, destFS vfs.VFS, destRadix string, opts Options, mode DeltaMode) (*Revlog, error) {
	dest, err := Open(destFS, destRadix, opts)
	if err != nil {
		return nil, err
	}
	return CloneInto(tr, src, dest, mode)
}

// CloneInto re-encodes every revision of src into an already-open,
// zero-length dest revlog.
func CloneInto(tr *txn.Transaction, src *Revlog, dest *Revlog, mode DeltaMode) (*Revlog, error) {
	for rev := Rev(0); int(rev) < src.Len(); rev++ {
		text, err := src.Revision(rev)
		if err != nil {
			return nil, err
		}
		e, err := src.entry(rev)
		if err != nil {
			return nil, err
		}
		p1, p2, err := src.Parents(rev)
		if err != nil {
			return nil, err
		}
		sidedata, err := src.Sidedata(rev)
		if err != nil {
			return nil, err
		}
		if _, err := dest.AddRevision(tr, text, p1, p2, int(e.LinkRev), sidedata, e.Flags, mode); err != nil {
			return nil, err
		}
	}
	return dest, nil
}
