// Package txn implements the transaction capability spec §9 describes:
// "a scoped handle that records undo information for every mutating file
// operation and either commits or rolls back as a unit." It is grounded on
// the teacher's journal.Journal, generalized from "one append sink with
// sequential Write* calls" to a register/commit/abort protocol: callers
// register undo and backup information as they mutate files, then call
// Commit or Abort exactly once.
package txn

import (
	"fmt"

	"github.com/rcowham/revlogstore/vfs"
)

// State is the per-transaction lifecycle spec §4.D names: clean -> dirty ->
// committed | aborted.
type State int

const (
	Clean State = iota
	Dirty
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// undoEntry records the length a file must be truncated back to on abort.
type undoEntry struct {
	path      string
	preLength int64
}

// backupEntry records that path's previous contents were saved to
// backupPath before being overwritten, for manual recovery.
type backupEntry struct {
	path       string
	backupPath string
}

// Transaction is a single logical unit of work against one VFS. It is not
// safe for concurrent use — the store lock (spec §5) serializes access.
type Transaction struct {
	fs      vfs.VFS
	name    string
	state   State
	undo    []undoEntry
	backups []backupEntry
	onCommit []func() error
	onAbort  []func() error
}

// New starts a transaction named name (used only in diagnostics, mirroring
// Mercurial's "upgrade" transaction name convention) against fs.
func New(fs vfs.VFS, name string) *Transaction {
	return &Transaction{fs: fs, name: name, state: Clean}
}

func (t *Transaction) Name() string  { return t.name }
func (t *Transaction) State() State  { return t.state }

// markDirty transitions clean->dirty on first mutation, matching the
// per-revlog state machine in spec §4.D.
func (t *Transaction) markDirty() {
	if t.state == Clean {
		t.state = Dirty
	}
}

// RegisterUndo records that path had length preLength before this
// transaction started mutating it; Abort truncates it back.
func (t *Transaction) RegisterUndo(path string, preLength int64) {
	t.markDirty()
	t.undo = append(t.undo, undoEntry{path: path, preLength: preLength})
}

// AddBackup records that the previous contents of path were preserved at
// backupPath. Used by the docket before an atomic-temp rewrite (spec §4.C).
func (t *Transaction) AddBackup(path, backupPath string) {
	t.markDirty()
	t.backups = append(t.backups, backupEntry{path: path, backupPath: backupPath})
}

// OnCommit registers a callback run, in registration order, once Commit
// succeeds (e.g. promoting a docket's pending lengths to official).
func (t *Transaction) OnCommit(fn func() error) {
	t.onCommit = append(t.onCommit, fn)
}

// OnAbort registers a callback run, in registration order, after Abort has
// applied the undo entries.
func (t *Transaction) OnAbort(fn func() error) {
	t.onAbort = append(t.onAbort, fn)
}

// Commit finalizes the transaction: runs onCommit callbacks and marks the
// transaction committed. A transaction that was never dirtied commits the
// same way: its hooks run and its state becomes Committed.
func (t *Transaction) Commit() error {
	if t.state == Committed || t.state == Aborted {
		return fmt.Errorf("txn: %s already %s", t.name, t.state)
	}
	for _, fn := range t.onCommit {
		if err := fn(); err != nil {
			return fmt.Errorf("txn: %s commit hook failed: %w", t.name, err)
		}
	}
	t.state = Committed
	return nil
}

// Abort rolls every registered undo entry back to its pre-transaction
// length and runs onAbort callbacks, in that order — so abort hooks see a
// filesystem the transaction has already unwound (spec §4.D: "for v1,
// truncate files back to the pre-transaction lengths").
func (t *Transaction) Abort() error {
	if t.state == Committed || t.state == Aborted {
		return fmt.Errorf("txn: %s already %s", t.name, t.state)
	}
	var firstErr error
	// undo in reverse registration order: later mutations unwind first.
	for i := len(t.undo) - 1; i >= 0; i-- {
		e := t.undo[i]
		if err := t.fs.Truncate(e.path, e.preLength); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("txn: %s: truncate %s to %d: %w", t.name, e.path, e.preLength, err)
		}
	}
	for _, fn := range t.onAbort {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("txn: %s abort hook failed: %w", t.name, err)
		}
	}
	t.state = Aborted
	return firstErr
}

// Backups returns the recorded backup entries, for callers (e.g. the
// upgrade engine) that need to report where recovery copies live.
func (t *Transaction) Backups() []struct{ Path, BackupPath string } {
	out := make([]struct{ Path, BackupPath string }, len(t.backups))
	for i, b := range t.backups {
		out[i] = struct{ Path, BackupPath string }{Path: b.path, BackupPath: b.backupPath}
	}
	return out
}
