// Package rlerrors defines the typed error values the revlog core raises
// (spec §7): distinct kinds so callers can distinguish "not found" from
// "corrupt" from "a bug in this process". CorruptRevlog and IO also carry an
// underlying cause and expose it through Unwrap, so errors.Is/errors.As see
// through them.
package rlerrors

import "fmt"

// UnknownNode is returned when a node or prefix lookup fails outright —
// not a programming bug.
type UnknownNode struct {
	NodeOrPrefix string
}

func (e *UnknownNode) Error() string {
	return fmt.Sprintf("unknown node or prefix %q", e.NodeOrPrefix)
}

// AmbiguousPrefix is returned when a short-ID resolution has two or more
// hits.
type AmbiguousPrefix struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousPrefix) Error() string {
	return fmt.Sprintf("ambiguous prefix %q (%d candidates)", e.Prefix, len(e.Candidates))
}

// DuplicateNode is returned when add_revision collides with a
// different-parents revision already carrying the same node.
type DuplicateNode struct {
	Node string
}

func (e *DuplicateNode) Error() string {
	return fmt.Sprintf("duplicate node %s with different parents", e.Node)
}

// CorruptRevlog is returned for any structural violation of the on-disk
// invariants: bad chain, hash mismatch, unexpected EOF, inline scan
// overrun.
type CorruptRevlog struct {
	Detail string
	Cause  error
}

func (e *CorruptRevlog) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("corrupt revlog: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("corrupt revlog: %s", e.Detail)
}

func (e *CorruptRevlog) Unwrap() error { return e.Cause }

// CensoredEntry is returned when a flagged revision's read processor
// refuses disclosure.
type CensoredEntry struct {
	Rev int
}

func (e *CensoredEntry) Error() string {
	return fmt.Sprintf("revision %d is censored", e.Rev)
}

// IO wraps an underlying VFS error.
type IO struct {
	Source error
}

func (e *IO) Error() string { return fmt.Sprintf("i/o error: %v", e.Source) }
func (e *IO) Unwrap() error { return e.Source }

// Locked is returned when wlock/lock could not be acquired.
type Locked struct {
	Which string
}

func (e *Locked) Error() string { return fmt.Sprintf("could not acquire %s", e.Which) }

// Programming is returned when an internal invariant was violated; never
// meant to be surfaced to end users.
type Programming struct {
	Detail string
}

func (e *Programming) Error() string { return fmt.Sprintf("programming error: %s", e.Detail) }

// UpgradeBlocked is returned when an upgrade precondition fails.
type UpgradeBlocked struct {
	Reason string
}

func (e *UpgradeBlocked) Error() string { return fmt.Sprintf("upgrade blocked: %s", e.Reason) }
