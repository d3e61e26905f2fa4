// Package upgrade implements the store upgrade engine (spec §4.E): given a
// source store and a target requirement set, stream every revlog into a
// fresh sibling directory under a chosen delta-reuse policy, then swap
// directories atomically. It is grounded on mercurial/upgrade/engine.py (see
// _examples/original_source) for the validate/stage/plan/copy/swap/finalise
// sequence, and on the teacher's node.Node tree walk (now storetree.Walk)
// for enumerating store files.
package upgrade

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rcowham/revlogstore/rlerrors"
	"github.com/rcowham/revlogstore/vfs"
)

// RequirementSet is an unordered collection of requirement tokens (spec §6
// "requires: newline-delimited list of feature tokens").
type RequirementSet map[string]bool

// NewRequirementSet builds a set from a token slice.
func NewRequirementSet(tokens []string) RequirementSet {
	s := make(RequirementSet, len(tokens))
	for _, t := range tokens {
		s[t] = true
	}
	return s
}

func (s RequirementSet) Contains(tok string) bool { return s[tok] }

func (s RequirementSet) Clone() RequirementSet {
	out := make(RequirementSet, len(s))
	for t := range s {
		out[t] = true
	}
	return out
}

// Slice returns the tokens sorted, for deterministic requires-file output.
func (s RequirementSet) Slice() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// knownRequirement describes one recognised requirement token's
// compatibility rules (spec §6 "Known requirement tokens").
type knownRequirement struct {
	// requiredSource lists tokens that must be present in have or target
	// for this one to be addable.
	requiredSource []string
	// blocksSource lists tokens that must not also be part of the same
	// final target set (mutually exclusive on-disk layouts).
	blocksSource []string
}

// knownRequirements is the table of tokens the core recognises; anything
// else passes through to higher layers per spec §6, but an *unknown* token
// appearing in a target set during upgrade is rejected (step 1).
var knownRequirements = map[string]knownRequirement{
	"revlogv1":           {blocksSource: []string{"revlogv2"}},
	"revlogv2":           {blocksSource: []string{"revlogv1"}},
	"generaldelta":       {},
	"sparserevlog":       {requiredSource: []string{"generaldelta"}},
	"store":              {},
	"fncache":            {requiredSource: []string{"store"}},
	"dotencode":          {requiredSource: []string{"store", "fncache"}},
	"persistent-nodemap": {requiredSource: []string{"revlogv2"}},
	"copies-sdc":         {},
	"side-data":          {requiredSource: []string{"revlogv2"}},
	"share-safe":         {},
}

// removableRequirements lists tokens a target set is allowed to drop
// relative to have; anything else missing from target but present in have
// is an unsupported removal (spec §4.E step 1 "reject if removing a listed
// requirement is unsupported"). revlogv1 is the one requirement this engine
// ever retires, since dropping it is exactly what a v1->v2 upgrade does.
var removableRequirements = map[string]bool{
	"revlogv1": true,
}

// IsKnownRequirement reports whether tok is one of the tokens the core
// recognises.
func IsKnownRequirement(tok string) bool {
	_, ok := knownRequirements[tok]
	return ok
}

// ValidateTarget checks that moving a store whose current requirements are
// have to the requirement set target is legal (spec §4.E step 1):
//   - every token in target that is unknown to the core is rejected.
//   - for every token in target, its requiredSource tokens
//     must be satisfied by have or target, and none of its blocksSource
//     tokens may also be in target.
//   - every token have drops that target no longer lists must be one of
//     removableRequirements.
func ValidateTarget(have, target RequirementSet) error {
	for tok := range target {
		if !IsKnownRequirement(tok) {
			return &rlerrors.UpgradeBlocked{Reason: fmt.Sprintf("unknown requirement %q in target set", tok)}
		}
	}

	var missing, blocked, unsupportedRemoval []string
	for tok := range target {
		rule := knownRequirements[tok]
		for _, req := range rule.requiredSource {
			if !have.Contains(req) && !target.Contains(req) {
				missing = append(missing, fmt.Sprintf("%s needs %s", tok, req))
			}
		}
		for _, blk := range rule.blocksSource {
			if target.Contains(blk) {
				blocked = append(blocked, fmt.Sprintf("%s conflicts with %s in the same target set", tok, blk))
			}
		}
	}
	for tok := range have {
		if !target.Contains(tok) && !removableRequirements[tok] {
			unsupportedRemoval = append(unsupportedRemoval, tok)
		}
	}

	reasons := append(missing, blocked...)
	reasons = append(reasons, unsupportedRemoval...)
	if len(reasons) > 0 {
		return &rlerrors.UpgradeBlocked{Reason: strings.Join(reasons, "; ")}
	}
	return nil
}

const requiresFile = "requires"

// ReadRequirements loads the newline-delimited requires file at the store
// root. A missing file reads as an empty set (a brand-new store).
func ReadRequirements(fs vfs.VFS, storeRoot string) (RequirementSet, error) {
	path := fs.Join(storeRoot, requiresFile)
	if !fs.Exists(path) {
		return RequirementSet{}, nil
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, &rlerrors.IO{Source: err}
	}
	defer f.Close()
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	set := RequirementSet{}
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			set[line] = true
		}
	}
	return set, nil
}

// WriteRequirements rewrites the requires file atomically with set's
// tokens, one per line, sorted for determinism.
func WriteRequirements(fs vfs.VFS, storeRoot string, set RequirementSet) error {
	path := fs.Join(storeRoot, requiresFile)
	af, err := fs.OpenAtomic(path)
	if err != nil {
		return &rlerrors.IO{Source: err}
	}
	content := strings.Join(set.Slice(), "\n")
	if content != "" {
		content += "\n"
	}
	if _, err := af.Write([]byte(content)); err != nil {
		af.Discard()
		return &rlerrors.IO{Source: err}
	}
	if err := af.Close(); err != nil {
		af.Discard()
		return &rlerrors.IO{Source: err}
	}
	if err := af.Commit(); err != nil {
		return &rlerrors.IO{Source: err}
	}
	return nil
}
