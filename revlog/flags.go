package revlog

import "github.com/rcowham/revlogstore/rlerrors"

// RegisterFlagProcessor associates proc with flag. flag must be one of the
// known flag bits and must not already carry a registration — both
// conditions return an error rather than panicking, since a bad caller here
// is an embedder wiring mistake discovered at startup, not an invariant
// violation worth crashing the process over (SPEC_FULL.md supplement 2).
func (rl *Revlog) RegisterFlagProcessor(flag uint16, proc FlagProcessor) error {
	if flag&knownFlags != flag || flag == 0 {
		return &rlerrors.Programming{Detail: "flag processor registered for unknown flag bits"}
	}
	if _, exists := rl.flagProcessors[flag]; exists {
		return &rlerrors.Programming{Detail: "flag processor already registered for this flag"}
	}
	rl.flagProcessors[flag] = proc
	return nil
}
