package upgrade

import (
	"github.com/rcowham/revlogstore/revlog"
	"github.com/rcowham/revlogstore/storetree"
)

// RevlogFilter selects which revlogs participate in the delta-recompute
// copy (step 4); everything else is copied byte-for-byte (SPEC_FULL.md
// supplement 5, "_copyrevlog fast path").
type RevlogFilter int

const (
	FilterAll RevlogFilter = iota
	FilterChangelogOnly
	FilterManifestOnly
	FilterAllFilelogs
)

func (f RevlogFilter) selects(kind storetree.Kind) bool {
	switch f {
	case FilterChangelogOnly:
		return kind == storetree.KindChangelog
	case FilterManifestOnly:
		return kind == storetree.KindManifest
	case FilterAllFilelogs:
		return kind == storetree.KindFilelog
	default:
		return true
	}
}

// Optimization names one entry of the optimisation set the caller chooses
// from (spec §4.E "Inputs").
type Optimization string

const (
	OptReDeltaAll       Optimization = "re-delta-all"
	OptReDeltaParent    Optimization = "re-delta-parent"
	OptReDeltaMultibase Optimization = "re-delta-multibase"
	OptReDeltaFulladd   Optimization = "re-delta-fulladd"
)

// deltaModeFor maps an optimisation-set entry to the delta-selection policy
// Revlog.Clone is run with (spec §4.E step 4).
func deltaModeFor(opt Optimization) revlog.DeltaMode {
	switch opt {
	case OptReDeltaAll:
		return revlog.DeltaNoDelta
	case OptReDeltaParent, OptReDeltaMultibase:
		return revlog.DeltaSameRevs
	case OptReDeltaFulladd:
		return revlog.DeltaFullAdd
	default:
		return revlog.DeltaAlways
	}
}

// plannedRevlog is one radix enumerated by storetree.Walk, tagged with
// whether it is recompressed via Clone or copied raw.
type plannedRevlog struct {
	radix    string
	kind     storetree.Kind
	recloned bool
}

func plan(entries []storetree.Entry, filter RevlogFilter) []plannedRevlog {
	radixes := storetree.Radixes(entries)
	out := make([]plannedRevlog, 0, len(radixes))
	for _, r := range radixes {
		out = append(out, plannedRevlog{radix: r.Radix, kind: r.Kind, recloned: filter.selects(r.Kind)})
	}
	return out
}
