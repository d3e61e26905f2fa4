package upgrade

import "github.com/dustin/go-humanize"

// KindReport subtotals one revlog class's contribution to an upgrade
// (SPEC_FULL.md supplement 3).
type KindReport struct {
	Revlogs   int
	Revisions int
	Bytes     int64
}

func (r *KindReport) add(revisions int, bytes int64) {
	r.Revlogs++
	r.Revisions += revisions
	r.Bytes += bytes
}

// Report summarises a completed upgrade: per-kind subtotals plus a grand
// total, before/after store size, and where the pre-upgrade backup landed
// (spec §4.E step 9).
type Report struct {
	Changelog  KindReport
	Manifests  KindReport
	Filelogs   KindReport
	Total      KindReport
	BeforeSize int64
	AfterSize  int64
	BackupPath string
}

// String renders a human-readable summary using byte counts formatted the
// way an operator expects (github.com/dustin/go-humanize), e.g. "12 MB".
func (r Report) String() string {
	return "upgrade: " + humanize.Comma(int64(r.Total.Revisions)) + " revisions across " +
		humanize.Comma(int64(r.Total.Revlogs)) + " revlogs, " +
		humanize.Bytes(uint64(r.BeforeSize)) + " -> " + humanize.Bytes(uint64(r.AfterSize)) +
		" (backup at " + r.BackupPath + ")"
}
