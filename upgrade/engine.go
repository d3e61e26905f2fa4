package upgrade

import (
	"io"
	"strings"
	"sync"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/revlogstore/revlog"
	"github.com/rcowham/revlogstore/rlerrors"
	"github.com/rcowham/revlogstore/storetree"
	"github.com/rcowham/revlogstore/txn"
	"github.com/rcowham/revlogstore/vfs"
)

// Options configures one upgrade run (spec §4.E "Inputs").
type Options struct {
	Filter             RevlogFilter
	Optimization       Optimization
	TargetRequirements []string
	RevlogOptions      revlog.Options

	// Workers bounds how many revlogs are cloned concurrently, each with
	// its own Revlog handle and transaction (spec §5: "workers each get
	// an independent Revlog handle on the same VFS; no in-process
	// sharing is assumed"). 0 or 1 runs the copy step serially.
	Workers int

	// Progress, if set, is invoked once per revlog copied.
	Progress func(radix string, kind storetree.Kind, revisions int)

	Logger *logrus.Logger
}

func (o *Options) fillDefaults() {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
}

// Engine drives one upgrade of a store rooted at storeRoot.
type Engine struct {
	fs        vfs.VFS
	storeRoot string
	opts      Options
	log       *logrus.Entry
}

// NewEngine returns an Engine for the store at storeRoot on fs.
func NewEngine(fs vfs.VFS, storeRoot string, opts Options) *Engine {
	opts.fillDefaults()
	return &Engine{fs: fs, storeRoot: storeRoot, opts: opts, log: opts.Logger.WithField("upgrade", storeRoot)}
}

func rebase(path, oldRoot, newRoot string) string {
	if oldRoot == "" {
		return newRoot + "/" + path
	}
	return newRoot + strings.TrimPrefix(path, oldRoot)
}

func (e *Engine) tempRoot() string   { return e.storeRoot + ".upgrade-tmp" }
func (e *Engine) backupRoot() string { return e.storeRoot + ".upgrade-backup" }

// Run executes the full validate/stage/plan/copy/swap/finalise/report
// sequence (spec §4.E steps 1-9). Any failure before the directory rename
// in step 7 leaves the source store untouched; a failure during or after
// the rename leaves a recoverable backup sibling.
func (e *Engine) Run() (Report, error) {
	have, err := ReadRequirements(e.fs, e.storeRoot)
	if err != nil {
		return Report{}, err
	}
	target := NewRequirementSet(e.opts.TargetRequirements)
	if err := ValidateTarget(have, target); err != nil {
		return Report{}, err
	}

	temp := e.tempRoot()
	if err := e.fs.Mkdir(temp); err != nil {
		return Report{}, &rlerrors.IO{Source: err}
	}

	entries, err := storetree.Walk(e.fs, e.storeRoot)
	if err != nil {
		return Report{}, err
	}
	planned := plan(entries, e.opts.Filter)
	e.log.Debugf("planned %d revlogs for upgrade", len(planned))

	report, err := e.copyRevlogs(planned)
	if err != nil {
		return Report{}, err
	}
	if err := e.copyNonRevlogFiles(entries); err != nil {
		return Report{}, err
	}

	// lock out legacy clients on the still-live source before swapping.
	lockedHave := have.Clone()
	lockedHave["upgradeinprogress"] = true
	if err := WriteRequirements(e.fs, e.storeRoot, lockedHave); err != nil {
		return Report{}, err
	}

	backup := e.backupRoot()
	e.log.Infof("swapping store directory, backup at %s", backup)
	if err := e.fs.Rename(e.storeRoot, backup); err != nil {
		return Report{}, &rlerrors.IO{Source: err}
	}
	if err := e.fs.Rename(temp, e.storeRoot); err != nil {
		// best-effort: restore the source so the store isn't left missing.
		_ = e.fs.Rename(backup, e.storeRoot)
		return Report{}, &rlerrors.IO{Source: err}
	}

	if err := WriteRequirements(e.fs, e.storeRoot, target); err != nil {
		return Report{}, err
	}
	_ = e.fs.Unlink(e.fs.Join(backup, "lock"))

	report.BackupPath = backup
	if sz, err := storeSize(e.fs, backup); err == nil {
		report.BeforeSize = sz
	}
	if sz, err := storeSize(e.fs, e.storeRoot); err == nil {
		report.AfterSize = sz
	}
	return report, nil
}

func storeSize(fs vfs.VFS, root string) (int64, error) {
	entries, err := storetree.Walk(fs, root)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total, nil
}

// copyRevlogs runs step 4: recompressed clone for filtered-in revlogs, raw
// byte copy for everything else, fanned out across e.opts.Workers.
func (e *Engine) copyRevlogs(planned []plannedRevlog) (Report, error) {
	var report Report
	var mu sync.Mutex
	var firstErr error

	work := func(p plannedRevlog) {
		revisions, bytes, err := e.copyOneRevlog(p)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		switch p.kind {
		case storetree.KindChangelog:
			report.Changelog.add(revisions, bytes)
		case storetree.KindManifest:
			report.Manifests.add(revisions, bytes)
		default:
			report.Filelogs.add(revisions, bytes)
		}
		report.Total.add(revisions, bytes)
		if e.opts.Progress != nil {
			e.opts.Progress(p.radix, p.kind, revisions)
		}
	}

	if e.opts.Workers <= 1 {
		for _, p := range planned {
			work(p)
			if firstErr != nil {
				return Report{}, firstErr
			}
		}
		return report, nil
	}

	pool := pond.New(e.opts.Workers, 0, pond.MinWorkers(1))
	for _, p := range planned {
		p := p
		pool.Submit(func() { work(p) })
	}
	pool.StopAndWait()
	if firstErr != nil {
		return Report{}, firstErr
	}
	return report, nil
}

func (e *Engine) copyOneRevlog(p plannedRevlog) (revisions int, bytes int64, err error) {
	destRadix := rebase(p.radix, e.storeRoot, e.tempRoot())
	if !p.recloned {
		n, err := e.copyRevlogRaw(p.radix, destRadix)
		if err != nil {
			return 0, n, err
		}
		dest, err := revlog.Open(e.fs, destRadix, revlog.Options{})
		if err != nil {
			return 0, n, err
		}
		return dest.Len(), n, nil
	}

	src, err := revlog.Open(e.fs, p.radix, revlog.Options{})
	if err != nil {
		return 0, 0, err
	}
	destOpts := e.opts.RevlogOptions
	tr := txn.New(e.fs, "upgrade-"+p.radix)
	dest, err := revlog.Clone(tr, src, e.fs, destRadix, destOpts, deltaModeFor(e.opts.Optimization))
	if err != nil {
		_ = tr.Abort()
		return 0, 0, err
	}
	if err := dest.Commit(tr); err != nil {
		return 0, 0, err
	}
	info, err := dest.StorageInfo()
	if err != nil {
		return dest.Len(), 0, err
	}
	return dest.Len(), info.IndexBytes + info.DataBytes, nil
}

// copyRevlogRaw byte-copies a revlog's component files verbatim (spec §4.E
// step 4 "For revlogs not selected, copy the raw files byte-for-byte";
// SPEC_FULL.md supplement 5's copyRevlogRaw fast path).
func (e *Engine) copyRevlogRaw(srcRadix, destRadix string) (int64, error) {
	var total int64
	for _, suffix := range []string{".i", ".d", ".n", ".nd"} {
		srcPath := srcRadix + suffix
		if !e.fs.Exists(srcPath) {
			continue
		}
		n, err := e.copyFile(srcPath, destRadix+suffix)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// copyNonRevlogFiles runs step 5: every store file that is not a revlog
// component and not lock/fncache/undo* is copied verbatim. The source's
// fncache is skipped, and the engine writes no new fncache into the
// destination store.
func (e *Engine) copyNonRevlogFiles(entries []storetree.Entry) error {
	for _, en := range entries {
		if en.Radix != "" {
			continue // revlog component file, handled by copyRevlogs
		}
		if storetree.IsSkippedNonRevlog(en.Path) {
			continue
		}
		if en.Path == e.fs.Join(e.storeRoot, requiresFile) {
			continue // rewritten separately with the lockout/target sets
		}
		dest := rebase(en.Path, e.storeRoot, e.tempRoot())
		if _, err := e.copyFile(en.Path, dest); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) copyFile(src, dest string) (int64, error) {
	r, err := e.fs.Open(src)
	if err != nil {
		return 0, &rlerrors.IO{Source: err}
	}
	defer r.Close()
	w, err := e.fs.Create(dest)
	if err != nil {
		return 0, &rlerrors.IO{Source: err}
	}
	n, err := io.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, &rlerrors.IO{Source: err}
	}
	return n, nil
}
