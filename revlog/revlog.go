// Package revlog implements the append-only log of revisions (spec §4.D):
// storage info, read (rebuild full text from a delta chain), append (new
// revision with delta selection), strip (truncate), clone (re-encode to a
// new revlog), sidedata association, and flag processors. It is the core
// ~40% of the store, grounded on the append-only segment store in
// quadgatefoundation-fluxor's pkg/appendlog (data-region layout, rotation
// idiom) and on the teacher's per-file revision bookkeeping in
// depotFileRevs, generalized from per-P4-file revision counters to
// per-revlog revision numbers.
package revlog

import (
	"fmt"
	"io"

	"github.com/rcowham/revlogstore/compression"
	"github.com/rcowham/revlogstore/docket"
	"github.com/rcowham/revlogstore/nodemap"
	"github.com/rcowham/revlogstore/rlerrors"
	"github.com/rcowham/revlogstore/rlhash"
	"github.com/rcowham/revlogstore/revlogindex"
	"github.com/rcowham/revlogstore/vfs"

	"github.com/sirupsen/logrus"
)

// Rev is a revision number; -1 denotes the null revision (spec §3).
type Rev = nodemap.Rev

const NullRev = nodemap.NullRev

// Options configures Open and, for a not-yet-created revlog, the format it
// will be created with on first append.
type Options struct {
	FormatVersion     revlogindex.Format // 1 or 2
	GeneralDelta      bool
	Inline            bool // only meaningful for v1; v2 is always split
	Hasher            rlhash.Hasher
	Compression       *compression.Registry
	CompressionEngine string // name looked up in Compression, e.g. "zlib"
	ChainLengthMax    int
	DeltaSpanRatio    float64
	UIDSource         docket.UIDSource
	Logger            *logrus.Logger

	// PersistentNodemap, when true and the revlog is v2, maintains a
	// companion .nd blob (spec §4.A, §6 "persistent-nodemap" requirement)
	// so Open can reconstruct the node map without replaying every entry.
	PersistentNodemap    bool
	NodemapFragmentation float64
}

func (o *Options) fillDefaults() {
	if o.FormatVersion == 0 {
		o.FormatVersion = revlogindex.FormatV2
	}
	if o.Hasher == nil {
		o.Hasher = rlhash.Standard{}
	}
	if o.Compression == nil {
		o.Compression = compression.NewRegistry()
	}
	if o.CompressionEngine == "" {
		o.CompressionEngine = "zlib"
	}
	if o.ChainLengthMax == 0 {
		o.ChainLengthMax = 1000
	}
	if o.DeltaSpanRatio == 0 {
		o.DeltaSpanRatio = 4.0
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.NodemapFragmentation == 0 {
		o.NodemapFragmentation = 0.25
	}
}

// FlagProcessor is a registered transform invoked when a revision's flag
// bits are set (spec §4.D, §9). Read runs on the reconstructed fulltext
// before hash verification; if validated is true, hash verification is
// skipped for this revision. Write runs before a new revision's text is
// compressed; if useRawForHash is true, the node hash is computed over the
// pre-write text rather than Write's output.
type FlagProcessor struct {
	Read  func(text []byte) (out []byte, validated bool, err error)
	Write func(text []byte) (out []byte, useRawForHash bool, err error)
}

// Known flag bits (spec §9: "censor, ellipsis, external-store, side-data").
const (
	FlagCensored     uint16 = 1 << 0
	FlagEllipsis     uint16 = 1 << 1
	FlagExternalStore uint16 = 1 << 2
	FlagHasSideData  uint16 = 1 << 3
)

// knownFlags is the bitmask of all flags the core recognises; unknown bits
// are rejected at read time (spec §9).
const knownFlags = FlagCensored | FlagEllipsis | FlagExternalStore | FlagHasSideData

// Revlog is one append-only log of revisions.
type Revlog struct {
	fs    vfs.VFS
	radix string
	opts  Options
	log   *logrus.Entry

	inline   bool
	format   revlogindex.Format
	flags    uint16 // general-delta bit etc.
	entrySize int

	entries []revlogindex.Entry
	nodes   *nodemap.NodeMap
	docket  *docket.Docket // nil for v1

	indexPath string
	dataPath  string // "" when inline

	// nodemapPath, nodemapPersister and nodemapBase* support the optional
	// persistent-nodemap companion file; nodemapPersister is nil when
	// opts.PersistentNodemap is false, and is only used for v2 revlogs
	// (openV2 loads and Commit saves the blob only when a docket exists).
	nodemapPath       string
	nodemapPersister  *nodemap.Persister
	nodemapBaseBlocks int
	nodemapBaseRevs   int
	nodemapLoaded     bool

	flagProcessors map[uint16]FlagProcessor

	// preTxnRegistered tracks which v1 files already had RegisterUndo
	// called against the current transaction, so appendData/
	// appendIndexEntry only record the pre-mutation length once per file.
	preTxnRegistered map[string]bool

	// committedLen is how many entries existed as of the last successful
	// Commit (or Open), used by Abort to roll back in-memory entries added
	// during an aborted transaction.
	committedLen int
}

func (r *Revlog) Radix() string { return r.radix }

// Open detects the on-disk layout (v1 inline/split, or v2 via docket) and
// populates the in-memory index; if no index file exists, it returns an
// empty Revlog configured from opts, created lazily on first append (spec
// §3 Lifecycles, §4.D open).
func Open(fs vfs.VFS, radix string, opts Options) (*Revlog, error) {
	opts.fillDefaults()
	rl := &Revlog{
		fs:             fs,
		radix:          radix,
		opts:           opts,
		log:            opts.Logger.WithField("revlog", radix),
		flagProcessors: make(map[uint16]FlagProcessor),
		nodes:          nodemap.New(),
	}

	if opts.PersistentNodemap {
		rl.nodemapPath = radix + ".nd"
		rl.nodemapPersister = nodemap.NewPersister(opts.NodemapFragmentation)
	}

	docketPath := radix + ".n"
	if fs.Exists(docketPath) {
		if err := rl.openV2(); err != nil {
			return nil, err
		}
		rl.committedLen = len(rl.entries)
		return rl, nil
	}

	indexPath := radix + ".i"
	if fs.Exists(indexPath) {
		if err := rl.openV1(indexPath); err != nil {
			return nil, err
		}
		rl.committedLen = len(rl.entries)
		return rl, nil
	}

	// not yet created: configure for first append.
	rl.format = opts.FormatVersion
	if opts.GeneralDelta {
		rl.flags |= revlogindex.FlagGeneralDelta
	}
	if rl.format == revlogindex.FormatV1 {
		rl.inline = opts.Inline
		if rl.inline {
			rl.flags |= revlogindex.FlagInline
		}
		rl.entrySize = revlogindex.EntrySizeV1
		rl.indexPath = indexPath
		if !rl.inline {
			rl.dataPath = radix + ".d"
		}
	} else {
		rl.entrySize = revlogindex.EntrySizeV2
		rl.docket = docket.New(radix, rl.format, rl.flags, byte(compression.MarkerZlib), opts.UIDSource)
		rl.indexPath = rl.docket.IndexPath()
		rl.dataPath = rl.docket.DataPath()
	}
	return rl, nil
}

func (rl *Revlog) openV1(indexPath string) error {
	f, err := rl.fs.Open(indexPath)
	if err != nil {
		return &rlerrors.IO{Source: err}
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return &rlerrors.IO{Source: err}
	}
	if len(raw) < 4 {
		return &rlerrors.CorruptRevlog{Detail: fmt.Sprintf("%s: truncated header", indexPath)}
	}
	var header [4]byte
	copy(header[:], raw[0:4])
	flags, version := revlogindex.UnpackHeader(header)
	rl.flags = flags
	rl.format = version
	rl.entrySize = revlogindex.EntrySizeV1
	rl.indexPath = indexPath
	rl.inline = flags&revlogindex.FlagInline != 0

	if rl.inline {
		offsets, err := revlogindex.ScanInline(raw, rl.entrySize, false)
		if err != nil {
			return &rlerrors.CorruptRevlog{Detail: "inline scan", Cause: err}
		}
		for i, off := range offsets {
			e, err := revlogindex.DecodeEntryV1(i, raw[off:off+rl.entrySize])
			if err != nil {
				return &rlerrors.CorruptRevlog{Detail: "decode entry", Cause: err}
			}
			if i == 0 {
				// rev 0's offset field holds the header; its inline
				// payload follows the first entry.
				e.Offset = uint64(off + rl.entrySize)
			}
			rl.entries = append(rl.entries, e)
			rl.nodes.Append(rlhash.Node(e.Node), nodemap.Rev(i))
		}
	} else {
		rl.dataPath = rl.radix + ".d"
		if len(raw)%rl.entrySize != 0 {
			return &rlerrors.CorruptRevlog{Detail: fmt.Sprintf("index length %d not a multiple of entry size %d", len(raw), rl.entrySize)}
		}
		count := len(raw) / rl.entrySize
		for i := 0; i < count; i++ {
			e, err := revlogindex.DecodeEntryV1(i, raw[i*rl.entrySize:(i+1)*rl.entrySize])
			if err != nil {
				return &rlerrors.CorruptRevlog{Detail: "decode entry", Cause: err}
			}
			rl.entries = append(rl.entries, e)
			rl.nodes.Append(rlhash.Node(e.Node), nodemap.Rev(i))
		}
	}
	return nil
}

func (rl *Revlog) openV2() error {
	d, err := docket.LoadFromVFS(rl.fs, rl.radix, rl.opts.UIDSource)
	if err != nil {
		return &rlerrors.IO{Source: err}
	}
	rl.docket = d
	rl.format = d.Format()
	rl.flags = d.Flags()
	rl.entrySize = revlogindex.EntrySizeV2
	rl.indexPath = d.IndexPath()
	rl.dataPath = d.DataPath()

	f, err := rl.fs.Open(rl.indexPath)
	if err != nil {
		return &rlerrors.IO{Source: err}
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return &rlerrors.IO{Source: err}
	}
	// a non-transaction reader only trusts the official length: the tail
	// between official and physical size is an uncommitted pending write
	// (spec I5).
	visible := d.OfficialIndexEnd()
	if visible > int64(len(raw)) {
		return &rlerrors.CorruptRevlog{Detail: fmt.Sprintf("docket official index end %d exceeds physical file size %d", visible, len(raw))}
	}
	raw = raw[:visible]
	if len(raw)%rl.entrySize != 0 {
		return &rlerrors.CorruptRevlog{Detail: fmt.Sprintf("index length %d not a multiple of entry size %d", len(raw), rl.entrySize)}
	}
	count := len(raw) / rl.entrySize

	if rl.nodemapPersister != nil {
		if nm, blockBase, revBase, err := rl.nodemapPersister.Load(rl.fs, rl.nodemapPath); err == nil && nm.Len() == count {
			rl.nodes = nm
			rl.nodemapBaseBlocks = blockBase
			rl.nodemapBaseRevs = revBase
			rl.nodemapLoaded = true
			for i := 0; i < count; i++ {
				e, err := revlogindex.DecodeEntryV2(raw[i*rl.entrySize : (i+1)*rl.entrySize])
				if err != nil {
					return &rlerrors.CorruptRevlog{Detail: "decode entry", Cause: err}
				}
				rl.entries = append(rl.entries, e)
			}
			return nil
		}
		rl.log.Debugf("persistent nodemap at %s missing or stale, rebuilding from index", rl.nodemapPath)
	}

	for i := 0; i < count; i++ {
		e, err := revlogindex.DecodeEntryV2(raw[i*rl.entrySize : (i+1)*rl.entrySize])
		if err != nil {
			return &rlerrors.CorruptRevlog{Detail: "decode entry", Cause: err}
		}
		rl.entries = append(rl.entries, e)
		rl.nodes.Append(rlhash.Node(e.Node), nodemap.Rev(i))
	}
	return nil
}

// Len returns the number of revisions, dense per invariant I1.
func (rl *Revlog) Len() int { return len(rl.entries) }

// Tip returns the most recent revision, or NullRev if empty.
func (rl *Revlog) Tip() Rev {
	if len(rl.entries) == 0 {
		return NullRev
	}
	return Rev(len(rl.entries) - 1)
}

// Parents returns the parent revisions of rev.
func (rl *Revlog) Parents(rev Rev) (Rev, Rev, error) {
	e, err := rl.entry(rev)
	if err != nil {
		return NullRev, NullRev, err
	}
	return Rev(e.Parent1Rev), Rev(e.Parent2Rev), nil
}

// Node returns the node for rev.
func (rl *Revlog) Node(rev Rev) (rlhash.Node, error) {
	if rev == NullRev {
		return rlhash.Null, nil
	}
	e, err := rl.entry(rev)
	if err != nil {
		return rlhash.Node{}, err
	}
	return rlhash.Node(e.Node), nil
}

// Rev returns the revision for node.
func (rl *Revlog) Rev(node rlhash.Node) (Rev, error) {
	if node.IsNull() {
		return NullRev, nil
	}
	r, ok := rl.nodes.GetRev(node)
	if !ok {
		return NullRev, &rlerrors.UnknownNode{NodeOrPrefix: node.Hex()}
	}
	return r, nil
}

// PrefixLookup resolves a short hex prefix to a revision.
func (rl *Revlog) PrefixLookup(prefix string) (Rev, error) {
	r, err := rl.nodes.PrefixLookup(prefix)
	if err != nil {
		var amb nodemap.ErrAmbiguousPrefix
		if asAmbiguous(err, &amb) {
			return NullRev, &rlerrors.AmbiguousPrefix{Prefix: prefix}
		}
		return NullRev, &rlerrors.UnknownNode{NodeOrPrefix: prefix}
	}
	return r, nil
}

func asAmbiguous(err error, target *nodemap.ErrAmbiguousPrefix) bool {
	if e, ok := err.(nodemap.ErrAmbiguousPrefix); ok {
		*target = e
		return true
	}
	return false
}

// Flags returns the stored flag bits for rev.
func (rl *Revlog) Flags(rev Rev) (uint16, error) {
	e, err := rl.entry(rev)
	if err != nil {
		return 0, err
	}
	return e.Flags, nil
}

func (rl *Revlog) entry(rev Rev) (revlogindex.Entry, error) {
	if rev < 0 || int(rev) >= len(rl.entries) {
		return revlogindex.Entry{}, &rlerrors.UnknownNode{NodeOrPrefix: fmt.Sprintf("rev %d", rev)}
	}
	return rl.entries[rev], nil
}

// IsGeneralDelta reports whether base_rev may be any ancestor.
func (rl *Revlog) IsGeneralDelta() bool { return rl.flags&revlogindex.FlagGeneralDelta != 0 }

// IsInline reports whether payloads are interleaved with index entries.
func (rl *Revlog) IsInline() bool { return rl.inline }

// Format reports the on-disk format version (1 or 2).
func (rl *Revlog) Format() revlogindex.Format { return rl.format }
