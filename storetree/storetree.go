// Package storetree walks a revlog store's directory tree through the vfs.VFS
// capability, classifying files the way the upgrade engine needs (spec §4.E
// steps 3 and 5): which files are changelog/manifest/filelog revlog
// components, and which are the non-revlog files that get copied verbatim.
// It is grounded on the teacher's node.Node directory-tree walker (adapted
// from an in-memory branch-content tree keyed by forward-slash path
// components into a store-file classifier driven by VFS.Readdir instead of
// a fixed file list).
package storetree

import (
	"strings"

	"github.com/rcowham/revlogstore/vfs"
)

// Kind classifies a store file for upgrade planning.
type Kind int

const (
	// KindOther is a non-revlog store file (requires, fncache, lock, ...).
	KindOther Kind = iota
	KindChangelog
	KindManifest
	KindFilelog
)

func (k Kind) String() string {
	switch k {
	case KindChangelog:
		return "changelog"
	case KindManifest:
		return "manifest"
	case KindFilelog:
		return "filelog"
	}
	return "other"
}

// Entry describes one file found under the store root.
type Entry struct {
	// Path is store-relative, slash-separated.
	Path string
	Size int64
	Kind Kind
	// Radix is Path with a trailing .i/.d/.n/.nd stripped, set only for
	// revlog component files. Two entries sharing a Radix are the same
	// revlog's index/data/docket files.
	Radix string
}

var revlogSuffixes = []string{".i", ".d", ".n", ".nd"}

func stripRevlogSuffix(path string) (radix string, isRevlogFile bool) {
	for _, suf := range revlogSuffixes {
		if strings.HasSuffix(path, suf) {
			return path[:len(path)-len(suf)], true
		}
	}
	return "", false
}

func classifyRadix(radix string) Kind {
	base := radix
	if idx := strings.LastIndexByte(radix, '/'); idx >= 0 {
		base = radix[idx+1:]
	}
	switch {
	case base == "00changelog":
		return KindChangelog
	case base == "00manifest" || strings.HasPrefix(base, "00manifest"):
		return KindManifest
	case strings.HasPrefix(radix, "data/") || strings.HasPrefix(radix, "meta/"):
		return KindFilelog
	default:
		return KindOther
	}
}

// IsSkippedNonRevlog reports whether path should be excluded from the
// non-revlog copy pass (spec §4.E step 5): revlog component files
// themselves, lock, fncache, and anything named undo*.
func IsSkippedNonRevlog(path string) bool {
	if _, ok := stripRevlogSuffix(path); ok {
		return true
	}
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	if base == "lock" || base == "fncache" {
		return true
	}
	return strings.HasPrefix(base, "undo")
}

// Walk recursively lists every regular file under root, store-relative to
// the VFS root, classifying revlog component files by radix and kind.
// Non-regular files (per the underlying FileInfo.Mode) are omitted, as step
// 5 requires.
func Walk(fs vfs.VFS, root string) ([]Entry, error) {
	var out []Entry
	var visit func(dir string) error
	visit = func(dir string) error {
		infos, err := fs.Readdir(dir)
		if err != nil {
			return err
		}
		for _, info := range infos {
			path := info.Name
			if dir != "" {
				path = fs.Join(dir, info.Name)
			}
			if info.IsDir {
				if err := visit(path); err != nil {
					return err
				}
				continue
			}
			if !info.Mode.IsRegular() {
				continue
			}
			e := Entry{Path: path, Size: info.Size}
			if radix, ok := stripRevlogSuffix(path); ok {
				e.Radix = radix
				e.Kind = classifyRadix(strings.TrimPrefix(radix, root+"/"))
			}
			out = append(out, e)
		}
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return out, nil
}

// Radixes returns the distinct revlog radixes found by Walk, in the order
// their first component file was encountered, each tagged with its Kind.
func Radixes(entries []Entry) []Entry {
	seen := make(map[string]bool)
	var out []Entry
	for _, e := range entries {
		if e.Radix == "" || seen[e.Radix] {
			continue
		}
		seen[e.Radix] = true
		out = append(out, Entry{Path: e.Radix, Kind: e.Kind, Radix: e.Radix})
	}
	return out
}
