// Package vfs defines the filesystem capability the revlog core is given by
// its embedder: every file operation in the store goes through this
// interface rather than touching os.* directly, so the core can be tested
// against an in-memory filesystem and so embedders can apply their own path
// encoding (see spec §6) before a path ever reaches the core.
package vfs

import (
	"io"
	"os"
	"time"
)

// FileInfo is the subset of os.FileInfo the core actually consults.
type FileInfo struct {
	Name    string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

// ReadWriteSeekCloser is satisfied by *os.File and by the in-memory handles
// MemFS returns.
type ReadWriteSeekCloser interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// VFS is the capability the revlog core requires from its embedder: open,
// create, append, rename, unlink, readdir, stat, mkdir, truncate, and
// atomic-temp open. There is no separate fsync operation; OSFS syncs an
// atomic file's temporary file before renaming it into place.
// Paths are always store-relative, slash-separated, and already encoded by
// the embedder per spec §6.
type VFS interface {
	// Open opens an existing file for reading.
	Open(path string) (ReadWriteSeekCloser, error)
	// Create creates or truncates a file for writing.
	Create(path string) (ReadWriteSeekCloser, error)
	// OpenAppend opens a file for writing positioned at its end, creating
	// it if absent.
	OpenAppend(path string) (ReadWriteSeekCloser, error)
	// OpenAtomic returns a handle to a temporary file in the same
	// directory as path; Commit renames it onto path, Discard removes it.
	OpenAtomic(path string) (AtomicFile, error)
	// Rename renames oldpath to newpath, both store-relative. On the same
	// filesystem this is atomic.
	Rename(oldpath, newpath string) error
	// Unlink removes a file. Removing an absent file is not an error.
	Unlink(path string) error
	// Readdir lists the entries of a directory, store-relative names only.
	Readdir(path string) ([]FileInfo, error)
	// Stat returns file metadata, or an error satisfying os.IsNotExist.
	Stat(path string) (FileInfo, error)
	// Exists reports whether path exists.
	Exists(path string) bool
	// Mkdir creates a directory and any missing parents.
	Mkdir(path string) error
	// Truncate sets path's length, used by strip and transaction abort.
	Truncate(path string, size int64) error
	// Join joins path components using this VFS's separator convention.
	Join(elems ...string) string
	// Root returns the filesystem root this VFS is rooted at, for
	// diagnostics only.
	Root() string
}

// AtomicFile is the handle returned by VFS.OpenAtomic: writes go to a
// private temporary file until Commit renames it into place.
type AtomicFile interface {
	io.Writer
	io.Closer
	Commit() error
	Discard() error
}
