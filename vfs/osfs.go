package vfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// OSFS is a VFS rooted at a real directory on the local filesystem.
type OSFS struct {
	root string
}

// NewOSFS roots a VFS at dir, creating it if absent.
func NewOSFS(dir string) (*OSFS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vfs: create root %s: %w", dir, err)
	}
	return &OSFS{root: dir}, nil
}

func (f *OSFS) abs(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

func (f *OSFS) Open(path string) (ReadWriteSeekCloser, error) {
	fh, err := os.Open(f.abs(path))
	if err != nil {
		return nil, err
	}
	return fh, nil
}

func (f *OSFS) Create(path string) (ReadWriteSeekCloser, error) {
	if err := os.MkdirAll(filepath.Dir(f.abs(path)), 0o755); err != nil {
		return nil, err
	}
	fh, err := os.Create(f.abs(path))
	if err != nil {
		return nil, err
	}
	return fh, nil
}

func (f *OSFS) OpenAppend(path string) (ReadWriteSeekCloser, error) {
	if err := os.MkdirAll(filepath.Dir(f.abs(path)), 0o755); err != nil {
		return nil, err
	}
	fh, err := os.OpenFile(f.abs(path), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := fh.Seek(0, os.SEEK_END); err != nil {
		fh.Close()
		return nil, err
	}
	return fh, nil
}

type osAtomicFile struct {
	tmp    *os.File
	target string
	closed bool
}

func (f *OSFS) OpenAtomic(path string) (AtomicFile, error) {
	dir := filepath.Dir(f.abs(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmpName := filepath.Join(dir, ".tmp-"+uuid.NewString())
	tmp, err := os.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &osAtomicFile{tmp: tmp, target: f.abs(path)}, nil
}

func (a *osAtomicFile) Write(p []byte) (int, error) { return a.tmp.Write(p) }

// Close syncs and closes the temporary file; a later Commit still renames it
// into place.
func (a *osAtomicFile) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.tmp.Sync(); err != nil {
		a.tmp.Close()
		return err
	}
	return a.tmp.Close()
}

func (a *osAtomicFile) Commit() error {
	if err := a.Close(); err != nil {
		os.Remove(a.tmp.Name())
		return err
	}
	return os.Rename(a.tmp.Name(), a.target)
}

func (a *osAtomicFile) Discard() error {
	name := a.tmp.Name()
	a.tmp.Close()
	return os.Remove(name)
}

func (f *OSFS) Rename(oldpath, newpath string) error {
	if err := os.MkdirAll(filepath.Dir(f.abs(newpath)), 0o755); err != nil {
		return err
	}
	return os.Rename(f.abs(oldpath), f.abs(newpath))
}

func (f *OSFS) Unlink(path string) error {
	err := os.Remove(f.abs(path))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *OSFS) Readdir(path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(f.abs(path))
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, FileInfo{
			Name:    e.Name(),
			Size:    fi.Size(),
			Mode:    fi.Mode(),
			ModTime: fi.ModTime(),
			IsDir:   e.IsDir(),
		})
	}
	return infos, nil
}

func (f *OSFS) Stat(path string) (FileInfo, error) {
	fi, err := os.Stat(f.abs(path))
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name:    fi.Name(),
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}, nil
}

func (f *OSFS) Exists(path string) bool {
	_, err := os.Stat(f.abs(path))
	return err == nil
}

func (f *OSFS) Mkdir(path string) error {
	return os.MkdirAll(f.abs(path), 0o755)
}

func (f *OSFS) Truncate(path string, size int64) error {
	return os.Truncate(f.abs(path), size)
}

func (f *OSFS) Join(elems ...string) string {
	return filepath.ToSlash(filepath.Join(elems...))
}

func (f *OSFS) Root() string { return f.root }

var _ VFS = (*OSFS)(nil)
