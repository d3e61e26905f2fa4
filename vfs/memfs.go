package vfs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemFS is an in-memory VFS used by package tests that need a fast,
// hermetic filesystem without touching disk.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFile
}

type memFile struct {
	data []byte
	mode os.FileMode
}

// NewMemFS returns an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memFile)}
}

func clean(p string) string {
	return path.Clean("/" + p)[1:]
}

type memHandle struct {
	fs   *MemFS
	name string
	buf  *bytes.Reader
	w    *bytes.Buffer
	pos  int64
}

func (m *MemFS) Open(p string) (ReadWriteSeekCloser, error) {
	p = clean(p)
	m.mu.Lock()
	f, ok := m.files[p]
	m.mu.Unlock()
	if !ok {
		return nil, &os.PathError{Op: "open", Path: p, Err: os.ErrNotExist}
	}
	return &memHandle{fs: m, name: p, buf: bytes.NewReader(f.data)}, nil
}

func (m *MemFS) Create(p string) (ReadWriteSeekCloser, error) {
	p = clean(p)
	m.mu.Lock()
	m.files[p] = &memFile{data: nil, mode: 0o644}
	m.mu.Unlock()
	return &memHandle{fs: m, name: p, w: &bytes.Buffer{}}, nil
}

func (m *MemFS) OpenAppend(p string) (ReadWriteSeekCloser, error) {
	p = clean(p)
	m.mu.Lock()
	f, ok := m.files[p]
	if !ok {
		f = &memFile{mode: 0o644}
		m.files[p] = f
	}
	buf := &bytes.Buffer{}
	buf.Write(f.data)
	m.mu.Unlock()
	return &memHandle{fs: m, name: p, w: buf, pos: int64(buf.Len())}, nil
}

func (h *memHandle) Read(p []byte) (int, error) {
	if h.buf == nil {
		return 0, io.EOF
	}
	return h.buf.Read(p)
}

func (h *memHandle) Write(p []byte) (int, error) {
	if h.w == nil {
		return 0, fmt.Errorf("memfs: %s opened read-only", h.name)
	}
	n, err := h.w.Write(p)
	h.fs.mu.Lock()
	h.fs.files[h.name] = &memFile{data: append([]byte(nil), h.w.Bytes()...), mode: 0o644}
	h.fs.mu.Unlock()
	return n, err
}

func (h *memHandle) Seek(offset int64, whence int) (int64, error) {
	if h.buf != nil {
		return h.buf.Seek(offset, whence)
	}
	return 0, fmt.Errorf("memfs: seek unsupported on write handle")
}

func (h *memHandle) Close() error { return nil }

type memAtomicFile struct {
	fs     *MemFS
	target string
	buf    bytes.Buffer
}

func (m *MemFS) OpenAtomic(p string) (AtomicFile, error) {
	return &memAtomicFile{fs: m, target: clean(p)}, nil
}

func (a *memAtomicFile) Write(p []byte) (int, error) { return a.buf.Write(p) }
func (a *memAtomicFile) Close() error                { return nil }

func (a *memAtomicFile) Commit() error {
	a.fs.mu.Lock()
	a.fs.files[a.target] = &memFile{data: append([]byte(nil), a.buf.Bytes()...), mode: 0o644}
	a.fs.mu.Unlock()
	return nil
}

func (a *memAtomicFile) Discard() error { return nil }

func (m *MemFS) Rename(oldpath, newpath string) error {
	oldpath, newpath = clean(oldpath), clean(newpath)
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[oldpath]; ok {
		m.files[newpath] = f
		delete(m.files, oldpath)
		return nil
	}
	// directory-level rename: move every file under oldpath/
	prefix := oldpath + "/"
	moved := false
	for name, f := range m.files {
		if name == oldpath || (len(name) > len(prefix) && name[:len(prefix)] == prefix) {
			suffix := name[len(oldpath):]
			m.files[newpath+suffix] = f
			delete(m.files, name)
			moved = true
		}
	}
	if !moved {
		return &os.PathError{Op: "rename", Path: oldpath, Err: os.ErrNotExist}
	}
	return nil
}

func (m *MemFS) Unlink(p string) error {
	p = clean(p)
	m.mu.Lock()
	delete(m.files, p)
	m.mu.Unlock()
	return nil
}

func (m *MemFS) Readdir(p string) ([]FileInfo, error) {
	p = clean(p)
	prefix := p
	if prefix != "" {
		prefix += "/"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var infos []FileInfo
	for name, f := range m.files {
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		rest := name[len(prefix):]
		if i := indexByte(rest, '/'); i >= 0 {
			dirName := rest[:i]
			if !seen[dirName] {
				seen[dirName] = true
				infos = append(infos, FileInfo{Name: dirName, IsDir: true})
			}
			continue
		}
		infos = append(infos, FileInfo{Name: rest, Size: int64(len(f.data)), Mode: f.mode, ModTime: time.Time{}})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func (m *MemFS) Stat(p string) (FileInfo, error) {
	p = clean(p)
	m.mu.Lock()
	f, ok := m.files[p]
	m.mu.Unlock()
	if !ok {
		return FileInfo{}, &os.PathError{Op: "stat", Path: p, Err: os.ErrNotExist}
	}
	return FileInfo{Name: path.Base(p), Size: int64(len(f.data)), Mode: f.mode}, nil
}

func (m *MemFS) Exists(p string) bool {
	_, err := m.Stat(p)
	return err == nil
}

func (m *MemFS) Mkdir(p string) error { return nil }

func (m *MemFS) Truncate(p string, size int64) error {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		return &os.PathError{Op: "truncate", Path: p, Err: os.ErrNotExist}
	}
	if int64(len(f.data)) < size {
		grown := make([]byte, size)
		copy(grown, f.data)
		f.data = grown
	} else {
		f.data = f.data[:size]
	}
	return nil
}

func (m *MemFS) Join(elems ...string) string { return path.Join(elems...) }
func (m *MemFS) Root() string                { return "memfs://" + uuid.NewString() }

var _ VFS = (*MemFS)(nil)
