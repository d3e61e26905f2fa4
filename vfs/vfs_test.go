package vfs

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoundTrip(t *testing.T, fs VFS) {
	w, err := fs.Create("a/b.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := fs.Open("a/b.txt")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.True(t, fs.Exists("a/b.txt"))
	assert.False(t, fs.Exists("a/missing.txt"))

	info, err := fs.Stat("a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
}

func testAtomicWrite(t *testing.T, fs VFS) {
	af, err := fs.OpenAtomic("x.idx")
	require.NoError(t, err)
	_, err = af.Write([]byte("committed"))
	require.NoError(t, err)
	require.NoError(t, af.Commit())

	r, err := fs.Open("x.idx")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "committed", string(data))
}

func testRename(t *testing.T, fs VFS) {
	w, err := fs.Create("store/00changelog.i")
	require.NoError(t, err)
	w.Write([]byte("idx"))
	w.Close()

	require.NoError(t, fs.Rename("store", "backup/store"))
	assert.False(t, fs.Exists("store/00changelog.i"))
	assert.True(t, fs.Exists("backup/store/00changelog.i"))
}

func TestMemFS(t *testing.T) {
	fs := NewMemFS()
	testRoundTrip(t, fs)
	testAtomicWrite(t, fs)
	testRename(t, fs)
}

func TestOSFS(t *testing.T) {
	fs, err := NewOSFS(t.TempDir())
	require.NoError(t, err)
	testRoundTrip(t, fs)
	testAtomicWrite(t, fs)
	testRename(t, fs)
}

func TestMemFSTruncate(t *testing.T) {
	fs := NewMemFS()
	w, err := fs.Create("f")
	require.NoError(t, err)
	w.Write([]byte("0123456789"))
	w.Close()
	require.NoError(t, fs.Truncate("f", 4))
	info, err := fs.Stat("f")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)
}
