package txn

import (
	"testing"

	"github.com/rcowham/revlogstore/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitRunsHooks(t *testing.T) {
	fs := vfs.NewMemFS()
	tr := New(fs, "test")
	var ran []string
	tr.OnCommit(func() error { ran = append(ran, "first"); return nil })
	tr.OnCommit(func() error { ran = append(ran, "second"); return nil })
	require.NoError(t, tr.Commit())
	assert.Equal(t, []string{"first", "second"}, ran)
	assert.Equal(t, Committed, tr.State())
}

func TestAbortTruncatesUndoEntries(t *testing.T) {
	fs := vfs.NewMemFS()
	w, err := fs.Create("00changelog.i")
	require.NoError(t, err)
	w.Write([]byte("0123456789"))
	w.Close()

	tr := New(fs, "test")
	tr.RegisterUndo("00changelog.i", 4)
	assert.Equal(t, Dirty, tr.State())

	require.NoError(t, tr.Abort())
	info, err := fs.Stat("00changelog.i")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)
	assert.Equal(t, Aborted, tr.State())
}

func TestAbortRunsHooksAfterUndo(t *testing.T) {
	fs := vfs.NewMemFS()
	w, err := fs.Create("f")
	require.NoError(t, err)
	w.Write([]byte("abcdef"))
	w.Close()

	tr := New(fs, "test")
	tr.RegisterUndo("f", 2)
	var sizeAtHookTime int64
	tr.OnAbort(func() error {
		info, _ := fs.Stat("f")
		sizeAtHookTime = info.Size
		return nil
	})
	require.NoError(t, tr.Abort())
	assert.Equal(t, int64(2), sizeAtHookTime)
}

func TestDoubleCommitFails(t *testing.T) {
	fs := vfs.NewMemFS()
	tr := New(fs, "test")
	require.NoError(t, tr.Commit())
	assert.Error(t, tr.Commit())
}

func TestCleanTransactionCommitIsNoop(t *testing.T) {
	fs := vfs.NewMemFS()
	tr := New(fs, "test")
	assert.Equal(t, Clean, tr.State())
	require.NoError(t, tr.Commit())
	assert.Equal(t, Committed, tr.State())
}
