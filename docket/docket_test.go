package docket

import (
	"testing"

	"github.com/rcowham/revlogstore/revlogindex"
	"github.com/rcowham/revlogstore/txn"
	"github.com/rcowham/revlogstore/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter() UIDSource {
	n := 0
	return func() string {
		n++
		return string(rune('a' + n - 1))
	}
}

func TestIndexDataPathsStableOnceAllocated(t *testing.T) {
	d := New("00changelog", revlogindex.FormatV2, revlogindex.FlagGeneralDelta, 'x', counter())
	p1 := d.IndexPath()
	p2 := d.IndexPath()
	assert.Equal(t, p1, p2)
	assert.Equal(t, "00changelog-a.idx", p1)
	assert.Equal(t, "00changelog-b.dat", d.DataPath())
}

func TestWriteNoopWhenClean(t *testing.T) {
	fs := vfs.NewMemFS()
	d := New("00changelog", revlogindex.FormatV2, 0, 'x', counter())
	d.SetIndexEnd(0)
	d.SetDataEnd(0)
	tr := txn.New(fs, "test")
	wrote, err := d.Write(tr, fs, false, false)
	require.NoError(t, err)
	assert.True(t, wrote)

	d.dirty = false
	wrote, err = d.Write(tr, fs, false, false)
	require.NoError(t, err)
	assert.False(t, wrote)
}

func TestWriteLoadRoundTrip(t *testing.T) {
	fs := vfs.NewMemFS()
	d := New("00manifest", revlogindex.FormatV2, revlogindex.FlagInline, 'z', counter())
	d.SetIndexEnd(96)
	d.SetDataEnd(1024)
	tr := txn.New(fs, "test")
	_, err := d.Write(tr, fs, false, false)
	require.NoError(t, err)

	loaded, err := LoadFromVFS(fs, "00manifest", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(96), loaded.OfficialIndexEnd())
	assert.Equal(t, int64(1024), loaded.OfficialDataEnd())
	assert.False(t, loaded.Dirty())
}

func TestPendingWriteHidesTailFromOfficial(t *testing.T) {
	fs := vfs.NewMemFS()
	d := New("00changelog", revlogindex.FormatV2, 0, 'x', counter())
	d.SetIndexEnd(96)
	d.SetDataEnd(500)
	tr := txn.New(fs, "test")
	_, err := d.Write(tr, fs, false, false) // commit baseline
	require.NoError(t, err)

	d.SetIndexEnd(192) // grow, not yet committed
	d.SetDataEnd(1000)
	wrote, err := d.Write(tr, fs, true, false) // pending write
	require.NoError(t, err)
	assert.True(t, wrote)

	// spec §8 scenario 5: re-reading after a pending-only write must
	// still see the old official length.
	loaded, err := LoadFromVFS(fs, "00changelog", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(96), loaded.OfficialIndexEnd())
	assert.Equal(t, int64(192), loaded.PendingIndexEnd())

	// docket itself should still be dirty after a pending write (per
	// docket.py: self._dirty = pending).
	assert.True(t, d.Dirty())
}

func TestCommitPromotesPendingToOfficial(t *testing.T) {
	fs := vfs.NewMemFS()
	d := New("00changelog", revlogindex.FormatV2, 0, 'x', counter())
	d.SetIndexEnd(96)
	tr := txn.New(fs, "test")
	_, err := d.Write(tr, fs, true, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.OfficialIndexEnd())

	_, err = d.Write(tr, fs, false, false)
	require.NoError(t, err)
	assert.Equal(t, int64(96), d.OfficialIndexEnd())
	assert.False(t, d.Dirty())
}

func TestBackupRegisteredBeforeOverwrite(t *testing.T) {
	fs := vfs.NewMemFS()
	d := New("00changelog", revlogindex.FormatV2, 0, 'x', counter())
	d.SetIndexEnd(10)
	tr := txn.New(fs, "test")
	_, err := d.Write(tr, fs, false, false)
	require.NoError(t, err)

	d.SetIndexEnd(20)
	_, err = d.Write(tr, fs, false, false)
	require.NoError(t, err)

	assert.Len(t, tr.Backups(), 1)
}
