package revlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/revlogstore/txn"
	"github.com/rcowham/revlogstore/vfs"
)

func TestPersistentNodemapWrittenOnCommit(t *testing.T) {
	fs := vfs.NewMemFS()
	rl, err := Open(fs, "data/a_file", Options{
		FormatVersion:     2,
		GeneralDelta:      true,
		PersistentNodemap: true,
		UIDSource:         uidCounter(),
	})
	require.NoError(t, err)

	tr := txn.New(fs, "t")
	_, err = rl.AddRevision(tr, []byte("hello"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	_, err = rl.AddRevision(tr, []byte("hello world"), 0, NullRev, 1, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	require.NoError(t, rl.Commit(tr))

	assert.True(t, fs.Exists("data/a_file.nd"))
}

func TestPersistentNodemapReusedOnReopen(t *testing.T) {
	fs := vfs.NewMemFS()
	opts := Options{
		FormatVersion:     2,
		GeneralDelta:      true,
		PersistentNodemap: true,
		UIDSource:         uidCounter(),
	}
	rl, err := Open(fs, "data/a_file", opts)
	require.NoError(t, err)

	tr := txn.New(fs, "t")
	node0Text := []byte("hello")
	r0, err := rl.AddRevision(tr, node0Text, NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	_, err = rl.AddRevision(tr, []byte("hello world"), r0, NullRev, 1, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	require.NoError(t, rl.Commit(tr))

	node0, err := rl.Node(r0)
	require.NoError(t, err)

	reopened, err := Open(fs, "data/a_file", opts)
	require.NoError(t, err)
	assert.True(t, reopened.nodemapLoaded, "reopen should have trusted the persisted node map")

	rev, err := reopened.Rev(node0)
	require.NoError(t, err)
	assert.Equal(t, r0, rev)
}

func TestPersistentNodemapStaleFileIsIgnored(t *testing.T) {
	fs := vfs.NewMemFS()
	opts := Options{
		FormatVersion:     2,
		GeneralDelta:      true,
		PersistentNodemap: true,
		UIDSource:         uidCounter(),
	}
	rl, err := Open(fs, "data/a_file", opts)
	require.NoError(t, err)

	tr := txn.New(fs, "t")
	_, err = rl.AddRevision(tr, []byte("hello"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	require.NoError(t, rl.Commit(tr))

	// Append a further revision without persisting the node map (simulating
	// an .nd file that has fallen behind the index), by disabling the
	// persister on a second handle and committing through it instead.
	stale, err := Open(fs, "data/a_file", Options{FormatVersion: 2, GeneralDelta: true, UIDSource: opts.UIDSource})
	require.NoError(t, err)
	tr2 := txn.New(fs, "t2")
	_, err = stale.AddRevision(tr2, []byte("hello world"), 0, NullRev, 1, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	require.NoError(t, stale.Commit(tr2))

	reopened, err := Open(fs, "data/a_file", opts)
	require.NoError(t, err)
	assert.False(t, reopened.nodemapLoaded, "a node map covering fewer revisions than the index must be rebuilt")
	assert.Equal(t, 2, reopened.Len())
}
