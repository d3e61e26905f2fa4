package revlog

import (
	"testing"

	"github.com/rcowham/revlogstore/txn"
	"github.com/rcowham/revlogstore/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uidCounter() func() string {
	n := 0
	letters := "abcdefghijklmnopqrstuvwxyz"
	return func() string {
		s := string(letters[n%len(letters)])
		n++
		return s
	}
}

func openV1Inline(t *testing.T) (*Revlog, vfs.VFS) {
	t.Helper()
	fs := vfs.NewMemFS()
	rl, err := Open(fs, "data/file", Options{FormatVersion: 1, Inline: true, UIDSource: uidCounter()})
	require.NoError(t, err)
	return rl, fs
}

func openV2(t *testing.T) (*Revlog, vfs.VFS) {
	t.Helper()
	fs := vfs.NewMemFS()
	rl, err := Open(fs, "00changelog", Options{FormatVersion: 2, GeneralDelta: true, UIDSource: uidCounter()})
	require.NoError(t, err)
	return rl, fs
}

func TestEmptyRevlogHasNoTip(t *testing.T) {
	rl, _ := openV1Inline(t)
	assert.Equal(t, 0, rl.Len())
	assert.Equal(t, NullRev, rl.Tip())
}

func TestAppendAndReadBackV1Inline(t *testing.T) {
	rl, fs := openV1Inline(t)
	tr := txn.New(fs, "t")

	r0, err := rl.AddRevision(tr, []byte("hello world"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	assert.Equal(t, Rev(0), r0)

	r1, err := rl.AddRevision(tr, []byte("hello there world"), r0, NullRev, 1, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	assert.Equal(t, Rev(1), r1)

	require.NoError(t, tr.Commit())

	text0, err := rl.Revision(r0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(text0))

	text1, err := rl.Revision(r1)
	require.NoError(t, err)
	assert.Equal(t, "hello there world", string(text1))

	assert.Equal(t, 2, rl.Len())
	assert.Equal(t, Rev(1), rl.Tip())
}

func TestReopenV1InlineRoundTrip(t *testing.T) {
	rl, fs := openV1Inline(t)
	tr := txn.New(fs, "t")
	r0, err := rl.AddRevision(tr, []byte("abc"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	r1, err := rl.AddRevision(tr, []byte("abcdef"), r0, NullRev, 1, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	require.NoError(t, tr.Commit())

	reopened, err := Open(fs, "data/file", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	text1, err := reopened.Revision(r1)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(text1))
}

func TestDuplicateNodeSameParentsIsNoop(t *testing.T) {
	rl, fs := openV1Inline(t)
	tr := txn.New(fs, "t")
	r0, err := rl.AddRevision(tr, []byte("same"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)

	r0again, err := rl.AddRevision(tr, []byte("same"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	assert.Equal(t, r0, r0again)
	assert.Equal(t, 1, rl.Len())
}

func TestPendingWriteHiddenFromOtherReaderV2(t *testing.T) {
	rl, fs := openV2(t)
	tr := txn.New(fs, "t")
	_, err := rl.AddRevision(tr, []byte("v2 content"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	require.NoError(t, rl.Flush(tr)) // durable on disk, still pending

	// a fresh Open while the writing transaction is only pending must not
	// see this revision (spec I5).
	other, err := Open(fs, "00changelog", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, other.Len())

	require.NoError(t, rl.Commit(tr))

	afterCommit, err := Open(fs, "00changelog", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, afterCommit.Len())
}

func TestStripRemovesTrailingRevisions(t *testing.T) {
	rl, fs := openV1Inline(t)
	tr := txn.New(fs, "t")
	r0, err := rl.AddRevision(tr, []byte("one"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	_, err = rl.AddRevision(tr, []byte("two"), r0, NullRev, 1, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	require.NoError(t, tr.Commit())

	tr2 := txn.New(fs, "strip")
	require.NoError(t, rl.Strip(tr2, 1))
	require.NoError(t, tr2.Commit())

	assert.Equal(t, 1, rl.Len())
	text, err := rl.Revision(0)
	require.NoError(t, err)
	assert.Equal(t, "one", string(text))
}

func TestParentOrderDoesNotChangeNode(t *testing.T) {
	fs1 := vfs.NewMemFS()
	rl1, err := Open(fs1, "f", Options{FormatVersion: 1, Inline: true, UIDSource: uidCounter()})
	require.NoError(t, err)
	tr1 := txn.New(fs1, "t")
	a, err := rl1.AddRevision(tr1, []byte("parentA"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	b, err := rl1.AddRevision(tr1, []byte("parentB"), NullRev, NullRev, 1, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	c1, err := rl1.AddRevision(tr1, []byte("child"), a, b, 2, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	node1, err := rl1.Node(c1)
	require.NoError(t, err)

	fs2 := vfs.NewMemFS()
	rl2, err := Open(fs2, "f", Options{FormatVersion: 1, Inline: true, UIDSource: uidCounter()})
	require.NoError(t, err)
	tr2 := txn.New(fs2, "t")
	a2, err := rl2.AddRevision(tr2, []byte("parentA"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	b2, err := rl2.AddRevision(tr2, []byte("parentB"), NullRev, NullRev, 1, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	c2, err := rl2.AddRevision(tr2, []byte("child"), b2, a2, 2, nil, 0, DeltaSameRevs) // swapped
	require.NoError(t, err)
	node2, err := rl2.Node(c2)
	require.NoError(t, err)

	assert.Equal(t, node1, node2)
}

func TestCloneReproducesAllRevisions(t *testing.T) {
	rl, fs := openV1Inline(t)
	tr := txn.New(fs, "t")
	r0, err := rl.AddRevision(tr, []byte("base text"), NullRev, NullRev, 0, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	_, err = rl.AddRevision(tr, []byte("base text plus more"), r0, NullRev, 1, nil, 0, DeltaSameRevs)
	require.NoError(t, err)
	require.NoError(t, tr.Commit())

	dest, err := Open(fs, "cloned", Options{FormatVersion: 1, Inline: true, UIDSource: uidCounter()})
	require.NoError(t, err)
	tr2 := txn.New(fs, "clone")
	_, err = CloneInto(tr2, rl, dest, DeltaSameRevs)
	require.NoError(t, err)
	require.NoError(t, tr2.Commit())

	assert.Equal(t, rl.Len(), dest.Len())
	for r := 0; r < rl.Len(); r++ {
		want, err := rl.Revision(Rev(r))
		require.NoError(t, err)
		got, err := dest.Revision(Rev(r))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRegisterFlagProcessorRejectsUnknownFlag(t *testing.T) {
	rl, _ := openV1Inline(t)
	err := rl.RegisterFlagProcessor(0x8000, FlagProcessor{})
	assert.Error(t, err)
}

func TestRegisterFlagProcessorRejectsDoubleRegistration(t *testing.T) {
	rl, _ := openV1Inline(t)
	require.NoError(t, rl.RegisterFlagProcessor(FlagExternalStore, FlagProcessor{}))
	assert.Error(t, rl.RegisterFlagProcessor(FlagExternalStore, FlagProcessor{}))
}

func TestDeltaChainBoundIsEnforced(t *testing.T) {
	rl, fs := openV1Inline(t)
	rl.opts.ChainLengthMax = 2
	tr := txn.New(fs, "t")

	prev := NullRev
	for i := 0; i < 5; i++ {
		rev, err := rl.AddRevision(tr, []byte{byte(i), byte(i), byte(i)}, prev, NullRev, i, nil, 0, DeltaAlways)
		require.NoError(t, err)
		prev = rev
	}
	require.NoError(t, tr.Commit())

	for r := 0; r < rl.Len(); r++ {
		assert.LessOrEqual(t, rl.chainLength(Rev(r)), rl.opts.ChainLengthMax)
	}
}
