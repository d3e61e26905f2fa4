package nodemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/revlogstore/vfs"
)

func TestPersisterSaveLoadFullRoundTrip(t *testing.T) {
	fs := vfs.NewMemFS()
	nm := New()
	nm.Append(node("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 0)
	nm.Append(node("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab"), 1)

	p := NewPersister(0.25)
	blockBase, revBase, err := p.Save(fs, "store/data/a_file.nd", nm, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, nm.BlockCount(), blockBase)
	assert.Equal(t, 2, revBase)

	restored, restoredBlockBase, restoredRevBase, err := p.Load(fs, "store/data/a_file.nd")
	require.NoError(t, err)
	assert.Equal(t, blockBase, restoredBlockBase)
	assert.Equal(t, revBase, restoredRevBase)
	assert.Equal(t, 2, restored.Len())
	r, err := restored.Rev(node("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab"))
	require.NoError(t, err)
	assert.Equal(t, Rev(1), r)
}

func TestPersisterSaveAppendsIncrementalTailBelowThreshold(t *testing.T) {
	fs := vfs.NewMemFS()
	nm := New()
	for i, hex := range []string{
		"1111111111111111111111111111111111111111",
		"2222222222222222222222222222222222222222",
		"3333333333333333333333333333333333333333",
		"4444444444444444444444444444444444444444",
	} {
		nm.Append(node(hex), Rev(i))
	}

	p := NewPersister(0.99) // near-1 ratio so growth from one more append stays incremental
	blockBase, revBase, err := p.Save(fs, "store/data/a_file.nd", nm, 0, 0)
	require.NoError(t, err)

	nm.Append(node("5555555555555555555555555555555555555555"), 4)
	blockBase2, _, err := p.Save(fs, "store/data/a_file.nd", nm, blockBase, revBase)
	require.NoError(t, err)
	assert.Equal(t, blockBase, blockBase2, "growth under the ratio should append, keeping the same base")

	restored, _, _, err := p.Load(fs, "store/data/a_file.nd")
	require.NoError(t, err)
	assert.Equal(t, 5, restored.Len())
	r, err := restored.Rev(node("5555555555555555555555555555555555555555"))
	require.NoError(t, err)
	assert.Equal(t, Rev(4), r)
}

func TestPersisterLoadMissingFileReturnsEmptyMap(t *testing.T) {
	fs := vfs.NewMemFS()
	p := NewPersister(0.25)
	nm, blockBase, revBase, err := p.Load(fs, "store/data/missing.nd")
	require.NoError(t, err)
	assert.Equal(t, 0, blockBase)
	assert.Equal(t, 0, revBase)
	assert.Equal(t, 0, nm.Len())
}
