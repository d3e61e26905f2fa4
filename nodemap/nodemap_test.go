package nodemap

import (
	"testing"

	"github.com/rcowham/revlogstore/rlhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(hex string) rlhash.Node {
	n, err := rlhash.FromHex(hex)
	if err != nil {
		panic(err)
	}
	return n
}

func TestAppendAndLookup(t *testing.T) {
	nm := New()
	n0 := node("000000000000000000000000000000000000000a")
	n1 := node("000000000000000000000000000000000000000b")
	nm.Append(n0, 0)
	nm.Append(n1, 1)

	r, err := nm.Rev(n0)
	require.NoError(t, err)
	assert.Equal(t, Rev(0), r)

	r, err = nm.Rev(n1)
	require.NoError(t, err)
	assert.Equal(t, Rev(1), r)
}

func TestUnknownNode(t *testing.T) {
	nm := New()
	_, err := nm.Rev(node("1111111111111111111111111111111111111111"))
	assert.Error(t, err)
}

func TestDuplicateAppendPanics(t *testing.T) {
	nm := New()
	n := node("abcdefabcdefabcdefabcdefabcdefabcdefabcd")
	nm.Append(n, 0)
	assert.Panics(t, func() { nm.Append(n, 1) })
}

func TestPrefixCollision(t *testing.T) {
	// spec §8 scenario 4: two nodes sharing the prefix "deadbe"
	nm := New()
	n1 := node("deadbe000000000000000000000000000000000a")
	n2 := node("deadbe000000000000000000000000000000000b")
	nm.Append(n1, 0)
	nm.Append(n2, 1)

	_, err := nm.PrefixLookup("deadbe")
	assert.Error(t, err)
	var ambiguous ErrAmbiguousPrefix
	assert.ErrorAs(t, err, &ambiguous)

	r, err := nm.PrefixLookup(n1.Hex())
	require.NoError(t, err)
	assert.Equal(t, Rev(0), r)
}

func TestPrefixUniqueShortMatch(t *testing.T) {
	nm := New()
	n1 := node("123456000000000000000000000000000000000a")
	n2 := node("abcdef000000000000000000000000000000000b")
	nm.Append(n1, 0)
	nm.Append(n2, 1)

	r, err := nm.PrefixLookup("1234")
	require.NoError(t, err)
	assert.Equal(t, Rev(0), r)
}

func TestPrefixNoMatch(t *testing.T) {
	nm := New()
	nm.Append(node("1111111111111111111111111111111111111111"), 0)
	_, err := nm.PrefixLookup("ffff")
	assert.Error(t, err)
}

func TestStripFrom(t *testing.T) {
	nm := New()
	nodes := []rlhash.Node{
		node("000000000000000000000000000000000000000a"),
		node("000000000000000000000000000000000000000b"),
		node("000000000000000000000000000000000000000c"),
	}
	for i, n := range nodes {
		nm.Append(n, Rev(i))
	}
	stripped := nm.StripFrom(2)
	assert.True(t, stripped.HasNode(nodes[0]))
	assert.True(t, stripped.HasNode(nodes[1]))
	assert.False(t, stripped.HasNode(nodes[2]))
}

func TestFullSerializeRoundTrip(t *testing.T) {
	nm := New()
	n0 := node("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	n1 := node("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab")
	nm.Append(n0, 0)
	nm.Append(n1, 1)

	blob := nm.SerializeFull()
	restored, err := LoadFull(blob)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Len())

	r, err := restored.Rev(n0)
	require.NoError(t, err)
	assert.Equal(t, Rev(0), r)
	r, err = restored.Rev(n1)
	require.NoError(t, err)
	assert.Equal(t, Rev(1), r)
}

func TestIncrementalSerializeRoundTrip(t *testing.T) {
	nm := New()
	n0 := node("1111111111111111111111111111111111111111")
	nm.Append(n0, 0)
	baseBlockCount := nm.BlockCount()
	baseRevCount := nm.Len()
	baseBlob := nm.SerializeFull()

	n1 := node("2222222222222222222222222222222222222222")
	nm.Append(n1, 1)
	tail := nm.SerializeIncremental(baseBlockCount, baseRevCount)

	restored, err := LoadIncremental(baseBlob, tail)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Len())
	r, err := restored.Rev(n1)
	require.NoError(t, err)
	assert.Equal(t, Rev(1), r)
}
