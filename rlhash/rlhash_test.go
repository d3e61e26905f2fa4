package rlhash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyTextHash(t *testing.T) {
	// spec §8 scenario 1: sha1(null20 ‖ null20 ‖ b"") = b80de5d138758541c5f05265ad144ab9fa86d1db
	h := Standard{}
	got := h.Hash(Null, Null, []byte(""))
	assert.Equal(t, "b80de5d138758541c5f05265ad144ab9fa86d1db", got.Hex())
}

func TestParentOrderIrrelevance(t *testing.T) {
	p1, err := FromHex(strings.Repeat("11", 20))
	require.NoError(t, err)
	p2, err := FromHex(strings.Repeat("22", 20))
	require.NoError(t, err)

	h := Standard{}
	a := h.Hash(p1, p2, []byte("text"))
	b := h.Hash(p2, p1, []byte("text"))
	assert.Equal(t, a, b, "P3: node(text, p1, p2) == node(text, p2, p1)")
}

func TestHashDeterministic(t *testing.T) {
	h := Standard{}
	a := h.Hash(Null, Null, []byte("abc"))
	b := h.Hash(Null, Null, []byte("abc"))
	assert.Equal(t, a, b)
}

func TestFromHexRejectsWrongLength(t *testing.T) {
	_, err := FromHex("abcd")
	assert.Error(t, err)
}

func TestNullIsZero(t *testing.T) {
	assert.True(t, Null.IsNull())
	n, _ := FromBytes(make([]byte, Size))
	assert.True(t, n.IsNull())
}
