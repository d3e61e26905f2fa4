package compression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZlibRoundTrip(t *testing.T) {
	r := NewRegistry()
	text := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly")
	e, err := r.Engine(MarkerZlib)
	require.NoError(t, err)
	payload, err := e.Compress(text)
	require.NoError(t, err)
	assert.Equal(t, byte(MarkerZlib), payload[0])

	got, err := r.Decompress(payload, false)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestZstdRoundTrip(t *testing.T) {
	r := NewRegistry()
	text := []byte("zstd payload round trip test data, with some repetition repetition repetition")
	e, err := r.Engine(MarkerZstd)
	require.NoError(t, err)
	payload, err := e.Compress(text)
	require.NoError(t, err)
	assert.Equal(t, byte(MarkerZstd), payload[0])

	got, err := r.Decompress(payload, false)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestSnappyRoundTrip(t *testing.T) {
	r := NewRegistry()
	text := []byte("snappy payload round trip test data")
	e, err := r.Engine(MarkerSnappy)
	require.NoError(t, err)
	payload, err := e.Compress(text)
	require.NoError(t, err)

	got, err := r.Decompress(payload, false)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestNoneRoundTrip(t *testing.T) {
	r := NewRegistry()
	text := []byte("stored verbatim")
	e, err := r.Engine(MarkerNone)
	require.NoError(t, err)
	payload, err := e.Compress(text)
	require.NoError(t, err)
	assert.Equal(t, byte(0), payload[0])

	got, err := r.Decompress(payload, false)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestEmptyPayload(t *testing.T) {
	r := NewRegistry()
	got, err := r.Decompress(nil, false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnknownMarkerRejectedWithoutFallback(t *testing.T) {
	r := NewRegistry()
	_, err := r.Decompress([]byte{0xFF, 1, 2, 3}, false)
	assert.Error(t, err)
}

func TestByName(t *testing.T) {
	r := NewRegistry()
	e, err := r.ByName("zstd")
	require.NoError(t, err)
	assert.Equal(t, MarkerZstd, e.Marker())

	_, err = r.ByName("lzma")
	assert.Error(t, err)
}
