package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("x"),
		bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 4096),
	}

	for _, in := range cases {
		var compressed, out bytes.Buffer
		require.NoError(t, Compress(bytes.NewReader(in), &compressed))
		require.NoError(t, Decompress(&compressed, &out))
		require.Equal(t, in, out.Bytes())
	}
}

func TestDecompressCorrupt(t *testing.T) {
	var compressed, out bytes.Buffer
	require.NoError(t, Compress(bytes.NewReader([]byte("hello world")), &compressed))

	corrupt := compressed.Bytes()
	for i := range corrupt {
		corrupt[i] ^= 0xff
	}

	err := Decompress(bytes.NewReader(corrupt), &out)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecompressTruncated(t *testing.T) {
	var compressed, out bytes.Buffer
	require.NoError(t, Compress(bytes.NewReader(bytes.Repeat([]byte("a"), 1<<20)), &compressed))

	truncated := compressed.Bytes()[:compressed.Len()/2]
	err := Decompress(bytes.NewReader(truncated), &out)
	require.Error(t, err)
}
