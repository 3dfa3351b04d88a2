package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("entity history "), 200)
	small := []byte("tiny")

	for _, algorithm := range []Algorithm{None, Zstd, LZ4} {
		t.Run(algorithm.String(), func(t *testing.T) {
			c, err := NewCompressor(algorithm, 2)
			require.NoError(t, err)
			defer c.Close()

			for _, input := range [][]byte{compressible, small} {
				framed, err := c.Compress(input)
				require.NoError(t, err)

				got, err := c.Decompress(framed)
				require.NoError(t, err)
				assert.Equal(t, input, got)
			}
		})
	}
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	input := bytes.Repeat([]byte("abcdefgh"), 1024)

	for _, algorithm := range []Algorithm{Zstd, LZ4} {
		c, err := NewCompressor(algorithm, 2)
		require.NoError(t, err)

		framed, err := c.Compress(input)
		require.NoError(t, err)
		assert.Equal(t, byte(algorithm), framed[0])
		assert.Less(t, len(framed), len(input))
		c.Close()
	}
}

func TestSmallPayloadStoredRaw(t *testing.T) {
	c, err := NewCompressor(Zstd, 2)
	require.NoError(t, err)
	defer c.Close()

	framed, err := c.Compress([]byte("short"))
	require.NoError(t, err)
	assert.Equal(t, byte(None), framed[0])
}

func TestDecompressAcrossSettings(t *testing.T) {
	writer, err := NewCompressor(LZ4, 2)
	require.NoError(t, err)
	defer writer.Close()

	input := bytes.Repeat([]byte("commit "), 100)
	framed, err := writer.Compress(input)
	require.NoError(t, err)

	reader, err := NewCompressor(None, 0)
	require.NoError(t, err)
	defer reader.Close()

	got, err := reader.Decompress(framed)
	require.NoError(t, err)
	assert.Equal(t, input, got)
}

func TestParseAlgorithm(t *testing.T) {
	for name, want := range map[string]Algorithm{"": None, "none": None, "zstd": Zstd, "lz4": LZ4} {
		got, err := ParseAlgorithm(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAlgorithm("brotli")
	assert.Error(t, err)
}

func TestDecompressRejectsEmpty(t *testing.T) {
	c, err := NewCompressor(None, 0)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress(nil)
	assert.Error(t, err)
}
