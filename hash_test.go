package objstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherSum(t *testing.T) {
	// sha256("hello")
	assert.Equal(t,
		Digest("sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"),
		DefaultHasher.Sum([]byte("hello")))

	b3, err := NewHasher(BLAKE3)
	require.NoError(t, err)
	d := b3.Sum([]byte("hello"))
	assert.Equal(t, BLAKE3, d.Algorithm())
	assert.Len(t, strings.TrimPrefix(string(d), "blake3:"), 64)
	assert.NotEqual(t, DefaultHasher.Sum([]byte("hello")).Short(), d.Short())
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, h.Algorithm())

	_, err = NewHasher("md5")
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestHashContentIsCanonical(t *testing.T) {
	a, err := DefaultHasher.HashContent(map[string]any{"x": 1, "y": []any{"a", true}})
	require.NoError(t, err)
	b, err := DefaultHasher.HashContent(map[string]any{"y": []any{"a", true}, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = DefaultHasher.HashContent(func() {})
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestParseDigest(t *testing.T) {
	valid := DefaultHasher.Sum([]byte("x"))
	got, err := ParseDigest(string(valid))
	require.NoError(t, err)
	assert.Equal(t, valid, got)

	for _, bad := range []string{
		"",
		"hello",
		"sha256:abc",
		"md5:" + strings.Repeat("0", 64),
		"sha256:" + strings.Repeat("z", 64),
	} {
		_, err := ParseDigest(bad)
		assert.ErrorIs(t, err, ErrEncoding, bad)
	}
}

func TestDigestVerify(t *testing.T) {
	data := []byte("payload")
	for _, algo := range []Algorithm{SHA256, BLAKE3} {
		h, err := NewHasher(algo)
		require.NoError(t, err)
		d := h.Sum(data)
		assert.NoError(t, d.Verify(data))
		assert.ErrorIs(t, d.Verify([]byte("tampered")), ErrCorrupt)
	}
}

func TestDigestShort(t *testing.T) {
	d := DefaultHasher.Sum([]byte("hello"))
	assert.Equal(t, "2cf24dba5fb0", d.Short())
	assert.Equal(t, "odd", Digest("odd").Short())
}
