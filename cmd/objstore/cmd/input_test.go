package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/objstore"
)

func TestReadValueJSONC(t *testing.T) {
	v, err := readValue(`{
		// owner
		"name": "ada",
		"age": 36,
		"score": 1.5,
		"tags": [{"k": 1}],
	}`, nil, false)
	require.NoError(t, err)

	assert.Equal(t, objstore.Fields{
		"name":  "ada",
		"age":   int64(36),
		"score": 1.5,
		"tags":  []any{map[string]any{"k": int64(1)}},
	}, v)
}

func TestReadValuePlainString(t *testing.T) {
	v, err := readValue("hello world", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "hello world", v)

	v, err = readValue("42", nil, true)
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	v, err = readValue("42", nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestReadValueSources(t *testing.T) {
	v, err := readValue("-", strings.NewReader(`["a", 2]`), false)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", int64(2)}, v)

	path := filepath.Join(t.TempDir(), "value.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"x": true}`), 0o644))
	v, err = readValue("@"+path, nil, false)
	require.NoError(t, err)
	assert.Equal(t, objstore.Fields{"x": true}, v)

	_, err = readValue("@"+filepath.Join(t.TempDir(), "missing"), nil, false)
	assert.Error(t, err)
}

func TestParseAttrs(t *testing.T) {
	attrs, err := parseAttrs([]string{"msg=hello", "empty=", "eq=a=b"})
	require.NoError(t, err)
	assert.Equal(t, objstore.Attrs{"msg": "hello", "empty": "", "eq": "a=b"}, attrs)

	attrs, err = parseAttrs(nil)
	require.NoError(t, err)
	assert.Nil(t, attrs)

	_, err = parseAttrs([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAttrs([]string{"=v"})
	assert.Error(t, err)
}

func TestPayloadOf(t *testing.T) {
	payload, err := payloadOf([]byte("blob 3\x00abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), payload)

	_, err = payloadOf([]byte("no header"))
	assert.Error(t, err)
}
