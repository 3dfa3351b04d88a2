package remote

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digest(algo string, n int) string {
	return fmt.Sprintf("%s:%02x%s", algo, n, strings.Repeat("0", 62))
}

func frame(kind string, payload []byte) []byte {
	return append([]byte(fmt.Sprintf("%s %d\x00", kind, len(payload))), payload...)
}

func TestFrameKind(t *testing.T) {
	kind, err := FrameKind(frame("tree", []byte{0xa0}))
	require.NoError(t, err)
	assert.Equal(t, "tree", kind)

	for name, data := range map[string][]byte{
		"no header":     []byte("blob"),
		"no size":       []byte("blob\x00a"),
		"unknown kind":  []byte("widget 1\x00a"),
		"size mismatch": []byte("blob 9\x00a"),
		"bad size":      []byte("blob x\x00a"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FrameKind(data)
			assert.Error(t, err)
		})
	}
}

func TestPackUnpackLayer(t *testing.T) {
	objects := []Object{
		{Digest: digest("sha256", 1), Kind: "blob", Data: frame("blob", []byte("hello"))},
		{Digest: digest("blake3", 2), Kind: "tree", Data: frame("tree", bytes.Repeat([]byte{0xab}, 4096))},
		{Digest: digest("sha256", 3), Kind: "commit", Data: frame("commit", nil)},
	}

	packed, err := PackLayer(objects)
	require.NoError(t, err)

	got, err := UnpackLayer(packed)
	require.NoError(t, err)
	assert.Equal(t, objects, got)
}

func TestPackLayerRejectsBadDigest(t *testing.T) {
	for _, d := range []string{
		"md5:" + strings.Repeat("0", 64),
		"sha256:" + strings.Repeat("0", 63),
		"sha256:" + strings.Repeat("A", 64),
		"sha256:" + strings.Repeat("z", 64),
		strings.Repeat("x", 300),
	} {
		_, err := PackLayer([]Object{{Digest: d, Data: frame("blob", []byte("x"))}})
		assert.Error(t, err, d)
	}
}

func TestUnpackLayerRejectsMalformed(t *testing.T) {
	packed, err := PackLayer([]Object{{Digest: digest("sha256", 1), Data: frame("blob", []byte("payload"))}})
	require.NoError(t, err)

	_, err = UnpackLayer(packed[:len(packed)-3])
	assert.Error(t, err)

	_, err = UnpackLayer(packed[:10])
	assert.Error(t, err)

	// A record whose payload is not a framed value.
	raw, err := PackLayer([]Object{{Digest: digest("sha256", 1), Data: []byte("not a frame")}})
	require.NoError(t, err)
	_, err = UnpackLayer(raw)
	assert.Error(t, err)
}

func TestPlanLayersOrdersLeavesFirst(t *testing.T) {
	objects := map[string][]byte{
		digest("sha256", 4): frame("commit", []byte("c")),
		digest("sha256", 3): frame("tree", []byte("t")),
		digest("sha256", 2): frame("blob", []byte("b2")),
		digest("blake3", 1): frame("blob", []byte("b1")),
		digest("sha256", 5): frame("ref", []byte("r")),
	}

	layers, err := PlanLayers(objects)
	require.NoError(t, err)
	require.Len(t, layers, 4)

	var order []string
	for _, layer := range layers {
		for _, obj := range layer {
			order = append(order, obj.Kind)
		}
	}
	assert.Equal(t, []string{"blob", "blob", "ref", "tree", "commit"}, order)
	assert.Equal(t, digest("blake3", 1), layers[0][0].Digest)
}

func TestPlanLayersSplitsLargeKinds(t *testing.T) {
	big := bytes.Repeat([]byte{1}, LayerTargetSize/2+1)
	objects := map[string][]byte{
		digest("sha256", 1): frame("blob", big),
		digest("sha256", 2): frame("blob", big),
		digest("sha256", 3): frame("blob", []byte("small")),
	}

	layers, err := PlanLayers(objects)
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Len(t, layers[0], 1)
	assert.Len(t, layers[1], 2)

	_, err = PlanLayers(map[string][]byte{digest("sha256", 1): []byte("no frame")})
	assert.Error(t, err)
}
