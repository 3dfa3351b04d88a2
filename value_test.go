package objstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobIdentityIsFramed(t *testing.T) {
	blob, err := NewBlob("hello")
	require.NoError(t, err)

	assert.Equal(t, VTypeBlob, blob.Type())
	assert.True(t, bytes.HasPrefix(blob.Encoded(), []byte("blob 6\x00")))
	assert.Equal(t, DefaultHasher.Sum(blob.Encoded()), blob.ID())
	assert.Equal(t, "hello", blob.Content())
}

func TestBlobRejectsEmpty(t *testing.T) {
	_, err := NewBlob(nil)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = NewBlob([]byte{})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = NewBlob(Ref{})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = NewBlob(make(chan int))
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestKindSeparatesIdentities(t *testing.T) {
	// A blob holding the same payload as a soft reference must not collide.
	ref, err := NewSoftRef("s3://bucket/key")
	require.NoError(t, err)
	blob, err := NewBlob(map[string]any{"ref": "s3://bucket/key"})
	require.NoError(t, err)

	assert.NotEqual(t, ref.ID(), blob.ID())
}

func TestSoftRef(t *testing.T) {
	_, err := NewSoftRef("")
	assert.ErrorIs(t, err, ErrInvalidValue)

	ref, err := NewSoftRef("https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, VTypeSoftRef, ref.Type())
	assert.Equal(t, "https://example.com/a", ref.Target())
}

func TestTreeOrderIndependent(t *testing.T) {
	a, err := NewTree("x", 2, Child{Name: "n", Value: true, Attrs: Attrs{"mode": 1}})
	require.NoError(t, err)
	b, err := NewTree(Child{Value: true, Attrs: Attrs{"mode": 1}, Name: "n"}, 2, "x")
	require.NoError(t, err)

	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, a.Entries(), b.Entries())
	assert.Len(t, a.Entries(), 3)
}

func TestTreeEntriesSortedByRef(t *testing.T) {
	tree, err := NewTree("c", "a", "b")
	require.NoError(t, err)

	entries := tree.Entries()
	for i := 1; i < len(entries); i++ {
		assert.Less(t, string(entries[i-1].Ref), string(entries[i].Ref))
	}
}

func TestTreeTieBreaksOnNameThenAttrs(t *testing.T) {
	blob, err := NewBlob("same")
	require.NoError(t, err)

	tree, err := NewTree(
		Child{Name: "b", Value: blob},
		Child{Name: "a", Value: blob, Attrs: Attrs{"v": 2}},
		Child{Name: "a", Value: blob, Attrs: Attrs{"v": 1}},
	)
	require.NoError(t, err)

	entries := tree.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, 1, entries[0].Attrs["v"])
	assert.Equal(t, "a", entries[1].Name)
	assert.Equal(t, "b", entries[2].Name)
}

func TestTreeChildKinds(t *testing.T) {
	blob, err := NewBlob("leaf")
	require.NoError(t, err)

	tree, err := NewTree(
		blob,
		blob.Ref(),
		blob.ID(),
		Entry{Name: "named", Ref: blob.ID()},
		Fields{"k": "v"},
	)
	require.NoError(t, err)

	// blob, blob.Ref() and blob.ID() normalize to the same entry.
	entries := tree.Entries()
	assert.Len(t, entries, 3)
	for _, e := range entries {
		if e.Name != "named" && e.Ref == blob.ID() {
			assert.Equal(t, string(blob.ID()), e.Name)
		}
	}
}

func TestTreeRejectsInvalidReference(t *testing.T) {
	_, err := NewTree(Ref{Identity: "nope"})
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = NewTree(Entry{Name: "x", Ref: "sha256:short"})
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = NewTree((*Value)(nil))
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestEmptyTree(t *testing.T) {
	a, err := NewTree()
	require.NoError(t, err)
	b, err := NewTree()
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
	assert.Empty(t, a.Entries())
}

func TestFieldsIndependentOfMapOrder(t *testing.T) {
	a, err := DefaultHasher.Fields(Fields{"name": "ada", "age": 36, "meta": Fields{"x": 1}})
	require.NoError(t, err)
	b, err := DefaultHasher.Fields(Fields{"meta": Fields{"x": 1}, "age": 36, "name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())

	names := make([]string, 0)
	for _, e := range a.Entries() {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"name", "age", "meta"}, names)
}

func TestCommit(t *testing.T) {
	tree, err := NewTree("x")
	require.NoError(t, err)
	root, err := NewCommit(tree, Attrs{"msg": "init"})
	require.NoError(t, err)

	c := root.Commit()
	assert.Equal(t, tree.ID(), c.RootTree)
	assert.Empty(t, c.Parents)
	assert.Equal(t, root.ID(), c.ID())

	child, err := NewCommit(tree, nil, root, root.Ref())
	require.NoError(t, err)
	assert.Equal(t, []Digest{root.ID(), root.ID()}, child.Commit().Parents)

	// Attrs are part of the identity.
	other, err := NewCommit(tree, Attrs{"msg": "other"})
	require.NoError(t, err)
	assert.NotEqual(t, root.ID(), other.ID())
}

func TestCommitWithoutRoot(t *testing.T) {
	c, err := NewCommit(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, c.Commit().RootTree)
}

func TestCommitRejectsInvalidReference(t *testing.T) {
	_, err := NewCommit(Digest("bogus"), nil)
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = NewCommit(nil, nil, Digest(""))
	assert.ErrorIs(t, err, ErrEncoding)

	_, err = NewCommit(nil, Attrs{"bad": make(chan int)})
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestDecodeValueRoundTrip(t *testing.T) {
	tree, err := NewTree("x", Child{Name: "n", Value: 1, Attrs: Attrs{"k": "v"}})
	require.NoError(t, err)
	commit, err := NewCommit(tree, Attrs{"ts": int64(5)})
	require.NoError(t, err)
	blob, err := NewBlob(map[string]any{"a": []any{int64(1), "b"}})
	require.NoError(t, err)
	ref, err := NewSoftRef("target")
	require.NoError(t, err)

	for _, v := range []*Value{tree, commit, blob, ref} {
		t.Run(v.Type().String(), func(t *testing.T) {
			got, err := DecodeValue(v.ID(), v.Encoded())
			require.NoError(t, err)
			assert.Equal(t, v.Type(), got.Type())
			assert.Equal(t, v.ID(), got.ID())
			assert.Equal(t, v.Content(), got.Content())
			assert.Equal(t, v.Target(), got.Target())
		})
	}

	got, err := DecodeValue(tree.ID(), tree.Encoded())
	require.NoError(t, err)
	require.Len(t, got.Entries(), 2)
	for _, e := range got.Entries() {
		if e.Name == "n" {
			assert.Equal(t, map[string]any{"k": "v"}, e.Attrs)
		}
	}

	gc, err := DecodeValue(commit.ID(), commit.Encoded())
	require.NoError(t, err)
	assert.Equal(t, tree.ID(), gc.Commit().RootTree)
	ts, ok := gc.Commit().Timestamp()
	require.True(t, ok)
	assert.Equal(t, int64(5), ts.UnixMilli())
}

func TestDecodeValueDetectsCorruption(t *testing.T) {
	blob, err := NewBlob("hello")
	require.NoError(t, err)

	tampered := bytes.Clone(blob.Encoded())
	tampered[len(tampered)-1] ^= 0xff
	_, err = DecodeValue(blob.ID(), tampered)
	assert.ErrorIs(t, err, ErrCorrupt)

	// Bytes that hash correctly but carry a bogus header.
	bogus := []byte("widget 1\x00a")
	_, err = DecodeValue(DefaultHasher.Sum(bogus), bogus)
	assert.ErrorIs(t, err, ErrCorrupt)

	short := []byte("blob 9\x00a")
	_, err = DecodeValue(DefaultHasher.Sum(short), short)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBLAKE3Values(t *testing.T) {
	h, err := NewHasher(BLAKE3)
	require.NoError(t, err)
	blob, err := h.Blob("hello")
	require.NoError(t, err)
	assert.Equal(t, BLAKE3, blob.ID().Algorithm())

	got, err := DecodeValue(blob.ID(), blob.Encoded())
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content())
}

func TestCommitAttrsHeldDecoded(t *testing.T) {
	c, err := NewCommit(nil, Attrs{AttrTimestamp: 7, "n": uint8(3)})
	require.NoError(t, err)

	commit := c.Commit()
	assert.Equal(t, int64(3), commit.Attrs["n"])
	ts, ok := commit.Timestamp()
	require.True(t, ok)
	assert.Equal(t, int64(7), ts.UnixMilli())

	stored, err := DecodeValue(c.ID(), c.Encoded())
	require.NoError(t, err)
	assert.Equal(t, commit.Attrs, stored.Commit().Attrs)

	noTime, err := NewCommit(nil, Attrs{AttrTimestamp: "yesterday"})
	require.NoError(t, err)
	_, ok = noTime.Commit().Timestamp()
	assert.False(t, ok)
}
