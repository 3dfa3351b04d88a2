package objstore

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/aweris/objstore/internal/codec"
)

// VType discriminates the value variants.
type VType byte

const (
	VTypeBlob    VType = 'B'
	VTypeTree    VType = 'T'
	VTypeCommit  VType = 'C'
	VTypeSoftRef VType = 'R'
)

func (t VType) String() string {
	switch t {
	case VTypeBlob:
		return "blob"
	case VTypeTree:
		return "tree"
	case VTypeCommit:
		return "commit"
	case VTypeSoftRef:
		return "ref"
	default:
		return fmt.Sprintf("vtype(%d)", byte(t))
	}
}

func parseKind(kind string) (VType, bool) {
	switch kind {
	case "blob":
		return VTypeBlob, true
	case "tree":
		return VTypeTree, true
	case "commit":
		return VTypeCommit, true
	case "ref":
		return VTypeSoftRef, true
	}
	return 0, false
}

// Identifier is anything that names a value by identity: Digest, Ref,
// *Value, *Commit and Entry.
type Identifier interface {
	ID() Digest
}

// Ref is a lightweight handle on a stored value. It is never persisted.
type Ref struct {
	Identity Digest `json:"identity" yaml:"identity"`
	VType    VType  `json:"-" yaml:"-"`
}

func (r Ref) ID() Digest { return r.Identity }

func (r Ref) String() string { return string(r.Identity) }

// Attrs are free-form attributes attached to commits and tree entries.
type Attrs = map[string]any

// Entry is one named child reference inside a tree.
type Entry struct {
	Name  string         `cbor:"name"`
	Ref   Digest         `cbor:"ref"`
	Attrs map[string]any `cbor:"attrs,omitempty"`
}

func (e Entry) ID() Digest { return e.Ref }

// Commit binds a root tree to zero or more parent commits.
type Commit struct {
	Identity Digest         `cbor:"-"`
	Parents  []Digest       `cbor:"parents"`
	RootTree Digest         `cbor:"roottree,omitempty"`
	Attrs    map[string]any `cbor:"attrs,omitempty"`
}

func (c *Commit) ID() Digest { return c.Identity }

// Timestamp returns the creation time recorded by ObjectStore.Put.
func (c *Commit) Timestamp() (time.Time, bool) {
	ms, ok := c.Attrs[AttrTimestamp].(int64)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (c *Commit) clone() *Commit {
	return &Commit{
		Identity: c.Identity,
		Parents:  slices.Clone(c.Parents),
		RootTree: c.RootTree,
		Attrs:    maps.Clone(c.Attrs),
	}
}

type softRefPayload struct {
	Ref string `cbor:"ref"`
}

type treePayload struct {
	Children []Entry `cbor:"children"`
}

// Value is an immutable, content-addressed value. Exactly one variant is
// populated, selected by Type. Identity is computed when the value is built.
type Value struct {
	ref     Ref
	encoded []byte

	content any
	entries []Entry
	commit  *Commit
	target  string

	// pending holds child values created or referenced while building this
	// value; they are persisted before it.
	pending []*Value
}

func (v *Value) ID() Digest { return v.ref.Identity }

func (v *Value) Ref() Ref { return v.ref }

func (v *Value) Type() VType { return v.ref.VType }

// Content returns a blob's payload.
func (v *Value) Content() any { return v.content }

// Entries returns a tree's entries in canonical order.
func (v *Value) Entries() []Entry { return slices.Clone(v.entries) }

// Commit returns a copy of a commit's fields.
func (v *Value) Commit() *Commit {
	if v.commit == nil {
		return nil
	}
	return v.commit.clone()
}

// Target returns a soft reference's target.
func (v *Value) Target() string { return v.target }

// Encoded returns the framed bytes the identity was computed from.
func (v *Value) Encoded() []byte { return v.encoded }

// NewBlob wraps content as a blob hashed with DefaultHasher.
func NewBlob(content any) (*Value, error) { return DefaultHasher.Blob(content) }

// NewTree builds a tree hashed with DefaultHasher. See Hasher.Tree.
func NewTree(children ...any) (*Value, error) { return DefaultHasher.Tree(children...) }

// NewCommit builds a commit hashed with DefaultHasher. See Hasher.Commit.
func NewCommit(root Identifier, attrs Attrs, parents ...Identifier) (*Value, error) {
	return DefaultHasher.Commit(root, attrs, parents...)
}

// NewSoftRef builds a soft reference hashed with DefaultHasher.
func NewSoftRef(target string) (*Value, error) { return DefaultHasher.SoftRef(target) }

// Blob wraps arbitrary serializable content. Nil content and empty byte
// slices are rejected.
func (h Hasher) Blob(content any) (*Value, error) {
	switch c := content.(type) {
	case nil:
		return nil, fmt.Errorf("%w: blob content is nil", ErrInvalidValue)
	case []byte:
		if len(c) == 0 {
			return nil, fmt.Errorf("%w: blob content is empty", ErrInvalidValue)
		}
	case *Value, Ref, Entry, Child, *Commit:
		return nil, fmt.Errorf("%w: %T cannot be blob content", ErrInvalidValue, content)
	}

	payload, err := Canonical(content)
	if err != nil {
		return nil, err
	}
	v := h.build(VTypeBlob, payload)
	v.content = content
	return v, nil
}

// Commit builds a commit over root (which may be nil) and parents. Attrs
// are part of the hashed content. Any *Value among root and parents is
// persisted together with the commit.
func (h Hasher) Commit(root Identifier, attrs Attrs, parents ...Identifier) (*Value, error) {
	commit := &Commit{
		Parents: make([]Digest, 0, len(parents)),
		Attrs:   maps.Clone(attrs),
	}

	var pending []*Value
	rootID, err := identityOf(root)
	if err != nil {
		return nil, fmt.Errorf("commit root: %w", err)
	}
	commit.RootTree = rootID
	if rv, ok := root.(*Value); ok && rv != nil {
		pending = append(pending, rv)
	}

	for i, parent := range parents {
		id, err := identityOf(parent)
		if err != nil {
			return nil, fmt.Errorf("commit parent %d: %w", i, err)
		}
		if id == "" {
			return nil, fmt.Errorf("%w: commit parent %d is empty", ErrEncoding, i)
		}
		commit.Parents = append(commit.Parents, id)
		if pv, ok := parent.(*Value); ok && pv != nil {
			pending = append(pending, pv)
		}
	}

	payload, err := Canonical(commit)
	if err != nil {
		return nil, err
	}
	// Hold attrs in their decoded form so a built commit reads the same as
	// one loaded from a store.
	var decoded Commit
	if err := codec.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	commit.Attrs = decoded.Attrs
	v := h.build(VTypeCommit, payload)
	commit.Identity = v.ID()
	v.commit = commit
	v.pending = pending
	return v, nil
}

// SoftRef builds an immutable pointer to something outside the value graph.
func (h Hasher) SoftRef(target string) (*Value, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: soft reference target is empty", ErrInvalidValue)
	}
	payload, err := Canonical(softRefPayload{Ref: target})
	if err != nil {
		return nil, err
	}
	v := h.build(VTypeSoftRef, payload)
	v.target = target
	return v, nil
}

// build frames payload as "<kind> <size>\x00<payload>" and hashes the frame.
func (h Hasher) build(vtype VType, payload []byte) *Value {
	header := vtype.String() + " " + strconv.Itoa(len(payload)) + "\x00"
	encoded := make([]byte, len(header)+len(payload))
	copy(encoded, header)
	copy(encoded[len(header):], payload)

	return &Value{
		ref:     Ref{Identity: h.Sum(encoded), VType: vtype},
		encoded: encoded,
	}
}

// DecodeValue parses framed bytes read under id, verifying that they hash to
// id.
func DecodeValue(id Digest, data []byte) (*Value, error) {
	if err := id.Verify(data); err != nil {
		return nil, err
	}

	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return nil, fmt.Errorf("%w: value %s: missing header terminator", ErrCorrupt, id)
	}
	kind, sizeText, ok := bytes.Cut(data[:idx], []byte(" "))
	if !ok {
		return nil, fmt.Errorf("%w: value %s: malformed header", ErrCorrupt, id)
	}
	vtype, ok := parseKind(string(kind))
	if !ok {
		return nil, fmt.Errorf("%w: value %s: unknown kind %q", ErrCorrupt, id, kind)
	}
	payload := data[idx+1:]
	if size, err := strconv.Atoi(string(sizeText)); err != nil || size != len(payload) {
		return nil, fmt.Errorf("%w: value %s: payload size mismatch", ErrCorrupt, id)
	}

	v := &Value{ref: Ref{Identity: id, VType: vtype}, encoded: data}
	switch vtype {
	case VTypeBlob:
		if err := codec.Unmarshal(payload, &v.content); err != nil {
			return nil, fmt.Errorf("%w: decode blob %s: %v", ErrCorrupt, id, err)
		}
	case VTypeTree:
		var tree treePayload
		if err := codec.Unmarshal(payload, &tree); err != nil {
			return nil, fmt.Errorf("%w: decode tree %s: %v", ErrCorrupt, id, err)
		}
		v.entries = tree.Children
		if v.entries == nil {
			v.entries = []Entry{}
		}
	case VTypeCommit:
		var commit Commit
		if err := codec.Unmarshal(payload, &commit); err != nil {
			return nil, fmt.Errorf("%w: decode commit %s: %v", ErrCorrupt, id, err)
		}
		commit.Identity = id
		if commit.Parents == nil {
			commit.Parents = []Digest{}
		}
		v.commit = &commit
	case VTypeSoftRef:
		var ref softRefPayload
		if err := codec.Unmarshal(payload, &ref); err != nil {
			return nil, fmt.Errorf("%w: decode soft reference %s: %v", ErrCorrupt, id, err)
		}
		v.target = ref.Ref
	}
	return v, nil
}

// children lists the identities a value points at: tree entries, or a
// commit's parents and root tree.
func (v *Value) children() []Digest {
	switch v.Type() {
	case VTypeTree:
		out := make([]Digest, len(v.entries))
		for i, e := range v.entries {
			out[i] = e.Ref
		}
		return out
	case VTypeCommit:
		out := slices.Clone(v.commit.Parents)
		if v.commit.RootTree != "" {
			out = append(out, v.commit.RootTree)
		}
		return out
	default:
		return nil
	}
}

// identityOf normalizes a reference to a validated digest. A nil reference
// yields the empty digest.
func identityOf(ref Identifier) (Digest, error) {
	switch r := ref.(type) {
	case nil:
		return "", nil
	case *Value:
		if r == nil {
			return "", nil
		}
	case *Commit:
		if r == nil {
			return "", nil
		}
	}
	return ParseDigest(string(ref.ID()))
}
