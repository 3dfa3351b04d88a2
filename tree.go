package objstore

import (
	"bytes"
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// Child names a tree child. Value may be anything Hasher.Tree accepts as a
// bare child.
type Child struct {
	Name  string
	Value any
	Attrs Attrs
}

// Fields is a structured value whose fields become named tree entries.
// Nested Fields become subtrees; any other field value is stored as a blob.
type Fields map[string]any

// EntryValue is a tree entry resolved one level: Value is nil when the
// referenced value is not in the store.
type EntryValue struct {
	Entry
	Value *Value
}

// Tree builds a tree from children. A child may be raw content (stored as a
// blob), a *Value, a Ref, a Digest, an Entry, a Child or Fields (stored as a
// subtree). Entry names default to the child's identity. Entries are sorted
// so construction order never affects identity.
func (h Hasher) Tree(children ...any) (*Value, error) {
	entries := make([]Entry, 0, len(children))
	var pending []*Value
	for i, child := range children {
		entry, values, err := h.entryFor(child)
		if err != nil {
			return nil, fmt.Errorf("tree child %d: %w", i, err)
		}
		entries = append(entries, entry)
		pending = append(pending, values...)
	}
	return h.treeFromEntries(entries, pending)
}

// Fields builds the tree for a structured value.
func (h Hasher) Fields(fields Fields) (*Value, error) {
	entries := make([]Entry, 0, len(fields))
	var pending []*Value
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		entry, values, err := h.entryFor(Child{Name: name, Value: fields[name]})
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		entries = append(entries, entry)
		pending = append(pending, values...)
	}
	return h.treeFromEntries(entries, pending)
}

func (h Hasher) treeFromEntries(entries []Entry, pending []*Value) (*Value, error) {
	entries, err := sortEntries(entries)
	if err != nil {
		return nil, err
	}
	payload, err := Canonical(treePayload{Children: entries})
	if err != nil {
		return nil, err
	}
	v := h.build(VTypeTree, payload)
	v.entries = entries
	v.pending = pending
	return v, nil
}

// entryFor normalizes one child into an entry plus the values that must be
// persisted before the tree referencing it.
func (h Hasher) entryFor(child any) (Entry, []*Value, error) {
	switch c := child.(type) {
	case Entry:
		ref, err := ParseDigest(string(c.Ref))
		if err != nil {
			return Entry{}, nil, err
		}
		name := c.Name
		if name == "" {
			name = string(ref)
		}
		return Entry{Name: name, Ref: ref, Attrs: maps.Clone(c.Attrs)}, nil, nil

	case Child:
		entry, pending, err := h.entryFor(c.Value)
		if err != nil {
			return Entry{}, nil, err
		}
		if c.Name != "" {
			entry.Name = c.Name
		}
		if len(c.Attrs) > 0 {
			if entry.Attrs == nil {
				entry.Attrs = make(map[string]any, len(c.Attrs))
			}
			maps.Copy(entry.Attrs, c.Attrs)
		}
		return entry, pending, nil

	case *Value:
		if c == nil {
			return Entry{}, nil, fmt.Errorf("%w: nil child value", ErrInvalidValue)
		}
		return Entry{Name: string(c.ID()), Ref: c.ID()}, []*Value{c}, nil

	case Ref, Digest:
		ref, err := ParseDigest(string(c.(Identifier).ID()))
		if err != nil {
			return Entry{}, nil, err
		}
		return Entry{Name: string(ref), Ref: ref}, nil, nil

	case Fields:
		sub, err := h.Fields(c)
		if err != nil {
			return Entry{}, nil, err
		}
		return Entry{Name: string(sub.ID()), Ref: sub.ID()}, []*Value{sub}, nil

	default:
		blob, err := h.Blob(child)
		if err != nil {
			return Entry{}, nil, err
		}
		return Entry{Name: string(blob.ID()), Ref: blob.ID()}, []*Value{blob}, nil
	}
}

// sortEntries orders entries by ref, then name, then canonical attrs, and
// drops exact duplicates.
func sortEntries(entries []Entry) ([]Entry, error) {
	type keyed struct {
		entry Entry
		attrs []byte
	}
	sorted := make([]keyed, len(entries))
	for i, entry := range entries {
		if len(entry.Attrs) == 0 {
			entry.Attrs = nil
		} else {
			data, err := Canonical(entry.Attrs)
			if err != nil {
				return nil, err
			}
			sorted[i].attrs = data
		}
		sorted[i].entry = entry
	}

	slices.SortFunc(sorted, func(a, b keyed) int {
		if c := cmp.Compare(a.entry.Ref, b.entry.Ref); c != 0 {
			return c
		}
		if c := cmp.Compare(a.entry.Name, b.entry.Name); c != 0 {
			return c
		}
		return bytes.Compare(a.attrs, b.attrs)
	})
	sorted = slices.CompactFunc(sorted, func(a, b keyed) bool {
		return a.entry.Ref == b.entry.Ref && a.entry.Name == b.entry.Name && bytes.Equal(a.attrs, b.attrs)
	})

	out := make([]Entry, len(sorted))
	for i, k := range sorted {
		out[i] = k.entry
	}
	return out, nil
}
