package objstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/objstore/internal/store"
)

// ValueStore persists immutable values in a backend keyed by identity.
type ValueStore struct {
	backend     store.Store
	hasher      Hasher
	log         zerolog.Logger
	concurrency int
}

// NewValueStore wraps backend. The backend must not be shared with an
// entity index.
func NewValueStore(backend store.Store, opts ...Option) (*ValueStore, error) {
	options := applyOptions(opts)
	hasher, err := NewHasher(options.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	s := &ValueStore{
		backend:     backend,
		hasher:      hasher,
		log:         options.Logger.With().Str("component", "valuestore").Logger(),
		concurrency: options.Concurrency,
	}
	s.log.Debug().Str("algorithm", string(hasher.Algorithm())).Msg("value store initialized")
	return s, nil
}

// Hasher returns the hasher used for values built by this store.
func (s *ValueStore) Hasher() Hasher { return s.hasher }

// PutValue persists v. A *Value is stored as is; anything else is wrapped
// into a blob first. Child values the value was built from are persisted
// before it. Writing a value that is already present is a no-op.
func (s *ValueStore) PutValue(ctx context.Context, v any) (Ref, error) {
	value, ok := v.(*Value)
	if !ok {
		blob, err := s.hasher.Blob(v)
		if err != nil {
			return Ref{}, err
		}
		value = blob
	} else if value == nil {
		return Ref{}, fmt.Errorf("%w: nil value", ErrInvalidValue)
	}

	if err := s.persist(ctx, value); err != nil {
		return Ref{}, err
	}
	return value.Ref(), nil
}

func (s *ValueStore) persist(ctx context.Context, v *Value) error {
	key := string(v.ID())
	exists, err := s.backend.Has(ctx, key)
	if err != nil {
		return fmt.Errorf("check value %s: %w", v.ID(), err)
	}
	if exists {
		// Children always land before their parent, so they are present too.
		s.log.Debug().Str("id", key).Msg("value already in store")
		return nil
	}

	if err := s.persistAll(ctx, v.pending); err != nil {
		return err
	}
	if err := s.backend.Put(ctx, key, v.Encoded()); err != nil {
		return fmt.Errorf("put value %s: %w", v.ID(), err)
	}
	return nil
}

func (s *ValueStore) persistAll(ctx context.Context, values []*Value) error {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return s.persist(ctx, values[0])
	}

	p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx).WithCancelOnError()
	for _, v := range values {
		p.Go(func(ctx context.Context) error {
			return s.persist(ctx, v)
		})
	}
	return p.Wait()
}

// GetValue returns the value stored under id, or nil when it is absent.
// Stored bytes that do not hash to id yield ErrCorrupt.
func (s *ValueStore) GetValue(ctx context.Context, id Identifier) (*Value, error) {
	digest, err := s.digest(id)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Get(ctx, string(digest))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get value %s: %w", digest, err)
	}
	return DecodeValue(digest, data)
}

// ExistsValue reports whether a value is stored under id.
func (s *ValueStore) ExistsValue(ctx context.Context, id Identifier) (bool, error) {
	digest, err := s.digest(id)
	if err != nil {
		return false, err
	}
	return s.backend.Has(ctx, string(digest))
}

// GetValueType returns the variant of the value stored under id.
func (s *ValueStore) GetValueType(ctx context.Context, id Identifier) (VType, bool, error) {
	v, err := s.GetValue(ctx, id)
	if err != nil || v == nil {
		return 0, false, err
	}
	return v.Type(), true, nil
}

// PutTree builds a tree from children (see Hasher.Tree) and persists it
// together with any child values it created.
func (s *ValueStore) PutTree(ctx context.Context, children ...any) (Ref, error) {
	tree, err := s.hasher.Tree(children...)
	if err != nil {
		return Ref{}, err
	}
	return s.PutValue(ctx, tree)
}

// PutFields persists a structured value as a tree of named fragments.
func (s *ValueStore) PutFields(ctx context.Context, fields Fields) (Ref, error) {
	tree, err := s.hasher.Fields(fields)
	if err != nil {
		return Ref{}, err
	}
	return s.PutValue(ctx, tree)
}

// GetTreeEntries returns the entries of the tree stored under id.
func (s *ValueStore) GetTreeEntries(ctx context.Context, id Identifier) ([]Entry, bool, error) {
	v, err := s.GetValue(ctx, id)
	if err != nil || v == nil {
		return nil, false, err
	}
	if v.Type() != VTypeTree {
		return nil, true, fmt.Errorf("%w: %s is a %s, not a tree", ErrTypeMismatch, v.ID(), v.Type())
	}
	return v.Entries(), true, nil
}

// GetTreeEntriesValues resolves each entry of a tree one level deep. Entry
// order is preserved.
func (s *ValueStore) GetTreeEntriesValues(ctx context.Context, id Identifier) ([]EntryValue, bool, error) {
	entries, ok, err := s.GetTreeEntries(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	values, err := s.resolveEntries(ctx, entries)
	if err != nil {
		return nil, true, err
	}
	return values, true, nil
}

func (s *ValueStore) resolveEntries(ctx context.Context, entries []Entry) ([]EntryValue, error) {
	out := make([]EntryValue, len(entries))
	p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx).WithCancelOnError()
	for i, entry := range entries {
		out[i].Entry = entry
		p.Go(func(ctx context.Context) error {
			v, err := s.GetValue(ctx, entry.Ref)
			if err != nil {
				return fmt.Errorf("entry %q: %w", entry.Name, err)
			}
			out[i].Value = v
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PutCommit builds and persists a commit over root and parents.
func (s *ValueStore) PutCommit(ctx context.Context, root Identifier, attrs Attrs, parents ...Identifier) (Ref, error) {
	commit, err := s.hasher.Commit(root, attrs, parents...)
	if err != nil {
		return Ref{}, err
	}
	return s.PutValue(ctx, commit)
}

// GetCommit returns the commit stored under id, or nil when it is absent.
func (s *ValueStore) GetCommit(ctx context.Context, id Identifier) (*Commit, error) {
	v, err := s.GetValue(ctx, id)
	if err != nil || v == nil {
		return nil, err
	}
	if v.Type() != VTypeCommit {
		return nil, fmt.Errorf("%w: %s is a %s, not a commit", ErrTypeMismatch, v.ID(), v.Type())
	}
	return v.commit, nil
}

// GetCommitRootEntriesValues resolves the entries of a commit's root tree.
func (s *ValueStore) GetCommitRootEntriesValues(ctx context.Context, id Identifier) ([]EntryValue, bool, error) {
	commit, err := s.GetCommit(ctx, id)
	if err != nil || commit == nil {
		return nil, false, err
	}
	if commit.RootTree == "" {
		return []EntryValue{}, true, nil
	}
	values, ok, err := s.GetTreeEntriesValues(ctx, commit.RootTree)
	if err != nil {
		return nil, true, err
	}
	if !ok {
		return nil, true, fmt.Errorf("%w: commit %s: root tree %s is missing", ErrCorrupt, commit.Identity, commit.RootTree)
	}
	return values, true, nil
}

// GetAncestors returns every commit reachable through the parents of id,
// each exactly once. The order is depth-first pre-order, visiting parents in
// the order they are listed. A start commit that is absent yields no
// ancestors; an absent ancestor yields ErrCorrupt.
func (s *ValueStore) GetAncestors(ctx context.Context, id Identifier) ([]*Commit, error) {
	start, err := s.GetCommit(ctx, id)
	if err != nil || start == nil {
		return nil, err
	}

	var ancestors []*Commit
	err = s.walkParents(ctx, start, func(c *Commit) bool {
		ancestors = append(ancestors, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	return ancestors, nil
}

// IsAncestor reports whether ancestor is reachable from descendant through
// parent links. A commit is not its own ancestor.
func (s *ValueStore) IsAncestor(ctx context.Context, ancestor, descendant Identifier) (bool, error) {
	target, err := s.digest(ancestor)
	if err != nil {
		return false, err
	}
	start, err := s.GetCommit(ctx, descendant)
	if err != nil || start == nil {
		return false, err
	}

	found := false
	err = s.walkParents(ctx, start, func(c *Commit) bool {
		found = c.Identity == target
		return !found
	})
	return found, err
}

// walkParents drives the ancestor traversal with an explicit stack. fn is
// called once per ancestor in visiting order; returning false stops the walk.
func (s *ValueStore) walkParents(ctx context.Context, start *Commit, fn func(*Commit) bool) error {
	visited := map[Digest]struct{}{start.Identity: {}}
	stack := reversedParents(nil, start)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		commit, err := s.GetCommit(ctx, id)
		if err != nil {
			return fmt.Errorf("ancestor %s: %w", id, err)
		}
		if commit == nil {
			return fmt.Errorf("%w: ancestor commit %s is missing", ErrCorrupt, id)
		}
		if !fn(commit) {
			return nil
		}
		stack = reversedParents(stack, commit)
	}
	return nil
}

// reversedParents pushes c's parents so that the first listed parent is
// popped first.
func reversedParents(stack []Digest, c *Commit) []Digest {
	for _, parent := range slices.Backward(c.Parents) {
		stack = append(stack, parent)
	}
	return stack
}

// Reachable returns the identities of every value reachable from roots:
// commits lead to their parents and root tree, trees to their entries.
// Roots themselves are included. Entries that are absent are skipped, since
// trees may reference values that were never persisted here.
func (s *ValueStore) Reachable(ctx context.Context, roots ...Identifier) ([]Digest, error) {
	var out []Digest
	visited := make(map[Digest]struct{})
	stack := make([]Digest, 0, len(roots))
	for _, root := range slices.Backward(roots) {
		id, err := s.digest(root)
		if err != nil {
			return nil, err
		}
		stack = append(stack, id)
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		v, err := s.GetValue(ctx, id)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		out = append(out, id)

		switch v.Type() {
		case VTypeCommit:
			stack = reversedParents(stack, v.commit)
			if v.commit.RootTree != "" {
				stack = append(stack, v.commit.RootTree)
			}
		case VTypeTree:
			for _, entry := range slices.Backward(v.entries) {
				stack = append(stack, entry.Ref)
			}
		}
	}
	return out, nil
}

// Len returns the number of stored values.
func (s *ValueStore) Len(ctx context.Context) (int, error) {
	return s.backend.Len(ctx)
}

func (s *ValueStore) digest(id Identifier) (Digest, error) {
	digest, err := identityOf(id)
	if err != nil {
		return "", err
	}
	if digest == "" {
		return "", fmt.Errorf("%w: empty identity", ErrEncoding)
	}
	return digest, nil
}
