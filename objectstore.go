package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/objstore/internal/remote"
	"github.com/aweris/objstore/internal/store"
)

// AttrTimestamp is the commit attribute holding the creation time in unix
// milliseconds.
const AttrTimestamp = "ts"

// ObjectStore keeps a mutable entity index (entity id to head commit) on top
// of a ValueStore. Every Put appends a commit; heads only move by
// compare-and-swap.
type ObjectStore struct {
	values      *ValueStore
	index       store.Store
	swapper     store.Swapper
	locks       keyedMutex
	clock       func() time.Time
	log         zerolog.Logger
	concurrency int
	remote      *remote.OCIRemote
}

// NewObjectStore creates an object store whose entity index lives in index.
// index must be a different key space from the value backend.
func NewObjectStore(values *ValueStore, index store.Store, opts ...Option) (*ObjectStore, error) {
	options := applyOptions(opts)

	s := &ObjectStore{
		values:      values,
		index:       index,
		clock:       options.Clock,
		log:         options.Logger.With().Str("component", "objectstore").Logger(),
		concurrency: options.Concurrency,
	}
	if swapper, ok := index.(store.Swapper); ok {
		s.swapper = swapper
	}

	if options.Remote != "" {
		auth := options.Auth
		if auth == nil {
			auth = remote.NewDefaultAuthenticator()
		}
		r, err := remote.NewOCIRemote(options.Remote, auth, options.Logger)
		if err != nil {
			return nil, err
		}
		r.SetConcurrency(options.Concurrency)
		s.remote = r
	}
	return s, nil
}

// Values returns the underlying value store.
func (s *ObjectStore) Values() *ValueStore { return s.values }

type putOptions struct {
	parents    []Identifier
	hasParents bool
	attrs      Attrs
}

// PutOption configures ObjectStore.Put.
type PutOption func(*putOptions)

// WithParents sets the new commit's parents explicitly instead of chaining
// onto the current head. Calling it with no parents creates a root commit.
func WithParents(parents ...Identifier) PutOption {
	return func(o *putOptions) {
		o.parents = parents
		o.hasParents = true
	}
}

// WithAttrs adds attributes to the new commit.
func WithAttrs(attrs Attrs) PutOption {
	return func(o *putOptions) {
		if o.attrs == nil {
			o.attrs = make(Attrs, len(attrs))
		}
		maps.Copy(o.attrs, attrs)
	}
}

// Put records value as the new version of entity and returns the new commit.
//
// The root tree depends on the shape of value: a tree is used directly, a
// commit contributes its root tree, Fields become a tree of named fragments
// and anything else is wrapped into a one-entry tree. Unless WithParents is
// given, the current head becomes the sole parent. If the head moves while
// the commit is being written, Put fails with ErrConflict and the index is
// left untouched.
func (s *ObjectStore) Put(ctx context.Context, entity string, value any, opts ...PutOption) (Ref, error) {
	if entity == "" {
		return Ref{}, fmt.Errorf("%w: empty entity id", ErrInvalidValue)
	}
	options := &putOptions{}
	for _, opt := range opts {
		opt(options)
	}

	oldHead, err := s.index.Get(ctx, entity)
	if errors.Is(err, store.ErrNotFound) {
		oldHead = nil
	} else if err != nil {
		return Ref{}, fmt.Errorf("read head of %q: %w", entity, err)
	}

	root, err := s.rootTree(ctx, value)
	if err != nil {
		return Ref{}, fmt.Errorf("put %q: %w", entity, err)
	}

	parents := options.parents
	if !options.hasParents && oldHead != nil {
		head, err := parseHead(entity, oldHead)
		if err != nil {
			return Ref{}, err
		}
		s.log.Debug().Str("entity", entity).Str("head", string(head)).Msg("previous commit exists")
		parents = []Identifier{head}
	}

	attrs := Attrs{AttrTimestamp: s.clock().UnixMilli()}
	maps.Copy(attrs, options.attrs)

	var rootRef Identifier
	if root != "" {
		rootRef = root
	}
	commit, err := s.values.PutCommit(ctx, rootRef, attrs, parents...)
	if err != nil {
		return Ref{}, fmt.Errorf("put %q: %w", entity, err)
	}

	swapped, err := s.swapHead(ctx, entity, oldHead, []byte(commit.Identity))
	if err != nil {
		return Ref{}, fmt.Errorf("update head of %q: %w", entity, err)
	}
	if !swapped {
		return Ref{}, fmt.Errorf("%w: head of %q moved during put", ErrConflict, entity)
	}

	s.log.Debug().Str("entity", entity).Str("commit", string(commit.Identity)).Msg("put commit")
	return commit, nil
}

// rootTree persists whatever value needs and returns the root tree identity
// for a commit over it.
func (s *ObjectStore) rootTree(ctx context.Context, value any) (Digest, error) {
	switch v := value.(type) {
	case *Value:
		if v == nil {
			return "", fmt.Errorf("%w: nil value", ErrInvalidValue)
		}
		if _, err := s.values.PutValue(ctx, v); err != nil {
			return "", err
		}
		return s.rootOf(ctx, v)

	case Ref, Digest:
		stored, err := s.values.GetValue(ctx, v.(Identifier))
		if err != nil {
			return "", err
		}
		if stored == nil {
			return "", fmt.Errorf("%w: value %s is not stored", ErrInvalidValue, v.(Identifier).ID())
		}
		return s.rootOf(ctx, stored)

	case Fields:
		ref, err := s.values.PutFields(ctx, v)
		if err != nil {
			return "", err
		}
		return ref.Identity, nil

	default:
		ref, err := s.values.PutTree(ctx, value)
		if err != nil {
			return "", err
		}
		return ref.Identity, nil
	}
}

func (s *ObjectStore) rootOf(ctx context.Context, v *Value) (Digest, error) {
	switch v.Type() {
	case VTypeTree:
		return v.ID(), nil
	case VTypeCommit:
		return v.commit.RootTree, nil
	default:
		ref, err := s.values.PutTree(ctx, v)
		if err != nil {
			return "", err
		}
		return ref.Identity, nil
	}
}

// swapHead installs next as the head of entity if the head is still old.
// A nil old means the entity must not exist yet.
func (s *ObjectStore) swapHead(ctx context.Context, entity string, old, next []byte) (bool, error) {
	if s.swapper != nil {
		return s.swapper.CompareAndSwap(ctx, entity, old, next)
	}

	unlock := s.locks.lock(entity)
	defer unlock()

	current, err := s.index.Get(ctx, entity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if old != nil {
			return false, nil
		}
	case err != nil:
		return false, err
	default:
		if old == nil || !bytes.Equal(current, old) {
			return false, nil
		}
	}
	if err := s.index.Put(ctx, entity, next); err != nil {
		return false, err
	}
	return true, nil
}

type getOptions struct {
	commit          Identifier
	shallow         bool
	requireAncestry bool
}

// GetOption configures ObjectStore.Get.
type GetOption func(*getOptions)

// AtCommit reads the entity as of commit instead of its head.
func AtCommit(commit Identifier) GetOption {
	return func(o *getOptions) { o.commit = commit }
}

// Shallow leaves subtrees as Refs instead of reconstructing them.
func Shallow() GetOption {
	return func(o *getOptions) { o.shallow = true }
}

// RequireAncestry makes AtCommit fail with ErrNotAncestor unless the commit
// is the entity's head or one of its ancestors.
func RequireAncestry() GetOption {
	return func(o *getOptions) { o.requireAncestry = true }
}

// Get reconstructs the value of entity from its head commit, or from the
// commit given with AtCommit. Trees become map[string]any keyed by entry
// name and blobs become their content. A tree holding a single non-tree
// entry yields that entry's value directly. Soft references and commits
// inside trees are returned as Refs. The boolean is false when the entity
// or the requested commit does not exist.
func (s *ObjectStore) Get(ctx context.Context, entity string, opts ...GetOption) (any, bool, error) {
	options := &getOptions{}
	for _, opt := range opts {
		opt(options)
	}

	head, exists, err := s.Head(ctx, entity)
	if err != nil {
		return nil, false, err
	}

	target := head
	if options.commit != nil {
		target, err = s.values.digest(options.commit)
		if err != nil {
			return nil, false, err
		}
		if options.requireAncestry {
			if err := s.checkAncestry(ctx, entity, head, exists, target); err != nil {
				return nil, false, err
			}
		}
	} else if !exists {
		return nil, false, nil
	}

	commit, err := s.values.GetCommit(ctx, target)
	if err != nil {
		return nil, false, err
	}
	if commit == nil {
		if options.commit == nil {
			return nil, false, fmt.Errorf("%w: head %s of %q is missing", ErrCorrupt, head, entity)
		}
		return nil, false, nil
	}
	if commit.RootTree == "" {
		return nil, true, nil
	}

	result, err := s.reconstruct(ctx, commit.RootTree, options.shallow)
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", entity, err)
	}
	return result, true, nil
}

func (s *ObjectStore) checkAncestry(ctx context.Context, entity string, head Digest, exists bool, target Digest) error {
	if !exists {
		return fmt.Errorf("%w: %q has no head", ErrNotAncestor, entity)
	}
	if target == head {
		return nil
	}
	ok, err := s.values.IsAncestor(ctx, target, head)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not in the history of %q", ErrNotAncestor, target, entity)
	}
	return nil
}

func (s *ObjectStore) reconstruct(ctx context.Context, tree Digest, shallow bool) (any, error) {
	entries, ok, err := s.values.GetTreeEntriesValues(ctx, tree)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: tree %s is missing", ErrCorrupt, tree)
	}

	if len(entries) == 1 && entries[0].Value != nil && entries[0].Value.Type() != VTypeTree {
		return s.entryValue(ctx, entries[0], shallow)
	}

	out := make(map[string]any, len(entries))
	for _, entry := range entries {
		v, err := s.entryValue(ctx, entry, shallow)
		if err != nil {
			return nil, err
		}
		out[entry.Name] = v
	}
	return out, nil
}

func (s *ObjectStore) entryValue(ctx context.Context, entry EntryValue, shallow bool) (any, error) {
	if entry.Value == nil {
		return nil, fmt.Errorf("%w: entry %q references missing value %s", ErrCorrupt, entry.Name, entry.Ref)
	}
	switch entry.Value.Type() {
	case VTypeBlob:
		return entry.Value.Content(), nil
	case VTypeTree:
		if shallow {
			return entry.Value.Ref(), nil
		}
		return s.reconstruct(ctx, entry.Ref, shallow)
	default:
		return entry.Value.Ref(), nil
	}
}

// GetMulti reads several entities in parallel. Entities that do not exist
// are left out of the result.
func (s *ObjectStore) GetMulti(ctx context.Context, entities []string, opts ...GetOption) (map[string]any, error) {
	var mu sync.Mutex
	out := make(map[string]any, len(entities))

	p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx).WithCancelOnError()
	for _, entity := range entities {
		p.Go(func(ctx context.Context) error {
			v, ok, err := s.Get(ctx, entity, opts...)
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			out[entity] = v
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes the entity's index entry. Its commits stay in the value
// store. Removing an unknown entity is not an error.
func (s *ObjectStore) Remove(ctx context.Context, entity string) error {
	if s.swapper == nil {
		unlock := s.locks.lock(entity)
		defer unlock()
	}
	if err := s.index.Remove(ctx, entity); err != nil {
		return fmt.Errorf("remove %q: %w", entity, err)
	}
	return nil
}

// Size returns the number of live entities.
func (s *ObjectStore) Size(ctx context.Context) (int, error) {
	return s.index.Len(ctx)
}

// Entities lists live entity ids in sorted order.
func (s *ObjectStore) Entities(ctx context.Context) ([]string, error) {
	keys, err := s.index.Keys(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

// Head returns the entity's head commit.
func (s *ObjectStore) Head(ctx context.Context, entity string) (Digest, bool, error) {
	data, err := s.index.Get(ctx, entity)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read head of %q: %w", entity, err)
	}
	head, err := parseHead(entity, data)
	if err != nil {
		return "", false, err
	}
	return head, true, nil
}

// History returns the head commit followed by all of its ancestors.
func (s *ObjectStore) History(ctx context.Context, entity string) ([]*Commit, error) {
	head, ok, err := s.Head(ctx, entity)
	if err != nil || !ok {
		return nil, err
	}
	commit, err := s.values.GetCommit(ctx, head)
	if err != nil {
		return nil, err
	}
	if commit == nil {
		return nil, fmt.Errorf("%w: head %s of %q is missing", ErrCorrupt, head, entity)
	}
	ancestors, err := s.values.GetAncestors(ctx, head)
	if err != nil {
		return nil, err
	}
	return append([]*Commit{commit}, ancestors...), nil
}

// Close closes the entity index and the value backend.
func (s *ObjectStore) Close() error {
	return errors.Join(s.index.Close(), s.values.backend.Close())
}

func parseHead(entity string, data []byte) (Digest, error) {
	head, err := ParseDigest(string(data))
	if err != nil {
		return "", fmt.Errorf("%w: head of %q: %v", ErrCorrupt, entity, err)
	}
	return head, nil
}

// keyedMutex serializes head updates per entity for backends without
// native compare-and-swap.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
