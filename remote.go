package objstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// PullResult reports how each remote head was applied locally.
type PullResult struct {
	// Objects is the number of values received.
	Objects int
	// Installed lists entities that did not exist locally.
	Installed []string
	// FastForwarded lists entities whose local head was an ancestor of the
	// remote head.
	FastForwarded []string
	// Kept lists entities whose local head already contains the remote head.
	Kept []string
	// Diverged lists entities whose histories have split. Their local heads
	// are left alone.
	Diverged []string
}

// Push uploads every value reachable from every entity head, plus the head
// map, to the configured remote. If no tags are provided, the remote's own
// tag is used.
func (s *ObjectStore) Push(ctx context.Context, tags ...string) error {
	if s.remote == nil {
		return ErrNoRemote
	}
	if len(tags) == 0 {
		tags = []string{s.remote.Tag()}
	}

	entities, err := s.Entities(ctx)
	if err != nil {
		return err
	}
	heads := make(map[string]string, len(entities))
	roots := make([]Identifier, 0, len(entities))
	for _, entity := range entities {
		head, ok, err := s.Head(ctx, entity)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		heads[entity] = string(head)
		roots = append(roots, head)
	}

	reachable, err := s.values.Reachable(ctx, roots...)
	if err != nil {
		return fmt.Errorf("collect values: %w", err)
	}
	objects := make(map[string][]byte, len(reachable))
	for _, id := range reachable {
		data, err := s.values.backend.Get(ctx, string(id))
		if err != nil {
			return fmt.Errorf("read value %s: %w", id, err)
		}
		objects[string(id)] = data
	}

	for _, tag := range tags {
		r, err := s.remote.WithTag(tag)
		if err != nil {
			return fmt.Errorf("invalid tag %q: %w", tag, err)
		}
		if err := r.Push(ctx, heads, objects); err != nil {
			return fmt.Errorf("push to %s: %w", tag, err)
		}
	}
	return nil
}

// Pull downloads the remote bundle, stores every value after verifying it
// against its identity, then advances local heads. A local head is only
// replaced when it is absent or an ancestor of the remote head. Heads that
// could not be applied are reported as a joined error alongside the result.
func (s *ObjectStore) Pull(ctx context.Context) (*PullResult, error) {
	if s.remote == nil {
		return nil, ErrNoRemote
	}

	heads, objects, err := s.remote.Pull(ctx)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	if err := s.storeObjects(ctx, objects); err != nil {
		return nil, err
	}

	result := &PullResult{Objects: len(objects)}
	var errs []error
	for _, entity := range slices.Sorted(maps.Keys(heads)) {
		if err := s.applyHead(ctx, result, entity, heads[entity]); err != nil {
			errs = append(errs, fmt.Errorf("entity %q: %w", entity, err))
		}
	}
	return result, errors.Join(errs...)
}

// storeObjects decodes and verifies the whole bundle before writing any of
// it, then writes it leaves first. A stored value never points at a child
// from the same bundle that is not stored yet, so a failed pull leaves no
// partial subgraph behind.
func (s *ObjectStore) storeObjects(ctx context.Context, objects map[string][]byte) error {
	var mu sync.Mutex
	values := make(map[Digest]*Value, len(objects))

	p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx).WithCancelOnError()
	for key, data := range objects {
		p.Go(func(ctx context.Context) error {
			v, err := DecodeValue(Digest(key), data)
			if err != nil {
				return fmt.Errorf("remote object %s: %w", key, err)
			}
			mu.Lock()
			values[v.ID()] = v
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	for _, level := range bundleLevels(values) {
		p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx).WithCancelOnError()
		for _, v := range level {
			p.Go(func(ctx context.Context) error {
				return s.values.persist(ctx, v)
			})
		}
		if err := p.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// bundleLevels groups values by height in the bundle graph: level 0 holds
// values with no children in the bundle, level n values whose children are
// all below n.
func bundleLevels(values map[Digest]*Value) [][]*Value {
	height := make(map[Digest]int, len(values))
	var visit func(id Digest) int
	visit = func(id Digest) int {
		if h, ok := height[id]; ok {
			return h
		}
		v, ok := values[id]
		if !ok {
			return -1
		}
		h := 0
		for _, child := range v.children() {
			h = max(h, visit(child)+1)
		}
		height[id] = h
		return h
	}

	var levels [][]*Value
	for _, id := range slices.Sorted(maps.Keys(values)) {
		h := visit(id)
		for len(levels) <= h {
			levels = append(levels, nil)
		}
		levels[h] = append(levels[h], values[id])
	}
	return levels
}

func (s *ObjectStore) applyHead(ctx context.Context, result *PullResult, entity, remoteHead string) error {
	incoming, err := ParseDigest(remoteHead)
	if err != nil {
		return err
	}
	commit, err := s.values.GetCommit(ctx, incoming)
	if err != nil {
		return err
	}
	if commit == nil {
		return fmt.Errorf("%w: remote head %s was not in the bundle", ErrCorrupt, incoming)
	}

	local, exists, err := s.Head(ctx, entity)
	if err != nil {
		return err
	}

	if !exists {
		if err := s.advance(ctx, entity, nil, incoming); err != nil {
			return err
		}
		result.Installed = append(result.Installed, entity)
		return nil
	}
	if local == incoming {
		result.Kept = append(result.Kept, entity)
		return nil
	}

	behind, err := s.values.IsAncestor(ctx, local, incoming)
	if err != nil {
		return err
	}
	if behind {
		if err := s.advance(ctx, entity, []byte(local), incoming); err != nil {
			return err
		}
		result.FastForwarded = append(result.FastForwarded, entity)
		return nil
	}

	ahead, err := s.values.IsAncestor(ctx, incoming, local)
	if err != nil {
		return err
	}
	if ahead {
		result.Kept = append(result.Kept, entity)
		return nil
	}

	s.log.Warn().Str("entity", entity).Str("local", string(local)).Str("remote", string(incoming)).Msg("histories diverged")
	result.Diverged = append(result.Diverged, entity)
	return nil
}

func (s *ObjectStore) advance(ctx context.Context, entity string, old []byte, next Digest) error {
	swapped, err := s.swapHead(ctx, entity, old, []byte(next))
	if err != nil {
		return err
	}
	if !swapped {
		return fmt.Errorf("%w: head of %q moved during pull", ErrConflict, entity)
	}
	return nil
}
