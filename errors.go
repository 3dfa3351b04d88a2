package objstore

import "errors"

var (
	// ErrEncoding reports content that cannot be canonically encoded, or a
	// reference that is not a well-formed identity.
	ErrEncoding = errors.New("objstore: encoding error")

	// ErrInvalidValue reports content that cannot form a value (nil blob,
	// empty soft reference).
	ErrInvalidValue = errors.New("objstore: invalid value")

	// ErrTypeMismatch reports a tree or commit operation on a value of
	// another type.
	ErrTypeMismatch = errors.New("objstore: value type mismatch")

	// ErrConflict reports a head update that lost a race. Retry with a fresh
	// head read.
	ErrConflict = errors.New("objstore: conflicting head update")

	// ErrCorrupt reports stored data that violates a graph invariant: a
	// missing ancestor or a value whose bytes do not match its identity.
	ErrCorrupt = errors.New("objstore: corrupt value graph")

	// ErrNotAncestor reports a commit override that is not reachable from
	// the entity head.
	ErrNotAncestor = errors.New("objstore: commit is not an ancestor of head")

	// ErrNoRemote reports a push or pull on a store opened without a remote.
	ErrNoRemote = errors.New("objstore: no remote configured")
)
