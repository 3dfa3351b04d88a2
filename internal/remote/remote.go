// Package remote replicates object bundles through an OCI registry.
//
// Based on go-containerregistry patterns:
// - Authentication via keychain
// - Upload ordering: layers → config → manifest
// - Standard OCI distribution spec
//
// A bundle is one image: zstd layers of packed objects grouped by kind,
// leaves first, and a config label holding the entity head map.
package remote

import "context"

// Remote handles OCI registry operations.
type Remote interface {
	// Push uploads a bundle of heads and objects.
	Push(ctx context.Context, heads map[string]string, objects map[string][]byte) error

	// Pull downloads the bundle at the remote's ref.
	Pull(ctx context.Context) (heads map[string]string, objects map[string][]byte, err error)
}

var _ Remote = (*OCIRemote)(nil)
