package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

const DefaultConcurrency = 4

// Image config labels carrying the bundle metadata.
const (
	LabelHeads   = "dev.objstore.heads"
	LabelObjects = "dev.objstore.objects"
)

type OCIRemote struct {
	ref         name.Reference
	auth        Authenticator
	log         zerolog.Logger
	concurrency int
}

// NewOCIRemote creates a remote from a standard Docker ref (e.g., "ghcr.io/acme/objects:main")
func NewOCIRemote(imageRef string, auth Authenticator, logger zerolog.Logger) (*OCIRemote, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	return &OCIRemote{
		ref:         ref,
		auth:        auth,
		log:         logger.With().Str("component", "remote").Str("ref", ref.String()).Logger(),
		concurrency: DefaultConcurrency,
	}, nil
}

// SetConcurrency sets the number of parallel operations for push/pull
func (r *OCIRemote) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

func (r *OCIRemote) String() string   { return r.ref.String() }
func (r *OCIRemote) Registry() string { return r.ref.Context().RegistryStr() }
func (r *OCIRemote) Tag() string      { return r.ref.Identifier() }

// WithTag returns a new OCIRemote with a different tag
func (r *OCIRemote) WithTag(tag string) (*OCIRemote, error) {
	newRef, err := name.NewTag(r.ref.Context().String()+":"+tag, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, err
	}
	return &OCIRemote{
		ref:         newRef,
		auth:        r.auth,
		log:         r.log.With().Str("tag", tag).Logger(),
		concurrency: r.concurrency,
	}, nil
}

// blobLayer implements v1.Layer with zstd compression for remote transfer
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func newBlobLayer(data []byte) *blobLayer {
	return &blobLayer{
		compressed:   zstdEncoder.EncodeAll(data, nil),
		uncompressed: data,
	}
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Push uploads a bundle: objects packed into kind-ordered layers and the
// head map stored as an image config label.
func (r *OCIRemote) Push(ctx context.Context, heads map[string]string, objects map[string][]byte) error {
	layerPlan, err := PlanLayers(objects)
	if err != nil {
		return fmt.Errorf("plan layers: %w", err)
	}

	r.log.Info().
		Int("objects", len(objects)).
		Int("layers", len(layerPlan)).
		Int("heads", len(heads)).
		Msg("packing bundle")

	layers := make([]v1.Layer, 0, len(layerPlan))
	var totalRaw, totalCompressed int64
	for _, group := range layerPlan {
		layerData, err := PackLayer(group)
		if err != nil {
			return fmt.Errorf("pack layer: %w", err)
		}
		layer := newBlobLayer(layerData)
		totalRaw += int64(len(layerData))
		totalCompressed += int64(len(layer.compressed))
		layers = append(layers, layer)
	}

	img, err := r.buildImage(layers, heads, len(objects))
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}

	r.log.Info().Int64("raw_bytes", totalRaw).Int64("compressed_bytes", totalCompressed).Msg("uploading")
	if err := r.pushImage(ctx, img); err != nil {
		return fmt.Errorf("push image: %w", err)
	}

	r.log.Info().Msg("push done")
	return nil
}

func (r *OCIRemote) buildImage(layers []v1.Layer, heads map[string]string, count int) (v1.Image, error) {
	img := empty.Image

	if len(layers) > 0 {
		var err error
		img, err = mutate.AppendLayers(img, layers...)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	headsJSON, err := json.Marshal(heads)
	if err != nil {
		return nil, fmt.Errorf("encode heads: %w", err)
	}

	cfg.Config.Labels = map[string]string{
		LabelHeads:   string(headsJSON),
		LabelObjects: strconv.Itoa(count),
	}

	return mutate.ConfigFile(img, cfg)
}

func (r *OCIRemote) pushImage(ctx context.Context, img v1.Image) error {
	options := r.remoteOptions(ctx)
	options = append(options, remote.WithJobs(r.concurrency))
	_, err := retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(r.ref, img, options...)
	})
	return err
}

// Pull downloads the bundle at the ref, returning the head map and every
// object in it. Layers are fetched in parallel.
func (r *OCIRemote) Pull(ctx context.Context) (map[string]string, map[string][]byte, error) {
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(r.ref, r.remoteOptions(ctx)...)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, nil, fmt.Errorf("get config: %w", err)
	}

	headsJSON, ok := cfg.Config.Labels[LabelHeads]
	if !ok {
		return nil, nil, fmt.Errorf("missing %s label", LabelHeads)
	}
	heads := make(map[string]string)
	if err := json.Unmarshal([]byte(headsJSON), &heads); err != nil {
		return nil, nil, fmt.Errorf("parse heads: %w", err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, nil, fmt.Errorf("get layers: %w", err)
	}

	r.log.Info().Int("layers", len(layers)).Msg("downloading")

	var mu sync.Mutex
	objects := make(map[string][]byte)

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()

	for _, layer := range layers {
		p.Go(func(ctx context.Context) error {
			rc, err := layer.Uncompressed()
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}
			data, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil {
				return fmt.Errorf("close layer: %w", cerr)
			}
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}

			unpacked, err := UnpackLayer(data)
			if err != nil {
				return fmt.Errorf("unpack layer: %w", err)
			}

			mu.Lock()
			for _, obj := range unpacked {
				objects[obj.Digest] = obj.Data
			}
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, nil, err
	}

	r.log.Info().Int("objects", len(objects)).Int("heads", len(heads)).Msg("pull done")
	return heads, objects, nil
}

func (r *OCIRemote) remoteOptions(ctx context.Context) []remote.Option {
	options := []remote.Option{remote.WithContext(ctx)}
	if r.auth != nil {
		username, password, err := r.auth.Authenticate(r.Registry())
		if err != nil {
			r.log.Warn().Err(err).Msg("authentication failed, falling back to keychain")
		} else if username != "" {
			return append(options, remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			}))
		}
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
