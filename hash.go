package objstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/aweris/objstore/internal/codec"
)

// Algorithm names a content hash function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// digestHexLen is the hex length of every supported digest (256 bits).
const digestHexLen = 64

// Digest is a content identity, e.g. "sha256:9f86d0...".
type Digest string

// ID returns d itself, so a Digest can be passed wherever an Identifier is
// expected.
func (d Digest) ID() Digest { return d }

func (d Digest) String() string { return string(d) }

// Algorithm returns the hash function named by the digest prefix.
func (d Digest) Algorithm() Algorithm {
	algo, _, _ := strings.Cut(string(d), ":")
	return Algorithm(algo)
}

// Short returns an abbreviated form for display.
func (d Digest) Short() string {
	_, hexPart, ok := strings.Cut(string(d), ":")
	if !ok || len(hexPart) < 12 {
		return string(d)
	}
	return hexPart[:12]
}

// Verify checks that data hashes to d under d's own algorithm.
func (d Digest) Verify(data []byte) error {
	h, err := NewHasher(d.Algorithm())
	if err != nil {
		return err
	}
	if got := h.Sum(data); got != d {
		return fmt.Errorf("%w: content hashes to %s, expected %s", ErrCorrupt, got, d)
	}
	return nil
}

// ParseDigest validates s as "<algorithm>:<64 hex chars>".
func ParseDigest(s string) (Digest, error) {
	algo, hexPart, ok := strings.Cut(s, ":")
	if !ok {
		return "", fmt.Errorf("%w: %q is not a digest", ErrEncoding, s)
	}
	if _, err := NewHasher(Algorithm(algo)); err != nil {
		return "", err
	}
	if len(hexPart) != digestHexLen {
		return "", fmt.Errorf("%w: digest %q has %d hex chars, want %d", ErrEncoding, s, len(hexPart), digestHexLen)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", fmt.Errorf("%w: digest %q: %v", ErrEncoding, s, err)
	}
	return Digest(s), nil
}

// Hasher computes content identities with one algorithm. The zero value is
// not usable; use NewHasher or DefaultHasher.
type Hasher struct {
	algo Algorithm
}

// DefaultHasher hashes with SHA-256.
var DefaultHasher = Hasher{algo: SHA256}

func NewHasher(algo Algorithm) (Hasher, error) {
	switch algo {
	case SHA256, BLAKE3:
		return Hasher{algo: algo}, nil
	case "":
		return DefaultHasher, nil
	default:
		return Hasher{}, fmt.Errorf("%w: unknown hash algorithm %q", ErrEncoding, algo)
	}
}

func (h Hasher) Algorithm() Algorithm {
	if h.algo == "" {
		return SHA256
	}
	return h.algo
}

// Sum hashes raw bytes.
func (h Hasher) Sum(data []byte) Digest {
	var sum [32]byte
	switch h.Algorithm() {
	case BLAKE3:
		sum = blake3.Sum256(data)
	default:
		sum = sha256.Sum256(data)
	}
	return Digest(string(h.Algorithm()) + ":" + hex.EncodeToString(sum[:]))
}

// HashContent hashes the canonical encoding of content.
func (h Hasher) HashContent(content any) (Digest, error) {
	data, err := Canonical(content)
	if err != nil {
		return "", err
	}
	return h.Sum(data), nil
}

// Canonical returns the canonical encoding of content: map keys sorted,
// shortest integer forms. Logically equal content encodes identically.
// Content that encodes but cannot be decoded again (integers above
// math.MaxInt64, invalid UTF-8, non-string map keys) is rejected.
func Canonical(content any) ([]byte, error) {
	data, err := codec.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if err := codec.Decodable(data); err != nil {
		return nil, fmt.Errorf("%w: content does not decode: %v", ErrEncoding, err)
	}
	return data, nil
}
