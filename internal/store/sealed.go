package store

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of a sealing key.
const KeySize = chacha20poly1305.KeySize

// sealedVersion is prepended to every sealed value and authenticated as AAD.
const sealedVersion byte = 0x01

// sealedOverhead is version + XChaCha20 nonce + Poly1305 tag.
const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Sealed encrypts values at rest with XChaCha20-Poly1305 before handing them
// to an inner Store. The key under which a value is stored is bound as
// additional data, so ciphertext moved between keys fails to open.
type Sealed struct {
	inner Store
	aead  cipher.AEAD
}

// sealedSwapper is a Sealed store over an inner Swapper.
type sealedSwapper struct {
	*Sealed
	swapper Swapper
}

// NewSealed wraps inner. The returned store implements Swapper exactly when
// inner does.
func NewSealed(inner Store, key []byte) (Store, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("store: sealing key is %d bytes, want %d", len(key), KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("store: create cipher: %w", err)
	}

	sealed := &Sealed{inner: inner, aead: aead}
	if swapper, ok := inner.(Swapper); ok {
		return &sealedSwapper{Sealed: sealed, swapper: swapper}, nil
	}
	return sealed, nil
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.open(key, data)
}

func (s *Sealed) Put(ctx context.Context, key string, data []byte) error {
	sealed, err := s.seal(key, data)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, key, sealed)
}

func (s *Sealed) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *Sealed) Has(ctx context.Context, key string) (bool, error) {
	return s.inner.Has(ctx, key)
}

func (s *Sealed) Keys(ctx context.Context) ([]string, error) {
	return s.inner.Keys(ctx)
}

func (s *Sealed) Len(ctx context.Context) (int, error) {
	return s.inner.Len(ctx)
}

func (s *Sealed) Close() error {
	return s.inner.Close()
}

// CompareAndSwap compares plaintexts, then swaps the exact ciphertext it
// read, so a concurrent writer still makes the inner swap fail.
func (s *sealedSwapper) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	sealedNext, err := s.seal(key, next)
	if err != nil {
		return false, err
	}

	if old == nil {
		return s.swapper.CompareAndSwap(ctx, key, nil, sealedNext)
	}

	current, err := s.inner.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	plain, err := s.open(key, current)
	if err != nil {
		return false, err
	}
	if string(plain) != string(old) {
		return false, nil
	}
	return s.swapper.CompareAndSwap(ctx, key, current, sealedNext)
}

func (s *Sealed) seal(key string, data []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("store: generate nonce: %w", err)
	}

	out := make([]byte, 0, sealedOverhead+len(data))
	out = append(out, sealedVersion)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, data, additionalData(key)), nil
}

func (s *Sealed) open(key string, data []byte) ([]byte, error) {
	if len(data) < sealedOverhead {
		return nil, fmt.Errorf("store: sealed value for %s too short", key)
	}
	if data[0] != sealedVersion {
		return nil, fmt.Errorf("store: sealed value for %s has version %d", key, data[0])
	}
	nonceSize := s.aead.NonceSize()
	nonce := data[1 : 1+nonceSize]
	plain, err := s.aead.Open(nil, nonce, data[1+nonceSize:], additionalData(key))
	if err != nil {
		return nil, fmt.Errorf("store: open sealed value for %s: %w", key, err)
	}
	return plain, nil
}

func additionalData(key string) []byte {
	return append([]byte{sealedVersion}, key...)
}
