package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedKeyLength = 32
	sealedNonceSize = 24
	sealedSep       = "|" // base64(nonce)|base64(ciphertext)
)

// SealedStore wraps another store so values are encrypted at rest with a
// 32-byte master key. Keys themselves stay in the clear; only values are
// sealed
type SealedStore struct {
	inner Store
	key   [sealedKeyLength]byte
}

// NewSealedStore creates a sealing decorator around inner. masterKey must
// be the base64 encoding of exactly 32 bytes
func NewSealedStore(inner Store, masterKey string) (*SealedStore, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(masterKey))
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(raw) != sealedKeyLength {
		return nil, fmt.Errorf("master key must decode to %d bytes, got %d", sealedKeyLength, len(raw))
	}

	s := &SealedStore{inner: inner}
	copy(s.key[:], raw)
	return s, nil
}

// Get reads and unseals the value for key
func (s *SealedStore) Get(ctx context.Context, key string) (string, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return s.open(sealed)
}

// Set seals the value and writes it to the inner store
func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

// Delete removes key from the inner store
func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// seal encrypts plaintext and returns base64(nonce)|base64(ciphertext)
func (s *SealedStore) seal(plaintext string) (string, error) {
	var nonce [sealedNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nil, []byte(plaintext), &nonce, &s.key)

	return base64.StdEncoding.EncodeToString(nonce[:]) + sealedSep +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a sealed value produced by seal
func (s *SealedStore) open(sealed string) (string, error) {
	parts := strings.SplitN(sealed, sealedSep, 2)
	if len(parts) != 2 {
		return "", errors.New("malformed sealed value")
	}

	nonceRaw, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonceRaw) != sealedNonceSize {
		return "", errors.New("malformed sealed value nonce")
	}
	box, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", errors.New("malformed sealed value ciphertext")
	}

	var nonce [sealedNonceSize]byte
	copy(nonce[:], nonceRaw)

	plaintext, ok := secretbox.Open(nil, box, &nonce, &s.key)
	if !ok {
		return "", errors.New("failed to unseal value: wrong key or corrupt data")
	}
	return string(plaintext), nil
}
