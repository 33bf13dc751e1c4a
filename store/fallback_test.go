package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// flakyStore fails every call once failing is set
type flakyStore struct {
	inner   Store
	failing bool
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, error) {
	if s.failing {
		return "", errors.New("backend unavailable")
	}
	return s.inner.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	if s.failing {
		return errors.New("backend unavailable")
	}
	return s.inner.Set(ctx, key, value)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	if s.failing {
		return errors.New("backend unavailable")
	}
	return s.inner.Delete(ctx, key)
}

func TestFallbackStore_UsesPrimaryWhileHealthy(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	fallback := NewMemoryStore()
	s := NewFallbackStore(primary, fallback, nil)

	assert.NoError(t, s.Set(ctx, KeyAccessToken, "T1"))

	value, err := primary.Get(ctx, KeyAccessToken)
	assert.NoError(t, err)
	assert.Equal(t, "T1", value)

	_, err = fallback.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFallbackStore_NotFoundIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	s := NewFallbackStore(primary, NewMemoryStore(), nil)

	_, err := s.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrNotFound)

	// The store did not degrade: writes still land on the primary
	assert.NoError(t, s.Set(ctx, KeyAccessToken, "T1"))
	value, err := primary.Get(ctx, KeyAccessToken)
	assert.NoError(t, err)
	assert.Equal(t, "T1", value)
}

func TestFallbackStore_DegradesStickily(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{inner: NewMemoryStore()}
	fallback := NewMemoryStore()
	s := NewFallbackStore(flaky, fallback, nil)

	flaky.failing = true
	assert.NoError(t, s.Set(ctx, KeyAccessToken, "T1"))

	// Once degraded, the primary recovering must not flip the store back:
	// the same key is never served by two backends across calls
	flaky.failing = false
	value, err := s.Get(ctx, KeyAccessToken)
	assert.NoError(t, err)
	assert.Equal(t, "T1", value)

	_, err = flaky.inner.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Set(ctx, KeyRefreshToken, "R1"))
	value, err = fallback.Get(ctx, KeyRefreshToken)
	assert.NoError(t, err)
	assert.Equal(t, "R1", value)
}
