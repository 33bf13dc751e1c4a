package store

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// FallbackStore prefers a secure primary backend and degrades to a
// fallback when the primary fails. The switch is sticky: once the primary
// has errored, every subsequent call uses the fallback, so the same key is
// never served by two different backends across calls
type FallbackStore struct {
	primary  Store
	fallback Store
	log      *zap.Logger

	once     sync.Once
	degraded bool
	mu       sync.RWMutex
}

// NewFallbackStore creates a fallback decorator. log may be nil
func NewFallbackStore(primary, fallback Store, log *zap.Logger) *FallbackStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackStore{primary: primary, fallback: fallback, log: log}
}

// Get returns the value for key from the active backend
func (s *FallbackStore) Get(ctx context.Context, key string) (string, error) {
	if s.isDegraded() {
		return s.fallback.Get(ctx, key)
	}
	value, err := s.primary.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.degrade(err)
		return s.fallback.Get(ctx, key)
	}
	return value, err
}

// Set writes the value for key to the active backend
func (s *FallbackStore) Set(ctx context.Context, key, value string) error {
	if s.isDegraded() {
		return s.fallback.Set(ctx, key, value)
	}
	if err := s.primary.Set(ctx, key, value); err != nil {
		s.degrade(err)
		return s.fallback.Set(ctx, key, value)
	}
	return nil
}

// Delete removes key from the active backend
func (s *FallbackStore) Delete(ctx context.Context, key string) error {
	if s.isDegraded() {
		return s.fallback.Delete(ctx, key)
	}
	if err := s.primary.Delete(ctx, key); err != nil {
		s.degrade(err)
		return s.fallback.Delete(ctx, key)
	}
	return nil
}

// isDegraded reports whether the store has latched onto the fallback
func (s *FallbackStore) isDegraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// degrade latches the store onto the fallback backend permanently
func (s *FallbackStore) degrade(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		s.log.Warn("credential store primary failed, switching to fallback",
			zap.Error(cause))
	})
}
