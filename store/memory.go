package store

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is a process-local credential store. It offers no at-rest
// confidentiality and is meant as a test double or last-resort fallback
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates an empty in-memory credential store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}
}

// Get returns the value for key, or ErrNotFound
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	value, ok := s.cache.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return value.(string), nil
}

// Set writes the value for key
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.cache.Set(key, value, gocache.NoExpiration)
	return nil
}

// Delete removes key; deleting an absent key is not an error
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
