// Package store provides the credential store abstraction: a small
// asynchronous key/value contract with swappable backends. The session
// manager owns serialization; values are always opaque strings.
package store

import (
	"context"
	"errors"
)

// Persisted key layout. All four keys are written and cleared as a
// logical unit by the session manager
const (
	KeyAccessToken  = "auth_access_token"
	KeyRefreshToken = "auth_refresh_token"
	KeyUser         = "auth_user"
	KeyProviderID   = "auth_provider_id"
)

// Keys lists the full persisted layout, in write order
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyProviderID}

// ErrNotFound is returned by Get when the key is absent
var ErrNotFound = errors.New("store: key not found")

// Store defines the credential store contract. Every backend must provide
// atomic per-key sets, read-your-writes within the process, and silent
// no-op deletes of absent keys
type Store interface {
	// Get returns the value for key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set writes the value for key
	Set(ctx context.Context, key, value string) error

	// Delete removes key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error
}
