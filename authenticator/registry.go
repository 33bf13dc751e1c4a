package authenticator

import (
	"sync"

	"github.com/blogem/authgate/models"
)

// Registry is a lookup table of enabled providers by id.
// It is populated once at startup and read-mostly afterwards
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register inserts the provider by its descriptor id. Disabled providers
// are silently skipped. Re-registering the same id overwrites the previous
// provider (last write wins) while keeping its original position
func (r *Registry) Register(p Provider) {
	desc := p.Descriptor()
	if !desc.Enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[desc.ID]; !exists {
		r.order = append(r.order, desc.ID)
	}
	r.providers[desc.ID] = p
}

// Resolve looks up a provider by id. Lookup is exact-match, case-sensitive
func (r *Registry) Resolve(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, models.NewAuthError(models.ErrProviderNotFound, "resolve", nil)
	}
	return p, nil
}

// ListEnabled returns the ids of all registered providers in insertion
// order, used to drive a "choose a sign-in method" affordance upstream
func (r *Registry) ListEnabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}
