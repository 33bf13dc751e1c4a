package authenticator

import (
	"context"

	"github.com/blogem/authgate/models"
)

// Credentials holds provider-specific sign-in fields (e.g. email+password
// for a credentials provider, or the authorization code obtained by an
// external redirect collaborator for an OAuth provider)
type Credentials map[string]string

// Provider interface abstracts one authentication mechanism.
// Implementations perform the external handshake and return a normalized
// Session; they never touch the credential store
type Provider interface {
	// Descriptor returns the provider's static configuration
	Descriptor() models.ProviderDescriptor

	// SignIn authenticates with the given credentials
	SignIn(ctx context.Context, creds Credentials) (*models.Session, error)

	// SignOut performs best-effort remote invalidation of the current
	// session's tokens. A failure here never blocks local teardown
	SignOut(ctx context.Context) error
}

// SignUpProvider is implemented by providers that support registration.
// Callers must check for the capability before invoking
type SignUpProvider interface {
	Provider

	// SignUp registers a new identity and returns its first session
	SignUp(ctx context.Context, creds Credentials) (*models.Session, error)
}

// RefreshProvider is implemented by providers whose sessions can be
// renewed. Providers without this capability have terminal expiry
type RefreshProvider interface {
	Provider

	// Refresh exchanges a refresh token for a new session
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
}
