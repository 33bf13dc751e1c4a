package authenticator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/blogem/authgate/models"
)

// CredentialsProvider implements the Provider interface against an HTTP
// identity backend that accepts JSON credentials
type CredentialsProvider struct {
	descriptor models.ProviderDescriptor
	baseURL    string
	client     *http.Client
}

// CredentialsConfig holds credentials-provider configuration
type CredentialsConfig struct {
	ID      string
	Name    string
	Enabled bool
	BaseURL string
	Client  *http.Client
}

// sessionResponse is the wire shape returned by the identity backend
type sessionResponse struct {
	User struct {
		ID      string            `json:"id"`
		Email   string            `json:"email"`
		Name    string            `json:"name"`
		Picture string            `json:"picture"`
		Extra   map[string]string `json:"extra"`
	} `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds, 0 when absent
}

// NewCredentialsProvider creates a new credentials provider with the given
// configuration
func NewCredentialsProvider(cfg CredentialsConfig) (*CredentialsProvider, error) {
	// Validate required configuration
	if cfg.ID == "" {
		return nil, errors.New("provider ID is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}

	return &CredentialsProvider{
		descriptor: models.ProviderDescriptor{ID: cfg.ID, Name: name, Enabled: cfg.Enabled},
		baseURL:    cfg.BaseURL,
		client:     client,
	}, nil
}

// Descriptor returns the provider's static configuration
func (p *CredentialsProvider) Descriptor() models.ProviderDescriptor {
	return p.descriptor
}

// SignIn posts the credentials to the backend's sign-in endpoint
func (p *CredentialsProvider) SignIn(ctx context.Context, creds Credentials) (*models.Session, error) {
	return p.exchange(ctx, "signIn", "/signin", creds)
}

// SignUp registers a new identity and returns its first session
func (p *CredentialsProvider) SignUp(ctx context.Context, creds Credentials) (*models.Session, error) {
	return p.exchange(ctx, "signUp", "/signup", creds)
}

// Refresh exchanges a refresh token for a new session
func (p *CredentialsProvider) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	session, err := p.exchange(ctx, "refresh", "/refresh", Credentials{"refresh_token": refreshToken})
	if err != nil {
		// An invalid refresh token means the session is gone, not that
		// the credentials were wrong
		if models.KindOf(err) == models.ErrInvalidCredentials {
			return nil, models.NewAuthError(models.ErrSessionExpired, "refresh", err)
		}
		return nil, err
	}
	return session, nil
}

// SignOut asks the backend to revoke the current tokens, best-effort
func (p *CredentialsProvider) SignOut(ctx context.Context) error {
	resp, err := p.post(ctx, "/signout", map[string]string{})
	if err != nil {
		return models.NewAuthError(models.ErrNetworkFailure, "signOut", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return models.NewAuthError(models.ErrNetworkFailure, "signOut",
			fmt.Errorf("backend returned status %d", resp.StatusCode))
	}
	return nil
}

// exchange posts creds to path and normalizes the response into a Session
func (p *CredentialsProvider) exchange(ctx context.Context, op, path string, creds Credentials) (*models.Session, error) {
	resp, err := p.post(ctx, path, creds)
	if err != nil {
		return nil, models.NewAuthError(models.ErrNetworkFailure, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, models.NewAuthError(models.ErrInvalidCredentials, op,
			fmt.Errorf("backend returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, models.NewAuthError(models.ErrNetworkFailure, op,
			fmt.Errorf("backend returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewAuthError(models.ErrNetworkFailure, op, err)
	}

	var wire sessionResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, models.NewAuthError(models.ErrNetworkFailure, op,
			fmt.Errorf("failed to decode backend response: %w", err))
	}

	session := &models.Session{
		User: models.User{
			ID:      wire.User.ID,
			Email:   wire.User.Email,
			Name:    wire.User.Name,
			Picture: wire.User.Picture,
			Extra:   wire.User.Extra,
		},
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
	}

	if wire.ExpiresAt > 0 {
		t := time.Unix(wire.ExpiresAt, 0)
		session.ExpiresAt = &t
	} else if exp, ok := expiryFromJWT(wire.AccessToken); ok {
		session.ExpiresAt = &exp
	}

	if !session.Valid() {
		return nil, models.NewAuthError(models.ErrNetworkFailure, op,
			errors.New("backend response missing access token or user id"))
	}

	return session, nil
}

// post sends a JSON payload to the backend
func (p *CredentialsProvider) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	return p.client.Do(req)
}

// expiryFromJWT extracts the exp claim from an access token when the
// backend omits expires_at. The token is not verified here; it is only
// used for the local, optimistic expiry check
func expiryFromJWT(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
