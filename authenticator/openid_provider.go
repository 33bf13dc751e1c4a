package authenticator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/blogem/authgate/models"
)

// OpenIDProvider implements the Provider interface for OpenID Connect
// redirect flows. The browser/OS redirect itself is handled by an external
// collaborator; SignIn receives the authorization code it obtained
type OpenIDProvider struct {
	descriptor models.ProviderDescriptor
	provider   *oidc.Provider
	config     oauth2.Config
	revokeURL  string
	client     *http.Client

	mu          sync.Mutex
	accessToken string // last issued token, kept for best-effort revocation
}

// OpenIDConfig holds OpenID Connect configuration
type OpenIDConfig struct {
	ID            string
	Name          string
	Enabled       bool
	Domain        string
	ClientID      string
	ClientSecret  string
	CallbackURL   string
	RevocationURL string
	Scopes        []string
	HTTPClient    *http.Client // defaults to http.DefaultClient
}

// NewOpenIDProvider creates a new OpenID Connect provider with the given
// configuration
func NewOpenIDProvider(ctx context.Context, cfg OpenIDConfig) (*OpenIDProvider, error) {
	// Validate required configuration
	if cfg.ID == "" {
		return nil, errors.New("provider ID is required")
	}
	if cfg.Domain == "" {
		return nil, errors.New("domain is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if cfg.CallbackURL == "" {
		return nil, errors.New("callback URL is required")
	}

	issuer := cfg.Domain
	if !strings.HasPrefix(issuer, "http") {
		issuer = "https://" + issuer + "/"
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	conf := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.CallbackURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}

	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &OpenIDProvider{
		descriptor: models.ProviderDescriptor{ID: cfg.ID, Name: name, Enabled: cfg.Enabled},
		provider:   provider,
		config:     conf,
		revokeURL:  cfg.RevocationURL,
		client:     client,
	}, nil
}

// Descriptor returns the provider's static configuration
func (p *OpenIDProvider) Descriptor() models.ProviderDescriptor {
	return p.descriptor
}

// AuthURL returns the authorization URL the external redirect collaborator
// should send the user to
func (p *OpenIDProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// SignIn exchanges the authorization code obtained by the redirect
// collaborator for tokens and maps the verified ID token claims to a Session
func (p *OpenIDProvider) SignIn(ctx context.Context, creds Credentials) (*models.Session, error) {
	code := creds["code"]
	if code == "" {
		return nil, models.NewAuthError(models.ErrInvalidCredentials, "signIn",
			errors.New("missing authorization code"))
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyOAuthError("signIn", err)
	}

	session, err := p.sessionFromToken(ctx, "signIn", token)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.accessToken = session.AccessToken
	p.mu.Unlock()

	return session, nil
}

// Refresh exchanges a refresh token for a new session
func (p *OpenIDProvider) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken == "" {
		return nil, models.NewAuthError(models.ErrSessionExpired, "refresh",
			errors.New("missing refresh token"))
	}

	source := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, classifyOAuthError("refresh", err)
	}

	session, err := p.sessionFromToken(ctx, "refresh", token)
	if err != nil {
		return nil, err
	}

	// The issuer may rotate or omit the refresh token on renewal
	if session.RefreshToken == "" {
		session.RefreshToken = refreshToken
	}

	p.mu.Lock()
	p.accessToken = session.AccessToken
	p.mu.Unlock()

	return session, nil
}

// SignOut revokes the last issued access token against the configured
// revocation endpoint, best-effort. Providers without a revocation endpoint
// sign out locally only
func (p *OpenIDProvider) SignOut(ctx context.Context) error {
	if p.revokeURL == "" {
		return nil
	}

	p.mu.Lock()
	token := p.accessToken
	p.accessToken = ""
	p.mu.Unlock()

	if token == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", p.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return models.NewAuthError(models.ErrNetworkFailure, "signOut", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.NewAuthError(models.ErrNetworkFailure, "signOut", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return models.NewAuthError(models.ErrNetworkFailure, "signOut",
			fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode))
	}
	return nil
}

// sessionFromToken verifies the ID token carried by token and builds the
// normalized Session
func (p *OpenIDProvider) sessionFromToken(ctx context.Context, op string, token *oauth2.Token) (*models.Session, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, models.NewAuthError(models.ErrInvalidCredentials, op,
			errors.New("no id_token in token response"))
	}

	oidcConfig := &oidc.Config{
		ClientID: p.config.ClientID,
	}

	idToken, err := p.provider.Verifier(oidcConfig).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, models.NewAuthError(models.ErrInvalidCredentials, op,
			fmt.Errorf("failed to verify ID token: %w", err))
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, models.NewAuthError(models.ErrInvalidCredentials, op, err)
	}

	user := models.User{
		ID:      stringClaim(claims, "sub"),
		Email:   stringClaim(claims, "email"),
		Picture: stringClaim(claims, "picture"),
		Extra:   map[string]string{},
	}

	// Prefer nickname, fall back to name, then email, then sub
	switch {
	case stringClaim(claims, "nickname") != "":
		user.Name = stringClaim(claims, "nickname")
	case stringClaim(claims, "name") != "":
		user.Name = stringClaim(claims, "name")
	case user.Email != "":
		user.Name = user.Email
	default:
		user.Name = user.ID
	}

	// Keep remaining string claims as provider-specific extras
	for key, value := range claims {
		switch key {
		case "sub", "email", "name", "nickname", "picture":
			continue
		}
		if s, ok := value.(string); ok {
			user.Extra[key] = s
		}
	}

	session := &models.Session{
		User:         user,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		session.ExpiresAt = &expiry
	}

	if !session.Valid() {
		return nil, models.NewAuthError(models.ErrInvalidCredentials, op,
			errors.New("token response missing access token or subject"))
	}

	return session, nil
}

// classifyOAuthError maps oauth2 errors to the authentication error taxonomy
func classifyOAuthError(op string, err error) *models.AuthError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil &&
			(retrieveErr.Response.StatusCode == http.StatusUnauthorized ||
				retrieveErr.Response.StatusCode == http.StatusBadRequest) {
			if op == "refresh" {
				return models.NewAuthError(models.ErrSessionExpired, op, err)
			}
			return models.NewAuthError(models.ErrInvalidCredentials, op, err)
		}
	}
	return models.NewAuthError(models.ErrNetworkFailure, op, err)
}

// stringClaim reads a string claim, returning empty on absence or wrong type
func stringClaim(claims map[string]interface{}, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}
