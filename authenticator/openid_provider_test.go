package authenticator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"

	"github.com/stretchr/testify/assert"
)

func TestNewOpenIDProvider_Validation(t *testing.T) {
	base := OpenIDConfig{
		ID:           "oidc",
		Domain:       "example.auth0.com",
		ClientID:     "client",
		ClientSecret: "secret",
		CallbackURL:  "http://localhost/callback",
	}

	cases := []struct {
		name   string
		mutate func(*OpenIDConfig)
	}{
		{"missing ID", func(c *OpenIDConfig) { c.ID = "" }},
		{"missing domain", func(c *OpenIDConfig) { c.Domain = "" }},
		{"missing client ID", func(c *OpenIDConfig) { c.ClientID = "" }},
		{"missing client secret", func(c *OpenIDConfig) { c.ClientSecret = "" }},
		{"missing callback URL", func(c *OpenIDConfig) { c.CallbackURL = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			_, err := NewOpenIDProvider(context.Background(), cfg)
			assert.Error(t, err)
		})
	}
}

func TestOpenIDProvider_SignOut_UsesConfiguredClient(t *testing.T) {
	var revoked string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		revoked = r.Form.Get("token")
		assert.Equal(t, "client", r.Form.Get("client_id"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider := &OpenIDProvider{
		revokeURL:   srv.URL,
		client:      srv.Client(),
		config:      oauth2.Config{ClientID: "client", ClientSecret: "secret"},
		accessToken: "tok-1",
	}

	assert.NoError(t, provider.SignOut(context.Background()))
	assert.Equal(t, "tok-1", revoked)

	// The token is forgotten after revocation; a second sign-out is a no-op
	revoked = ""
	assert.NoError(t, provider.SignOut(context.Background()))
	assert.Empty(t, revoked)
}
