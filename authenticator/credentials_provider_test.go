package authenticator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/blogem/authgate/localidp"
	"github.com/blogem/authgate/models"
)

// CredentialsProviderTestSuite runs the provider against the dev identity
// backend over httptest
type CredentialsProviderTestSuite struct {
	suite.Suite
	backend  *httptest.Server
	provider *CredentialsProvider
}

// SetupTest starts a fresh backend and provider before each test
func (suite *CredentialsProviderTestSuite) SetupTest() {
	idp := localidp.New(localidp.Config{
		TokenTTL: 15 * time.Minute,
		Accounts: []localidp.Account{
			{ID: "1", Email: "a@b.com", Name: "A", Password: "pw"},
		},
	})
	suite.backend = httptest.NewServer(idp.Handler())

	provider, err := NewCredentialsProvider(CredentialsConfig{
		ID:      "credentials",
		Enabled: true,
		BaseURL: suite.backend.URL,
	})
	assert.NoError(suite.T(), err)
	suite.provider = provider
}

// TearDownTest stops the backend
func (suite *CredentialsProviderTestSuite) TearDownTest() {
	suite.backend.Close()
}

func (suite *CredentialsProviderTestSuite) TestSignIn_Success() {
	session, err := suite.provider.SignIn(context.Background(),
		Credentials{"email": "a@b.com", "password": "pw"})

	assert.NoError(suite.T(), err)
	assert.True(suite.T(), session.Valid())
	assert.Equal(suite.T(), "1", session.User.ID)
	assert.Equal(suite.T(), "a@b.com", session.User.Email)
	assert.NotEmpty(suite.T(), session.RefreshToken)
	assert.NotNil(suite.T(), session.ExpiresAt)
}

func (suite *CredentialsProviderTestSuite) TestSignIn_WrongPassword() {
	_, err := suite.provider.SignIn(context.Background(),
		Credentials{"email": "a@b.com", "password": "wrong"})

	assert.Equal(suite.T(), models.ErrInvalidCredentials, models.KindOf(err))
}

func (suite *CredentialsProviderTestSuite) TestSignUp_ThenSignIn() {
	session, err := suite.provider.SignUp(context.Background(),
		Credentials{"email": "new@b.com", "password": "pw2", "name": "New"})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "new@b.com", session.User.Email)

	again, err := suite.provider.SignIn(context.Background(),
		Credentials{"email": "new@b.com", "password": "pw2"})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), session.User.ID, again.User.ID)
}

func (suite *CredentialsProviderTestSuite) TestRefresh_RotatesTokens() {
	session, err := suite.provider.SignIn(context.Background(),
		Credentials{"email": "a@b.com", "password": "pw"})
	assert.NoError(suite.T(), err)

	renewed, err := suite.provider.Refresh(context.Background(), session.RefreshToken)
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), renewed.Valid())
	assert.NotEqual(suite.T(), session.RefreshToken, renewed.RefreshToken)
}

func (suite *CredentialsProviderTestSuite) TestRefresh_InvalidToken_SessionExpired() {
	_, err := suite.provider.Refresh(context.Background(), "bogus")

	assert.Equal(suite.T(), models.ErrSessionExpired, models.KindOf(err))
}

func (suite *CredentialsProviderTestSuite) TestSignOut_Succeeds() {
	assert.NoError(suite.T(), suite.provider.SignOut(context.Background()))
}

func (suite *CredentialsProviderTestSuite) TestSignIn_BackendDown_NetworkFailure() {
	suite.backend.Close()

	_, err := suite.provider.SignIn(context.Background(),
		Credentials{"email": "a@b.com", "password": "pw"})

	assert.Equal(suite.T(), models.ErrNetworkFailure, models.KindOf(err))
}

// TestCredentialsProviderTestSuite runs the suite
func TestCredentialsProviderTestSuite(t *testing.T) {
	suite.Run(t, new(CredentialsProviderTestSuite))
}

// Expiry inference from the JWT exp claim when the backend omits
// expires_at
func TestSignIn_ExpiryInferredFromJWT(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := mintTestJWT(t, exp)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user":{"id":"1","email":"a@b.com"},"access_token":"` + token + `","refresh_token":"R1"}`))
	}))
	defer backend.Close()

	provider, err := NewCredentialsProvider(CredentialsConfig{ID: "credentials", Enabled: true, BaseURL: backend.URL})
	assert.NoError(t, err)

	session, err := provider.SignIn(context.Background(), Credentials{"email": "a@b.com", "password": "pw"})
	assert.NoError(t, err)
	assert.NotNil(t, session.ExpiresAt)
	assert.True(t, exp.Equal(session.ExpiresAt.Truncate(time.Second)))
}

// mintTestJWT signs a throwaway HS256 token carrying only exp
func mintTestJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{"sub": "1", "exp": exp.Unix()}).SignedString([]byte("test-key"))
	assert.NoError(t, err)
	return token
}

func TestNewCredentialsProvider_Validation(t *testing.T) {
	_, err := NewCredentialsProvider(CredentialsConfig{BaseURL: "http://idp"})
	assert.Error(t, err)

	_, err = NewCredentialsProvider(CredentialsConfig{ID: "credentials"})
	assert.Error(t, err)
}
