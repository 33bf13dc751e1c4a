// Package localidp is a small in-process identity backend speaking the
// credentials provider's wire contract. It exists for local development
// and tests; nothing in it is production authentication.
package localidp

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// Account is a user record known to the backend
type Account struct {
	ID       string
	Email    string
	Name     string
	Picture  string
	Password string
}

// Server issues JWT access tokens and opaque refresh tokens for a fixed
// set of accounts
type Server struct {
	signingKey []byte
	tokenTTL   time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	accounts map[string]*Account // by email
	refresh  *gocache.Cache      // refresh token -> account id
}

// Config holds dev identity backend configuration
type Config struct {
	SigningKey []byte
	TokenTTL   time.Duration
	RefreshTTL time.Duration
	Accounts   []Account
	Now        func() time.Time
}

// New creates a dev identity backend
func New(cfg Config) *Server {
	tokenTTL := cfg.TokenTTL
	if tokenTTL == 0 {
		tokenTTL = 15 * time.Minute
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL == 0 {
		refreshTTL = 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	signingKey := cfg.SigningKey
	if len(signingKey) == 0 {
		signingKey = []byte(uuid.NewString())
	}

	s := &Server{
		signingKey: signingKey,
		tokenTTL:   tokenTTL,
		refreshTTL: refreshTTL,
		now:        now,
		accounts:   make(map[string]*Account),
		refresh:    gocache.New(refreshTTL, 10*time.Minute),
	}
	for i := range cfg.Accounts {
		account := cfg.Accounts[i]
		if account.ID == "" {
			account.ID = uuid.NewString()
		}
		s.accounts[strings.ToLower(account.Email)] = &account
	}
	return s
}

// Handler returns the HTTP handler serving the identity endpoints
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/signin", s.handleSignIn)
	r.Post("/signup", s.handleSignUp)
	r.Post("/refresh", s.handleRefresh)
	r.Post("/signout", s.handleSignOut)
	return r
}

type credentialsRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	User struct {
		ID      string            `json:"id"`
		Email   string            `json:"email"`
		Name    string            `json:"name"`
		Picture string            `json:"picture"`
		Extra   map[string]string `json:"extra,omitempty"`
	} `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// handleSignIn authenticates email+password
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	account, ok := s.accounts[strings.ToLower(req.Email)]
	s.mu.Unlock()

	if !ok || account.Password != req.Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	s.writeSession(w, account)
}

// handleSignUp registers a new account and signs it in
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	email := strings.ToLower(req.Email)

	s.mu.Lock()
	if _, exists := s.accounts[email]; exists {
		s.mu.Unlock()
		http.Error(w, "account already exists", http.StatusConflict)
		return
	}
	account := &Account{
		ID:       uuid.NewString(),
		Email:    email,
		Name:     req.Name,
		Password: req.Password,
	}
	s.accounts[email] = account
	s.mu.Unlock()

	s.writeSession(w, account)
}

// handleRefresh exchanges a refresh token for a new session
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	accountID, ok := s.refresh.Get(req.RefreshToken)
	if !ok {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}

	// Refresh tokens are single-use
	s.refresh.Delete(req.RefreshToken)

	account := s.accountByID(accountID.(string))
	if account == nil {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}

	s.writeSession(w, account)
}

// handleSignOut revokes nothing in particular; the dev backend treats all
// sign-outs as successful
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// writeSession mints tokens for account and writes the wire response
func (s *Server) writeSession(w http.ResponseWriter, account *Account) {
	expiresAt := s.now().Add(s.tokenTTL)

	claims := jwt.MapClaims{
		"sub":   account.ID,
		"email": account.Email,
		"exp":   expiresAt.Unix(),
		"iat":   s.now().Unix(),
		"jti":   uuid.NewString(),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		http.Error(w, "failed to sign token", http.StatusInternalServerError)
		return
	}

	refreshToken := uuid.NewString()
	s.refresh.Set(refreshToken, account.ID, s.refreshTTL)

	var resp sessionResponse
	resp.User.ID = account.ID
	resp.User.Email = account.Email
	resp.User.Name = account.Name
	resp.User.Picture = account.Picture
	resp.AccessToken = accessToken
	resp.RefreshToken = refreshToken
	resp.ExpiresAt = expiresAt.Unix()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// accountByID finds an account by its id
func (s *Server) accountByID(id string) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.ID == id {
			return account
		}
	}
	return nil
}
