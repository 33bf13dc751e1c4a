package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/blogem/authgate/authenticator"
	"github.com/blogem/authgate/localidp"
	authmiddleware "github.com/blogem/authgate/middleware"
	"github.com/blogem/authgate/models"
	"github.com/blogem/authgate/session"
	"github.com/blogem/authgate/store"
)

func main() {
	// Load environment variables from .env file, if present
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	logger, err := buildLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Initialize the credential store
	credStore, err := buildStore(logger)
	if err != nil {
		logger.Fatal("failed to initialize credential store", zap.Error(err))
	}

	// Initialize the provider registry
	registry, idp, err := buildRegistry(port)
	if err != nil {
		logger.Fatal("failed to initialize providers", zap.Error(err))
	}

	// Initialize the session manager and rehydrate any persisted session
	manager := session.NewManager(registry, credStore, session.WithLogger(logger))
	if err := manager.Restore(context.Background()); err != nil {
		logger.Warn("session restore did not complete", zap.Error(err))
	}

	r := setupRouter(manager, registry, idp, logger)

	fmt.Printf("🔐 Authgate starting on port %s\n", port)
	fmt.Printf("📂 Visit: http://localhost:%s/session\n", port)

	logger.Fatal("server stopped", zap.Error(http.ListenAndServe(":"+port, r)))
}

// buildLogger creates the zap logger for the configured environment
func buildLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// buildStore selects the credential store backend from the environment.
// AUTH_STORE may be sqlite (default), memory or redis; AUTH_STORE_KEY
// wraps the backend so values are sealed at rest. Non-memory backends get
// a deterministic in-memory fallback
func buildStore(logger *zap.Logger) (store.Store, error) {
	var backend store.Store
	var err error

	switch os.Getenv("AUTH_STORE") {
	case "", "sqlite":
		path := os.Getenv("AUTH_STORE_PATH")
		if path == "" {
			path = "authgate.db"
		}
		backend, err = store.NewSQLiteStore(path)
	case "memory":
		backend = store.NewMemoryStore()
	case "redis":
		backend, err = store.NewRedisStore(context.Background(), os.Getenv("REDIS_URL"), "authgate:")
	default:
		return nil, fmt.Errorf("unknown AUTH_STORE %q", os.Getenv("AUTH_STORE"))
	}
	if err != nil {
		return nil, err
	}

	if key := os.Getenv("AUTH_STORE_KEY"); key != "" {
		backend, err = store.NewSealedStore(backend, key)
		if err != nil {
			return nil, err
		}
	}

	if _, ok := backend.(*store.MemoryStore); ok {
		return backend, nil
	}
	return store.NewFallbackStore(backend, store.NewMemoryStore(), logger), nil
}

// buildRegistry populates the provider registry. A credentials provider is
// always registered; with no external identity backend configured it
// points at the embedded dev backend mounted under /idp. An OpenID
// provider is added when OIDC_DOMAIN is set
func buildRegistry(port string) (*authenticator.Registry, *localidp.Server, error) {
	registry := authenticator.NewRegistry()

	var idp *localidp.Server
	baseURL := os.Getenv("IDENTITY_BASE_URL")
	if baseURL == "" {
		idp = localidp.New(localidp.Config{
			TokenTTL: 15 * time.Minute,
			Accounts: []localidp.Account{
				{ID: "1", Email: "dev@example.com", Name: "Dev User", Password: "password"},
			},
		})
		baseURL = "http://localhost:" + port + "/idp"
	}

	credentials, err := authenticator.NewCredentialsProvider(authenticator.CredentialsConfig{
		ID:      "credentials",
		Name:    "Email & Password",
		Enabled: true,
		BaseURL: baseURL,
	})
	if err != nil {
		return nil, nil, err
	}
	registry.Register(credentials)

	if domain := os.Getenv("OIDC_DOMAIN"); domain != "" {
		openid, err := authenticator.NewOpenIDProvider(context.Background(), authenticator.OpenIDConfig{
			ID:            "oidc",
			Name:          "Single Sign-On",
			Enabled:       true,
			Domain:        domain,
			ClientID:      os.Getenv("OIDC_CLIENT_ID"),
			ClientSecret:  os.Getenv("OIDC_CLIENT_SECRET"),
			CallbackURL:   os.Getenv("OIDC_CALLBACK_URL"),
			RevocationURL: os.Getenv("OIDC_REVOCATION_URL"),
		})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(openid)
	}

	return registry, idp, nil
}

// setupRouter configures all routes
func setupRouter(manager *session.Manager, registry *authenticator.Registry, idp *localidp.Server, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(authmiddleware.RequestLogger(logger))

	// Embedded dev identity backend
	if idp != nil {
		r.Mount("/idp", idp.Handler())
	}

	// PUBLIC ROUTES
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status": "healthy", "service": "authgate"}`)
	})
	r.Get("/providers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, registry.ListEnabled())
	})
	r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.State())
	})

	r.Post("/signin", handleAuth(manager.SignIn))
	r.Post("/signup", handleAuth(manager.SignUp))
	r.Post("/signout", func(w http.ResponseWriter, r *http.Request) {
		_ = manager.SignOut(r.Context())
		writeJSON(w, http.StatusOK, manager.State())
	})
	r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if err := manager.RefreshSession(r.Context()); err != nil {
			writeAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, manager.State())
	})

	// PROTECTED ROUTES (authenticated session required)
	r.Group(func(r chi.Router) {
		r.Use(authmiddleware.RequireSession(manager))

		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			state := manager.State()
			if state.Session == nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			writeJSON(w, http.StatusOK, state.Session.User)
		})
	})

	return r
}

// authRequest is the request body for sign-in and sign-up
type authRequest struct {
	Provider    string                    `json:"provider"`
	Credentials authenticator.Credentials `json:"credentials"`
}

// handleAuth adapts a manager sign-in class operation to an HTTP handler
func handleAuth(op func(context.Context, string, authenticator.Credentials) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := op(r.Context(), req.Provider, req.Credentials); err != nil {
			writeAuthError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// writeAuthError maps error kinds to HTTP statuses
func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch models.KindOf(err) {
	case models.ErrInvalidCredentials, models.ErrSessionExpired:
		status = http.StatusUnauthorized
	case models.ErrProviderNotFound:
		status = http.StatusNotFound
	case models.ErrUnsupportedOperation:
		status = http.StatusNotImplemented
	case models.ErrOperationInProgress:
		status = http.StatusConflict
	case models.ErrNetworkFailure:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"error": string(models.KindOf(err)),
	})
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
