// Package session implements the authentication session manager: the
// single authoritative owner of process-wide auth state. It orchestrates
// identity providers resolved from a registry, persists results to the
// credential store, and exposes one consistent state snapshot to consumers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blogem/authgate/authenticator"
	"github.com/blogem/authgate/models"
	"github.com/blogem/authgate/store"
)

// Manager is the session state machine. All mutation of auth state goes
// through its operations; consumers only ever see copies via State()
type Manager struct {
	registry *authenticator.Registry
	store    store.Store
	log      *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	state models.State
	epoch uint64 // bumped by teardown so superseded in-flight results are dropped
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the structured logger used for transition logging
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock overrides the clock used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager over the given provider registry
// and credential store. Initial state is unauthenticated with no session
func NewManager(registry *authenticator.Registry, st store.Store, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		store:    st,
		log:      zap.NewNop(),
		now:      time.Now,
		state:    models.State{Status: models.StatusUnauthenticated},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a snapshot of the current auth state. The session is
// copied so callers cannot mutate manager-owned data
func (m *Manager) State() models.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state
	if m.state.Session != nil {
		session := *m.state.Session
		snapshot.Session = &session
	}
	return snapshot
}

// AccessToken returns the current bearer token, or empty when there is no
// authenticated session
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Session == nil {
		return ""
	}
	return m.state.Session.AccessToken
}

// ClearError explicitly clears the last recorded error without touching
// the rest of the state
func (m *Manager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Err = nil
}

// SignIn authenticates against the provider identified by providerID and
// publishes the resulting session. A concurrent sign-in, sign-up or
// refresh causes rejection with OperationInProgress
func (m *Manager) SignIn(ctx context.Context, providerID string, creds authenticator.Credentials) error {
	provider, epoch, err := m.begin("signIn", providerID)
	if err != nil {
		return err
	}

	session, err := provider.SignIn(ctx, creds)
	if err != nil {
		return m.fail("signIn", err, models.ErrNetworkFailure)
	}

	return m.finish(ctx, "signIn", providerID, session, epoch)
}

// SignUp registers a new identity with the provider and publishes its
// first session. Providers without the capability yield
// UnsupportedOperation with no state change and no storage writes
func (m *Manager) SignUp(ctx context.Context, providerID string, creds authenticator.Credentials) error {
	m.mu.Lock()
	if m.state.InFlight() {
		m.mu.Unlock()
		return models.NewAuthError(models.ErrOperationInProgress, "signUp", nil)
	}

	provider, err := m.registry.Resolve(providerID)
	if err != nil {
		m.setFailureLocked("signUp", models.Normalize("signUp", err, models.ErrProviderNotFound))
		m.mu.Unlock()
		return err
	}

	registrar, ok := provider.(authenticator.SignUpProvider)
	if !ok {
		// Capability absent: reject without touching state or storage
		m.mu.Unlock()
		return models.NewAuthError(models.ErrUnsupportedOperation, "signUp", nil)
	}

	epoch := m.epoch
	m.state = models.State{Status: models.StatusAuthenticating, ActiveProviderID: providerID, Err: m.state.Err}
	m.mu.Unlock()

	m.log.Debug("sign-up started", zap.String("provider", providerID))

	session, err := registrar.SignUp(ctx, creds)
	if err != nil {
		return m.fail("signUp", err, models.ErrNetworkFailure)
	}

	return m.finish(ctx, "signUp", providerID, session, epoch)
}

// SignOut tears down the session: best-effort remote revocation, then
// unconditional clearing of all persisted keys. It always succeeds
// locally and always ends unauthenticated
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	providerID := m.state.ActiveProviderID
	m.epoch++
	m.mu.Unlock()

	if providerID != "" {
		if provider, err := m.registry.Resolve(providerID); err == nil {
			if err := provider.SignOut(ctx); err != nil {
				m.log.Warn("remote sign-out failed, continuing local teardown",
					zap.String("provider", providerID), zap.Error(err))
			}
		}
	}

	m.clearStorage(ctx)

	m.mu.Lock()
	m.state = models.State{Status: models.StatusUnauthenticated}
	m.mu.Unlock()

	m.log.Info("signed out", zap.String("provider", providerID))
	return nil
}

// RefreshSession exchanges the current refresh token for a new session.
// Any failure, including a provider without refresh capability, is
// terminal: storage is cleared and state returns to unauthenticated
func (m *Manager) RefreshSession(ctx context.Context) error {
	m.mu.Lock()
	if m.state.InFlight() {
		m.mu.Unlock()
		return models.NewAuthError(models.ErrOperationInProgress, "refresh", nil)
	}
	if m.state.Session == nil {
		err := models.NewAuthError(models.ErrSessionExpired, "refresh", errors.New("no session to refresh"))
		m.setFailureLocked("refresh", err)
		m.mu.Unlock()
		return err
	}

	providerID := m.state.ActiveProviderID
	refreshToken := m.state.Session.RefreshToken
	epoch := m.epoch
	m.state.Status = models.StatusRefreshing
	m.mu.Unlock()

	return m.refresh(ctx, providerID, refreshToken, epoch)
}

// refresh performs the token exchange after the caller has transitioned
// the state to refreshing and captured the operation's epoch
func (m *Manager) refresh(ctx context.Context, providerID, refreshToken string, epoch uint64) error {
	provider, err := m.registry.Resolve(providerID)
	if err != nil {
		authErr := models.Normalize("refresh", err, models.ErrProviderNotFound)
		m.teardown(ctx, "refresh", authErr)
		return authErr
	}

	refresher, ok := provider.(authenticator.RefreshProvider)
	if !ok {
		// Expiry is terminal for providers without refresh support
		authErr := models.NewAuthError(models.ErrSessionExpired, "refresh",
			errors.New("provider does not support refresh"))
		m.teardown(ctx, "refresh", authErr)
		return authErr
	}

	m.log.Debug("refresh started", zap.String("provider", providerID))

	session, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		authErr := models.Normalize("refresh", err, models.ErrNetworkFailure)
		m.teardown(ctx, "refresh", authErr)
		return authErr
	}

	if !session.Valid() {
		authErr := models.NewAuthError(models.ErrNetworkFailure, "refresh",
			errors.New("provider returned an invalid session"))
		m.teardown(ctx, "refresh", authErr)
		return authErr
	}

	if err := m.persist(ctx, session, providerID); err != nil {
		authErr := models.NewAuthError(models.ErrStorageFailure, "refresh", err)
		m.teardown(ctx, "refresh", authErr)
		return authErr
	}

	m.publish(ctx, "refresh", providerID, session, epoch)
	return nil
}

// Restore rehydrates auth state from the credential store at startup.
// Absent or corrupt records leave the state unauthenticated; an expired
// record with refresh support delegates to RefreshSession. Restore never
// fails fatally
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Status != models.StatusUnauthenticated {
		inFlight := m.state.InFlight()
		m.mu.Unlock()
		if inFlight {
			return models.NewAuthError(models.ErrOperationInProgress, "restore", nil)
		}
		return nil
	}
	m.mu.Unlock()

	session, providerID, found := m.load(ctx)
	if !found {
		return nil
	}

	if !session.Expired(m.now()) {
		m.mu.Lock()
		if m.state.Status == models.StatusUnauthenticated {
			m.state = models.State{
				Status:           models.StatusAuthenticated,
				Session:          session,
				ActiveProviderID: providerID,
			}
		}
		m.mu.Unlock()
		m.log.Info("session restored", zap.String("provider", providerID),
			zap.String("user", session.User.ID))
		return nil
	}

	// Expired: refresh when the provider supports it, otherwise the
	// persisted session is dead weight
	provider, err := m.registry.Resolve(providerID)
	if err != nil {
		m.clearStorage(ctx)
		return nil
	}
	if _, ok := provider.(authenticator.RefreshProvider); !ok {
		m.log.Info("restored session expired without refresh support, clearing",
			zap.String("provider", providerID))
		m.clearStorage(ctx)
		return nil
	}

	// Enter refreshing and install the restored session in one step so no
	// snapshot ever shows a session alongside an unauthenticated status
	m.mu.Lock()
	if m.state.Status != models.StatusUnauthenticated {
		m.mu.Unlock()
		return nil
	}
	epoch := m.epoch
	m.state = models.State{
		Status:           models.StatusRefreshing,
		Session:          session,
		ActiveProviderID: providerID,
		Err:              m.state.Err,
	}
	m.mu.Unlock()

	m.log.Info("restored session expired, refreshing", zap.String("provider", providerID))
	return m.refresh(ctx, providerID, session.RefreshToken, epoch)
}

// begin admits a sign-in class operation: rejects when another operation
// is in flight, resolves the provider, and transitions to authenticating
func (m *Manager) begin(op, providerID string) (authenticator.Provider, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.InFlight() {
		return nil, 0, models.NewAuthError(models.ErrOperationInProgress, op, nil)
	}

	provider, err := m.registry.Resolve(providerID)
	if err != nil {
		authErr := models.Normalize(op, err, models.ErrProviderNotFound)
		m.setFailureLocked(op, authErr)
		return nil, 0, err
	}

	epoch := m.epoch
	// The previous error survives until the operation settles; only a
	// successful transition clears it
	m.state = models.State{Status: models.StatusAuthenticating, ActiveProviderID: providerID, Err: m.state.Err}
	m.log.Debug("sign-in started", zap.String("provider", providerID), zap.String("op", op))
	return provider, epoch, nil
}

// finish validates and persists a provider result, then publishes it.
// Persistence completes before the in-memory state advances, so a crash
// between the two never leaves memory ahead of durable state
func (m *Manager) finish(ctx context.Context, op, providerID string, session *models.Session, epoch uint64) error {
	if !session.Valid() {
		return m.fail(op, errors.New("provider returned an invalid session"), models.ErrNetworkFailure)
	}

	m.mu.Lock()
	superseded := m.epoch != epoch
	m.mu.Unlock()
	if superseded {
		// A sign-out raced this operation and wins; drop the result
		m.log.Info("operation superseded by sign-out, result dropped", zap.String("op", op))
		return nil
	}

	if err := m.persist(ctx, session, providerID); err != nil {
		return m.fail(op, err, models.ErrStorageFailure)
	}

	m.publish(ctx, op, providerID, session, epoch)
	return nil
}

// fail records a terminal failure: state returns to unauthenticated with
// the normalized error set
func (m *Manager) fail(op string, err error, fallback models.ErrorKind) error {
	authErr := models.Normalize(op, err, fallback)

	m.mu.Lock()
	m.setFailureLocked(op, authErr)
	m.mu.Unlock()

	return authErr
}

// setFailureLocked resets state to unauthenticated with err recorded.
// Callers must hold m.mu
func (m *Manager) setFailureLocked(op string, err *models.AuthError) {
	m.state = models.State{Status: models.StatusUnauthenticated, Err: err}
	m.log.Warn("operation failed", zap.String("op", op),
		zap.String("kind", string(err.Kind)), zap.Error(err))
}

// publish advances the in-memory state to authenticated, unless a
// teardown superseded the operation while its I/O was in flight. A
// superseded result has already been persisted, so its keys are cleared
// again: the teardown's empty storage wins, not the in-flight writes
func (m *Manager) publish(ctx context.Context, op, providerID string, session *models.Session, epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.log.Info("operation superseded by sign-out, result dropped", zap.String("op", op))
		m.clearStorage(ctx)
		return
	}
	m.state = models.State{
		Status:           models.StatusAuthenticated,
		Session:          session,
		ActiveProviderID: providerID,
	}
	m.mu.Unlock()

	m.log.Info("authenticated", zap.String("op", op),
		zap.String("provider", providerID), zap.String("user", session.User.ID))
}

// teardown clears storage and resets state after an unrecoverable refresh
// failure. Partial storage failures are logged, never escalated
func (m *Manager) teardown(ctx context.Context, op string, err *models.AuthError) {
	m.mu.Lock()
	m.epoch++
	m.mu.Unlock()

	m.clearStorage(ctx)

	m.mu.Lock()
	m.setFailureLocked(op, err)
	m.mu.Unlock()
}

// persistedUser is the serialized auth_user record. Expiry rides inside
// it so the four-key storage layout round-trips the full session
type persistedUser struct {
	ID        string            `json:"id"`
	Email     string            `json:"email,omitempty"`
	Name      string            `json:"name,omitempty"`
	Picture   string            `json:"picture,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// persist writes the session to the credential store under the four
// fixed keys. An absent refresh token removes any stale persisted one
func (m *Manager) persist(ctx context.Context, session *models.Session, providerID string) error {
	record := persistedUser{
		ID:        session.User.ID,
		Email:     session.User.Email,
		Name:      session.User.Name,
		Picture:   session.User.Picture,
		Extra:     session.User.Extra,
		ExpiresAt: session.ExpiresAt,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if err := m.store.Set(ctx, store.KeyAccessToken, session.AccessToken); err != nil {
		return err
	}
	if session.RefreshToken != "" {
		if err := m.store.Set(ctx, store.KeyRefreshToken, session.RefreshToken); err != nil {
			return err
		}
	} else if err := m.store.Delete(ctx, store.KeyRefreshToken); err != nil {
		return err
	}
	if err := m.store.Set(ctx, store.KeyUser, string(encoded)); err != nil {
		return err
	}
	return m.store.Set(ctx, store.KeyProviderID, providerID)
}

// load reads and decodes the persisted session. A corrupt record is
// cleared defensively and reported as not found
func (m *Manager) load(ctx context.Context) (*models.Session, string, bool) {
	accessToken, err := m.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warn("failed to read persisted session", zap.Error(err))
		}
		return nil, "", false
	}

	encoded, err := m.store.Get(ctx, store.KeyUser)
	if err != nil {
		m.clearStorage(ctx)
		return nil, "", false
	}
	providerID, err := m.store.Get(ctx, store.KeyProviderID)
	if err != nil {
		m.clearStorage(ctx)
		return nil, "", false
	}

	var record persistedUser
	if err := json.Unmarshal([]byte(encoded), &record); err != nil {
		m.log.Warn("persisted user record is corrupt, clearing", zap.Error(err))
		m.clearStorage(ctx)
		return nil, "", false
	}

	session := &models.Session{
		User: models.User{
			ID:      record.ID,
			Email:   record.Email,
			Name:    record.Name,
			Picture: record.Picture,
			Extra:   record.Extra,
		},
		AccessToken: accessToken,
		ExpiresAt:   record.ExpiresAt,
	}

	// The refresh token is optional
	if refreshToken, err := m.store.Get(ctx, store.KeyRefreshToken); err == nil {
		session.RefreshToken = refreshToken
	}

	if !session.Valid() || providerID == "" {
		m.clearStorage(ctx)
		return nil, "", false
	}
	return session, providerID, true
}

// clearStorage deletes every persisted key. Each deletion is attempted
// independently so one failure never short-circuits the rest
func (m *Manager) clearStorage(ctx context.Context) {
	var g errgroup.Group
	for _, key := range store.Keys {
		key := key
		g.Go(func() error {
			if err := m.store.Delete(ctx, key); err != nil {
				m.log.Warn("failed to clear credential key",
					zap.String("key", key), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
