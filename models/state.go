package models

// Status represents the authentication status of the process
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticating  Status = "authenticating"
	StatusAuthenticated   Status = "authenticated"
	StatusRefreshing      Status = "refreshing"
)

// State is a point-in-time snapshot of the authentication state machine.
// Session is present only while authenticated or refreshing
type State struct {
	Status           Status     `json:"status"`
	Session          *Session   `json:"session,omitempty"`
	ActiveProviderID string     `json:"active_provider_id,omitempty"`
	Err              *AuthError `json:"error,omitempty"`
}

// Authenticated reports whether the state carries a usable session
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Session.Valid()
}

// InFlight reports whether an operation is currently in progress
func (s State) InFlight() bool {
	return s.Status == StatusAuthenticating || s.Status == StatusRefreshing
}
