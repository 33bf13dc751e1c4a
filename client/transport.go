// Package client provides the API-client collaborator: an
// http.RoundTripper that attaches the current bearer token to outbound
// requests and performs the single refresh-then-retry recovery on
// authorization failures.
package client

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// SessionSource is the narrow slice of the session manager the transport
// needs. *session.Manager satisfies it
type SessionSource interface {
	AccessToken() string
	RefreshSession(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// Transport decorates a base RoundTripper with bearer authentication.
// On a 401 response it refreshes the session once and retries the
// original request with the new token; if the refresh itself fails it
// signs out and returns the original response
type Transport struct {
	Base    http.RoundTripper
	Session SessionSource
	Log     *zap.Logger
}

// NewTransport creates an authenticating transport over base. base and
// log may be nil
func NewTransport(base http.RoundTripper, source SessionSource, log *zap.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{Base: base, Session: source, Log: log}
}

// Client returns an *http.Client using this transport
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base().RoundTrip(t.authorize(req))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Requests whose body cannot be replayed are not retried
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	t.Log.Debug("request unauthorized, refreshing session",
		zap.String("url", req.URL.String()))

	if refreshErr := t.Session.RefreshSession(req.Context()); refreshErr != nil {
		t.Log.Warn("refresh after unauthorized response failed, signing out",
			zap.Error(refreshErr))
		_ = t.Session.SignOut(req.Context())
		return resp, nil
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return resp, nil
		}
		retry.Body = body
	}

	resp.Body.Close()
	return t.base().RoundTrip(t.authorize(retry))
}

// authorize attaches the current bearer token to a copy of req
func (t *Transport) authorize(req *http.Request) *http.Request {
	token := t.Session.AccessToken()
	if token == "" {
		return req
	}
	authorized := req.Clone(req.Context())
	authorized.Header.Set("Authorization", "Bearer "+token)
	return authorized
}

// base returns the underlying RoundTripper
func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
