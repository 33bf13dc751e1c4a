package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies authentication failures.
// Raw provider and storage errors are normalized into one of these kinds
// before they reach consumers
type ErrorKind string

const (
	ErrInvalidCredentials   ErrorKind = "invalid_credentials"
	ErrProviderNotFound     ErrorKind = "provider_not_found"
	ErrUnsupportedOperation ErrorKind = "unsupported_operation"
	ErrOperationInProgress  ErrorKind = "operation_in_progress"
	ErrSessionExpired       ErrorKind = "session_expired"
	ErrStorageFailure       ErrorKind = "storage_failure"
	ErrNetworkFailure       ErrorKind = "network_failure"
)

// AuthError is the error type crossing the session manager boundary
type AuthError struct {
	Kind ErrorKind `json:"kind"`
	Op   string    `json:"op,omitempty"`
	Err  error     `json:"-"`
}

// NewAuthError creates an AuthError of the given kind for operation op
func NewAuthError(kind ErrorKind, op string, err error) *AuthError {
	return &AuthError{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying cause
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches AuthErrors by kind so errors.Is works with kind sentinels
func (e *AuthError) Is(target error) bool {
	var ae *AuthError
	if errors.As(target, &ae) {
		return e.Kind == ae.Kind
	}
	return false
}

// KindOf extracts the ErrorKind from err, or empty string if err is not
// an AuthError
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Normalize wraps err into an AuthError with the given fallback kind.
// Errors that already carry a kind pass through unchanged, so provider
// classifications survive the session manager boundary
func Normalize(op string, err error, fallback ErrorKind) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return NewAuthError(fallback, op, err)
}
