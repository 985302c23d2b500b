package errors

import (
	"errors"
	"fmt"
)

// Common error types for the SSO backend-for-frontend and its client
var (
	// Callback / request errors
	ErrInvalidRequest  = errors.New("invalid request")
	ErrMissingVerifier = errors.New("pkce code verifier missing")
	ErrInvalidState    = errors.New("invalid state")

	// Provider errors
	ErrInvalidGrant        = errors.New("invalid grant")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrDiscoveryFailed     = errors.New("provider discovery failed")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingRefreshToken = errors.New("refresh token missing")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")

	// Session errors
	ErrInvalidTransition      = errors.New("invalid session transition")
	ErrSessionUnauthenticated = errors.New("session unauthenticated")

	// General errors
	ErrNotFound = errors.New("not found")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
