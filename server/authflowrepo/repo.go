package authflowrepo

import (
	"errors"
	"time"

	"github.com/jrsteele09/go-sso-bff/oauth2"
)

var (
	ErrEmptyState    = errors.New("state cannot be empty")
	ErrStateNotFound = errors.New("state not found")
	ErrStateExpired  = errors.New("state expired")
)

// AuthFlowState is what the backend remembers about a login it started. The verifier itself is
// held by the browser in the pkce cookie; only its challenge is kept here.
type AuthFlowState struct {
	Challenge string
	Method    oauth2.CodeMethodType
	CreatedAt time.Time
}

// Repo records login attempts by their state parameter. Consume returns an attempt at most once.
type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	Consume(state string) (*AuthFlowState, error)
	Delete(state string) error
}
