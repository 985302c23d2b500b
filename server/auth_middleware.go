package server

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-sso-bff/internal/errors"
	"github.com/jrsteele09/go-sso-bff/internal/utils"
	"github.com/jrsteele09/go-sso-bff/oauth2"
)

const adminRole = "admin"

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyClaims stores the verified access token claims
	ContextKeyClaims ContextKey = "claims"
)

// ClaimsFromContext returns the claims RequireAuth stored on the request.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(jwt.MapClaims)
	return claims, ok
}

// RequireAuth is middleware that validates a Bearer access token
// Used for API routes that expect OAuth2 tokens in Authorization header
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			// Extract Bearer token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				unauthorized(w, "invalid Authorization header format")
				return
			}

			claims, err := s.tokens.VerifyAccessToken(r.Context(), parts[1])
			if err != nil {
				if errors.Is(err, errors.ErrProviderUnavailable) {
					zerolog.Ctx(r.Context()).Err(err).Msg("Cannot verify token, provider unavailable")
					writeJSONError(w, oauth2.ErrorCodeTemporarilyUnavail, "identity provider unavailable", http.StatusBadGateway)
					return
				}
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Rejected access token")
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireRole is middleware that checks the verified claims grant role, either as a realm role
// or as a role of this client. Chain it after RequireAuth.
func (s *Server) RequireRole(role string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w, "missing token")
				return
			}
			if !slices.Contains(utils.RolesFromClaims(claims, s.config.GetClientID()), role) {
				writeJSONError(w, oauth2.ErrorCodeAccessDenied, role+" role required", http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeJSONError(w, oauth2.ErrorCodeInvalidToken, description, http.StatusUnauthorized)
}
