package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-sso-bff/internal/errors"
	"github.com/jrsteele09/go-sso-bff/oauth2"
	"github.com/jrsteele09/go-sso-bff/pkce"
	"github.com/jrsteele09/go-sso-bff/server/authflowrepo"
	"github.com/jrsteele09/go-sso-bff/token"
)

// LoginHandler starts a login: fresh PKCE material, the verifier in an http-only cookie, the
// state in the flow ledger, and a redirect to the provider.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		challenge, err := s.pkce.Generate(s.config.GetPKCEMethod())
		if err != nil {
			logger.Err(err).Msg("Login: failed to generate PKCE challenge")
			writeJSONError(w, oauth2.ErrorCodeServerError, "could not start login", http.StatusInternalServerError)
			return
		}
		state, err := s.pkce.GenerateState()
		if err != nil {
			logger.Err(err).Msg("Login: failed to generate state")
			writeJSONError(w, oauth2.ErrorCodeServerError, "could not start login", http.StatusInternalServerError)
			return
		}

		authURL, err := s.tokens.AuthCodeURL(r.Context(), state, challenge)
		if err != nil {
			logger.Err(err).Msg("Login: failed to build authorization URL")
			s.writeProviderError(w, err)
			return
		}

		if err := s.authState.Upsert(state, &authflowrepo.AuthFlowState{
			Challenge: challenge.Challenge,
			Method:    challenge.Method,
			CreatedAt: time.Now(),
		}); err != nil {
			logger.Err(err).Msg("Login: failed to record state")
			writeJSONError(w, oauth2.ErrorCodeServerError, "could not start login", http.StatusInternalServerError)
			return
		}

		if err := s.setCookie(w, r, pkceCookieName, challenge.Verifier, s.config.GetVerifierCookieMaxAge()); err != nil {
			logger.Err(err).Msg("Login: failed to set verifier cookie")
			_ = s.authState.Delete(state)
			writeJSONError(w, oauth2.ErrorCodeServerError, "could not start login", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// CallbackHandler completes a login: it checks the state and verifier, exchanges the code and
// hands the refresh token to the browser as an http-only cookie.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())
		q := r.URL.Query()

		// The verifier is single use whatever happens next
		verifier, hasVerifier := s.readCookie(r, pkceCookieName)
		s.clearCookie(w, r, pkceCookieName)

		if errorParam := q.Get("error"); errorParam != "" {
			logger.Warn().Str("error", errorParam).Str("error_description", q.Get("error_description")).Msg("Callback: provider returned an error")
			if state := q.Get("state"); state != "" {
				_ = s.authState.Delete(state)
			}
			writeJSONError(w, oauth2.ErrorCodeInvalidRequest, "authorization failed: "+errorParam, http.StatusBadRequest)
			return
		}

		code, state := q.Get("code"), q.Get("state")
		if code == "" || state == "" {
			writeJSONError(w, oauth2.ErrorCodeInvalidRequest, "missing code or state parameter", http.StatusBadRequest)
			return
		}

		flow, err := s.authState.Consume(state)
		if err != nil {
			logger.Warn().Err(errors.Wrapf(errors.ErrInvalidState, "%v", err)).Msg("Callback: unknown state")
			writeJSONError(w, oauth2.ErrorCodeInvalidRequest, "invalid state parameter", http.StatusBadRequest)
			return
		}

		if !hasVerifier {
			logger.Warn().Err(errors.ErrMissingVerifier).Msg("Callback: no verifier cookie")
			writeJSONError(w, oauth2.ErrorCodeInvalidGrant, "missing pkce verifier", http.StatusUnauthorized)
			return
		}
		expected := pkce.Challenge{Challenge: flow.Challenge, Method: flow.Method}
		if !expected.Matches(verifier) {
			logger.Warn().Err(errors.Wrapf(errors.ErrInvalidGrant, "verifier does not match the recorded challenge")).Msg("Callback: verifier does not belong to this login attempt")
			writeJSONError(w, oauth2.ErrorCodeInvalidGrant, "pkce verifier mismatch", http.StatusUnauthorized)
			return
		}

		tokens, err := s.tokens.ExchangeCode(r.Context(), code, verifier)
		if err != nil {
			logger.Err(err).Msg("Callback: code exchange failed")
			s.writeProviderError(w, err)
			return
		}

		if err := s.setCookie(w, r, refreshCookieName, tokens.RefreshToken.Value(), tokens.RefreshExpiresIn); err != nil {
			logger.Err(err).Msg("Callback: failed to set refresh cookie")
			writeJSONError(w, oauth2.ErrorCodeServerError, "could not complete login", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, s.config.GetSPABaseURL()+SPARouteAuthCallback, http.StatusFound)
	}
}

// RefreshHandler redeems the refresh cookie for a new access token and rotates the cookie.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		refreshToken, ok := s.readCookie(r, refreshCookieName)
		if !ok {
			s.clearCookie(w, r, refreshCookieName)
			writeJSONError(w, oauth2.ErrorCodeUnauthorized, "missing refresh token", http.StatusUnauthorized)
			return
		}

		tokens, err := s.tokens.Refresh(r.Context(), token.RefreshToken(refreshToken))
		if err != nil {
			logger.Err(err).Msg("Refresh: provider refresh failed")
			if errors.Is(err, errors.ErrInvalidGrant) || errors.Is(err, errors.ErrMissingRefreshToken) {
				s.clearCookie(w, r, refreshCookieName)
			}
			s.writeProviderError(w, err)
			return
		}

		if err := s.setCookie(w, r, refreshCookieName, tokens.RefreshToken.Value(), tokens.RefreshExpiresIn); err != nil {
			logger.Err(err).Msg("Refresh: failed to set refresh cookie")
			writeJSONError(w, oauth2.ErrorCodeServerError, "could not refresh", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, oauth2.RefreshResponse{
			AccessToken: tokens.AccessToken,
			ExpiresIn:   int64(tokens.AccessExpiresIn.Seconds()),
			TokenType:   oauth2.TokenTypeBearer,
		})
	}
}

// LogoutHandler revokes the refresh token (best effort) and always clears the cookie.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if refreshToken, ok := s.readCookie(r, refreshCookieName); ok {
			if err := s.tokens.Revoke(r.Context(), token.RefreshToken(refreshToken)); err != nil {
				zerolog.Ctx(r.Context()).Err(err).Msg("Logout: failed to revoke refresh token")
			}
		}
		s.clearCookie(w, r, refreshCookieName)
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeProviderError maps token service failures onto HTTP statuses.
func (s *Server) writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrInvalidGrant):
		writeJSONError(w, oauth2.ErrorCodeInvalidGrant, "the identity provider rejected the grant", http.StatusUnauthorized)
	case errors.Is(err, errors.ErrMissingRefreshToken):
		writeJSONError(w, oauth2.ErrorCodeUnauthorized, "missing refresh token", http.StatusUnauthorized)
	case errors.Is(err, errors.ErrProviderUnavailable):
		writeJSONError(w, oauth2.ErrorCodeTemporarilyUnavail, "identity provider unavailable", http.StatusBadGateway)
	case errors.Is(err, errors.ErrInvalidRequest):
		writeJSONError(w, oauth2.ErrorCodeInvalidRequest, "invalid request", http.StatusBadRequest)
	default:
		writeJSONError(w, oauth2.ErrorCodeServerError, "internal error", http.StatusInternalServerError)
	}
}
