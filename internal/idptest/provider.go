// Package idptest runs an in-process OpenID Connect provider for tests: discovery, JWKS,
// authorization, token (code + PKCE and refresh with rotation), revocation and end-session.
package idptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jrsteele09/go-sso-bff/oauth2"
	"github.com/jrsteele09/go-sso-bff/pkce"
)

// Endpoint paths served by the provider.
const (
	DiscoveryPath  = "/.well-known/openid-configuration"
	JWKSPath       = "/protocol/openid-connect/certs"
	AuthorizePath  = "/protocol/openid-connect/auth"
	TokenPath      = "/protocol/openid-connect/token"
	RevocationPath = "/protocol/openid-connect/revoke"
	LogoutPath     = "/protocol/openid-connect/logout"
)

// User is the identity every successful login resolves to.
type User struct {
	Subject     string
	Email       string
	RealmRoles  []string
	ClientRoles []string
}

type Option func(*Provider)

func WithClientID(id string) Option {
	return func(p *Provider) { p.clientID = id }
}

func WithClientSecret(secret string) Option {
	return func(p *Provider) { p.clientSecret = secret }
}

func WithUser(u User) Option {
	return func(p *Provider) { p.user = u }
}

func WithAccessTokenTTL(d time.Duration) Option {
	return func(p *Provider) { p.accessTTL = d }
}

// WithoutRevocationEndpoint leaves revocation_endpoint out of discovery so clients fall back to
// the end-session endpoint.
func WithoutRevocationEndpoint() Option {
	return func(p *Provider) { p.advertiseRevocation = false }
}

// WithTokenDelay holds every token endpoint response for d.
func WithTokenDelay(d time.Duration) Option {
	return func(p *Provider) { p.tokenDelay = d }
}

type authorization struct {
	challenge   pkce.Challenge
	clientID    string
	redirectURI string
}

// Provider is a running test provider. Close it when done.
type Provider struct {
	server *httptest.Server
	keys   *KeyPair
	ledger *Ledger

	clientID            string
	clientSecret        string
	user                User
	accessTTL           time.Duration
	refreshTTL          time.Duration
	advertiseRevocation bool
	tokenDelay          time.Duration

	mu       sync.Mutex
	codes    map[string]authorization
	failures map[string][]int
	calls    map[string]int
}

// New starts a provider. It panics if the signing key cannot be generated.
func New(opts ...Option) *Provider {
	keys, err := GenerateRSAKeyPair(uuid.NewString(), 2048)
	if err != nil {
		panic(err)
	}

	p := &Provider{
		keys:     keys,
		clientID: "spa",
		user: User{
			Subject:    "user-1",
			Email:      "user@example.com",
			RealmRoles: []string{"user"},
		},
		accessTTL:           5 * time.Minute,
		refreshTTL:          time.Hour,
		advertiseRevocation: true,
		codes:               make(map[string]authorization),
		failures:            make(map[string][]int),
		calls:               make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ledger = NewLedger(p.refreshTTL)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+DiscoveryPath, p.track(DiscoveryPath, p.handleDiscovery))
	mux.HandleFunc("GET "+JWKSPath, p.track(JWKSPath, p.handleJWKS))
	mux.HandleFunc("GET "+AuthorizePath, p.track(AuthorizePath, p.handleAuthorize))
	mux.HandleFunc("POST "+TokenPath, p.track(TokenPath, p.handleToken))
	mux.HandleFunc("POST "+RevocationPath, p.track(RevocationPath, p.handleRevoke))
	mux.HandleFunc("POST "+LogoutPath, p.track(LogoutPath, p.handleLogout))
	p.server = httptest.NewServer(mux)
	return p
}

func (p *Provider) Close() {
	p.server.Close()
}

// Issuer is the provider's issuer URL.
func (p *Provider) Issuer() string {
	return p.server.URL
}

func (p *Provider) ClientID() string {
	return p.clientID
}

func (p *Provider) Ledger() *Ledger {
	return p.ledger
}

// Calls returns how many requests reached path.
func (p *Provider) Calls(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

// FailNext makes the next requests to path answer with the given statuses, in order.
func (p *Provider) FailNext(path string, statuses ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[path] = append(p.failures[path], statuses...)
}

// IssueCode records an approved authorization as /authorize would and returns the code.
func (p *Provider) IssueCode(challenge *pkce.Challenge, redirectURI string) string {
	code := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[code] = authorization{
		challenge:   *challenge,
		clientID:    p.clientID,
		redirectURI: redirectURI,
	}
	return code
}

// IssueAccessToken signs an access token for the configured user that expires after ttl.
// A negative ttl yields an already expired token.
func (p *Provider) IssueAccessToken(ttl time.Duration) string {
	token, err := p.keys.Sign(p.accessClaims(ttl))
	if err != nil {
		panic(err)
	}
	return token
}

// IssueRefreshToken creates a live refresh token for the configured user.
func (p *Provider) IssueRefreshToken() string {
	token, err := p.ledger.Create(p.clientID, p.user.Subject)
	if err != nil {
		panic(err)
	}
	return token
}

func (p *Provider) track(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.calls[path]++
		var status int
		if queued := p.failures[path]; len(queued) > 0 {
			status, p.failures[path] = queued[0], queued[1:]
		}
		p.mu.Unlock()

		if status != 0 {
			code := oauth2.ErrorCodeServerError
			if status < http.StatusInternalServerError {
				code = oauth2.ErrorCodeInvalidGrant
			}
			writeError(w, status, code, "injected failure")
			return
		}
		next(w, r)
	}
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	issuer := p.Issuer()
	doc := map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + AuthorizePath,
		"token_endpoint":                        issuer + TokenPath,
		"jwks_uri":                              issuer + JWKSPath,
		"end_session_endpoint":                  issuer + LogoutPath,
		"response_types_supported":              []string{string(oauth2.CodeResponseType)},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{string(oauth2.CodeMethodTypeS256), string(oauth2.CodeMethodTypePlain)},
		"grant_types_supported":                 []string{string(oauth2.AuthorizationCodeGrant), string(oauth2.RefreshTokenGrant)},
	}
	if p.advertiseRevocation {
		doc["revocation_endpoint"] = issuer + RevocationPath
	}
	writeJSON(w, http.StatusOK, doc)
}

func (p *Provider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, p.keys.JWKS())
}

// handleAuthorize approves every valid request without a login page.
func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != string(oauth2.CodeResponseType) || q.Get("client_id") != p.clientID {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidRequest, "unsupported response_type or client_id")
		return
	}
	method := oauth2.CodeMethodType(q.Get("code_challenge_method"))
	if method == "" {
		method = oauth2.CodeMethodTypePlain
	}
	if q.Get("code_challenge") == "" || !method.Valid() {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidRequest, "pkce challenge required")
		return
	}
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Host == "" {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidRequest, "invalid redirect_uri")
		return
	}

	code := p.IssueCode(&pkce.Challenge{Challenge: q.Get("code_challenge"), Method: method}, redirect.String())

	values := redirect.Query()
	values.Set("code", code)
	values.Set("state", q.Get("state"))
	redirect.RawQuery = values.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if p.tokenDelay > 0 {
		time.Sleep(p.tokenDelay)
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidRequest, err.Error())
		return
	}
	if r.PostForm.Get("client_id") != p.clientID {
		writeError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	if p.clientSecret != "" && r.PostForm.Get("client_secret") != p.clientSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client", "bad client secret")
		return
	}

	switch oauth2.GrantType(r.PostForm.Get("grant_type")) {
	case oauth2.AuthorizationCodeGrant:
		p.handleCodeGrant(w, r.PostForm)
	case oauth2.RefreshTokenGrant:
		p.handleRefreshGrant(w, r.PostForm)
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type")
	}
}

func (p *Provider) handleCodeGrant(w http.ResponseWriter, form url.Values) {
	code := form.Get("code")

	p.mu.Lock()
	auth, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidGrant, "unknown or used code")
		return
	}
	if auth.redirectURI != form.Get("redirect_uri") {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidGrant, "redirect_uri mismatch")
		return
	}
	if !auth.challenge.Matches(form.Get("code_verifier")) {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidGrant, "pkce verification failed")
		return
	}

	refresh, err := p.ledger.Create(p.clientID, p.user.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, oauth2.ErrorCodeServerError, err.Error())
		return
	}
	p.writeTokens(w, refresh)
}

func (p *Provider) handleRefreshGrant(w http.ResponseWriter, form url.Values) {
	next, err := p.ledger.Rotate(form.Get("refresh_token"), form.Get("client_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidGrant, err.Error())
		return
	}
	p.writeTokens(w, next.Token)
}

func (p *Provider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidRequest, err.Error())
		return
	}
	// RFC 7009: unknown tokens are not an error
	p.ledger.Revoke(r.PostForm.Get("token"))
	w.WriteHeader(http.StatusOK)
}

func (p *Provider) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidRequest, err.Error())
		return
	}
	if !p.ledger.Revoke(r.PostForm.Get("refresh_token")) {
		writeError(w, http.StatusBadRequest, oauth2.ErrorCodeInvalidGrant, "invalid refresh token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Provider) writeTokens(w http.ResponseWriter, refresh string) {
	access, err := p.keys.Sign(p.accessClaims(p.accessTTL))
	if err != nil {
		writeError(w, http.StatusInternalServerError, oauth2.ErrorCodeServerError, err.Error())
		return
	}
	idClaims := p.accessClaims(p.accessTTL)
	idClaims["aud"] = p.clientID
	idToken, err := p.keys.Sign(idClaims)
	if err != nil {
		writeError(w, http.StatusInternalServerError, oauth2.ErrorCodeServerError, err.Error())
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       access,
		"token_type":         oauth2.TokenTypeBearer,
		"expires_in":         int64(p.accessTTL.Seconds()),
		"refresh_token":      refresh,
		"refresh_expires_in": int64(p.refreshTTL.Seconds()),
		"id_token":           idToken,
		"scope":              "openid profile email",
	})
}

func (p *Provider) accessClaims(ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                p.Issuer(),
		"sub":                p.user.Subject,
		"aud":                []string{"account"},
		"azp":                p.clientID,
		"exp":                now.Add(ttl).Unix(),
		"iat":                now.Unix(),
		"jti":                uuid.NewString(),
		"typ":                oauth2.TokenTypeBearer,
		"email":              p.user.Email,
		"preferred_username": p.user.Subject,
		"realm_access":       map[string]any{"roles": p.user.RealmRoles},
		"resource_access": map[string]any{
			p.clientID: map[string]any{"roles": p.user.ClientRoles},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, oauth2.ErrorResponse{Error: code, ErrorDescription: description})
}
