package oauth2

// ResponseType represents the OAuth 2.0 response type requested at the authorize endpoint.
type ResponseType string

const (
	// CodeResponseType indicates the authorization code flow.
	// Used in: Authorization Code Flow with PKCE (the only flow this backend initiates)
	// Example: /protocol/openid-connect/auth?response_type=code&client_id=...
	CodeResponseType ResponseType = "code"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
// Used to bind the authorization code to the party that started the login.
type CodeMethodType string

const (
	// CodeMethodTypeS256 indicates SHA-256 hashing is used for the code challenge.
	// Client sends: code_challenge = BASE64URL(SHA256(code_verifier)) without padding
	// Provider validates: SHA256(provided code_verifier) == stored code_challenge
	// Security: the preferred method, always the default
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypePlain means no hashing, the challenge is the verifier itself.
	// Supported only for providers that cannot do S256. Never preferred.
	CodeMethodTypePlain CodeMethodType = "plain"
)

// Valid reports whether the method is one the backend can generate.
func (m CodeMethodType) Valid() bool {
	switch m {
	case CodeMethodTypeS256, CodeMethodTypePlain:
		return true
	}
	return false
}

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code (plus code_verifier) for tokens.
	// Token request includes: code, client_id, redirect_uri, code_verifier
	// Returns: access_token, id_token, refresh_token
	AuthorizationCodeGrant GrantType = "authorization_code"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	// Token request includes: refresh_token, client_id
	// Returns: new access_token and (usually) a rotated refresh_token
	RefreshTokenGrant GrantType = "refresh_token"
)

// TokenTypeHint values for RFC 7009 revocation requests.
const (
	TokenTypeHintRefreshToken = "refresh_token"
	TokenTypeHintAccessToken  = "access_token"
)

// TokenTypeBearer is the only token type handed to the browser.
const TokenTypeBearer = "Bearer"

// Scopes requested on every login.
var DefaultScopes = []string{"openid", "profile", "email"}
