package oauth2

// RefreshResponse is the body returned by the backend's /auth/refresh endpoint.
// The refresh token itself never appears here: it only travels in the http-only cookie.
type RefreshResponse struct {
	// AccessToken is the short-lived bearer credential for protected backend routes.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	AccessToken string `json:"access_token"`

	// ExpiresIn is the lifetime in seconds of the access token, as reported by the provider.
	ExpiresIn int64 `json:"expires_in"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`
}

// ErrorResponse is the JSON error body written by every backend endpoint.
// Codes follow RFC 6749 section 5.2 where one applies.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// OAuth error codes used in ErrorResponse
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidGrant       = "invalid_grant"
	ErrorCodeInvalidToken       = "invalid_token"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeInsufficientScope  = "insufficient_scope"
	ErrorCodeServerError        = "server_error"
	ErrorCodeTemporarilyUnavail = "temporarily_unavailable"
	ErrorCodeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorCodeAccessDenied       = "access_denied"
)
