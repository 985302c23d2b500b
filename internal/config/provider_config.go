package config

import (
	"time"

	"github.com/jrsteele09/go-sso-bff/oauth2"
)

type ProviderConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURI() string
	GetPKCEMethod() oauth2.CodeMethodType
	GetRevocationURL() string
	GetHTTPTimeout() time.Duration
	GetVerifierCookieMaxAge() time.Duration
	GetDefaultRefreshExpiry() time.Duration
}

type ProviderSettings struct {
	IssuerURL      string `yaml:"issuer_url"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	RedirectURI    string `yaml:"redirect_uri"`
	PKCEMethod     string `yaml:"pkce_method"`
	RevocationURL  string `yaml:"revocation_url"`
	HTTPTimeoutSec int    `yaml:"http_timeout_seconds"`
}

type OAuth struct {
	settings ProviderSettings
}

var _ ProviderConfig = OAuth{}

// GetIssuerURL returns the provider issuer, e.g. "https://sso.example.com/realms/demo".
// Discovery is performed against <issuer>/.well-known/openid-configuration.
func (o OAuth) GetIssuerURL() string {
	return o.settings.IssuerURL
}

func (o OAuth) GetClientID() string {
	return o.settings.ClientID
}

// GetClientSecret is empty for public clients; the secret is then never sent.
func (o OAuth) GetClientSecret() string {
	return o.settings.ClientSecret
}

func (o OAuth) GetRedirectURI() string {
	return o.settings.RedirectURI
}

func (o OAuth) GetPKCEMethod() oauth2.CodeMethodType {
	if o.settings.PKCEMethod == "" {
		return oauth2.CodeMethodTypeS256
	}
	return oauth2.CodeMethodType(o.settings.PKCEMethod)
}

// GetRevocationURL overrides the discovered revocation/end-session endpoint when set.
func (o OAuth) GetRevocationURL() string {
	return o.settings.RevocationURL
}

func (o OAuth) GetHTTPTimeout() time.Duration {
	if o.settings.HTTPTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(o.settings.HTTPTimeoutSec) * time.Second
}

func (OAuth) GetVerifierCookieMaxAge() time.Duration {
	return 5 * time.Minute
}

// GetDefaultRefreshExpiry is used when the provider omits refresh_expires_in.
func (OAuth) GetDefaultRefreshExpiry() time.Duration {
	return time.Hour
}
