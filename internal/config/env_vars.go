package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	portEnvVar       = "PORT"
	appNameVar       = "APP_NAME"
	envVar           = "ENV"
	spaBaseURLVar    = "SPA_BASE_URL"
	issuerURLVar     = "OIDC_ISSUER_URL"
	clientIDVar      = "OIDC_CLIENT_ID"
	clientSecretVar  = "OIDC_CLIENT_SECRET"
	redirectURIVar   = "OIDC_REDIRECT_URI"
	pkceMethodVar    = "OIDC_PKCE_METHOD"
	revocationURLVar = "OIDC_REVOCATION_URL"
	httpTimeoutVar   = "HTTP_TIMEOUT"
	cookieDomainVar  = "COOKIE_DOMAIN"
	cookieSecureVar  = "COOKIE_SECURE"
	cookieKeyVar     = "COOKIE_ENCRYPTION_KEY"
	allowedOrigins   = "ALLOWED_ORIGINS"
	rateLimitRPSVar  = "RATE_LIMIT_RPS"
	rateLimitBurst   = "RATE_LIMIT_BURST"
)

type EnvVars struct {
	settings Settings
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.settings.Port
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.settings.AppName
}

func (e EnvVars) GetEnv() string {
	if e.settings.Env == "" {
		return "DEV"
	}
	return e.settings.Env
}

// GetSPABaseURL returns the single-page application origin the callback redirects back to
// (e.g. "https://app.example.com"); the SPA route "/auth-callback" is appended to it.
func (e EnvVars) GetSPABaseURL() string {
	return strings.TrimSuffix(e.settings.SPABaseURL, "/")
}

func (s Settings) applyEnv() Settings {
	s.Port = GetEnv(portEnvVar, s.Port)
	s.AppName = GetEnv(appNameVar, s.AppName)
	s.Env = GetEnv(envVar, s.Env)
	s.SPABaseURL = GetEnv(spaBaseURLVar, s.SPABaseURL)

	s.Provider.IssuerURL = GetEnv(issuerURLVar, s.Provider.IssuerURL)
	s.Provider.ClientID = GetEnv(clientIDVar, s.Provider.ClientID)
	s.Provider.ClientSecret = GetEnv(clientSecretVar, s.Provider.ClientSecret)
	s.Provider.RedirectURI = GetEnv(redirectURIVar, s.Provider.RedirectURI)
	s.Provider.PKCEMethod = GetEnv(pkceMethodVar, s.Provider.PKCEMethod)
	s.Provider.RevocationURL = GetEnv(revocationURLVar, s.Provider.RevocationURL)
	s.Provider.HTTPTimeoutSec = GetEnvInt(httpTimeoutVar, s.Provider.HTTPTimeoutSec)

	s.Cookies.Domain = GetEnv(cookieDomainVar, s.Cookies.Domain)
	s.Cookies.Secure = GetEnvBool(cookieSecureVar, s.Cookies.Secure)
	s.Cookies.EncryptionKey = GetEnv(cookieKeyVar, s.Cookies.EncryptionKey)

	if origins := GetEnv(allowedOrigins, ""); origins != "" {
		s.Cors.AllowedOrigins = splitList(origins)
	}

	s.Limits.RequestsPerSecond = GetEnvInt(rateLimitRPSVar, s.Limits.RequestsPerSecond)
	s.Limits.Burst = GetEnvInt(rateLimitBurst, s.Limits.Burst)
	return s
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvInt(envVar string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return value
}

func GetEnvBool(envVar string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
