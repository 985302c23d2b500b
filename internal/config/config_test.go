package config_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-sso-bff/internal/config"
	"github.com/jrsteele09/go-sso-bff/oauth2"
)

var configEnvVars = []string{
	"PORT", "APP_NAME", "ENV", "SPA_BASE_URL",
	"OIDC_ISSUER_URL", "OIDC_CLIENT_ID", "OIDC_CLIENT_SECRET", "OIDC_REDIRECT_URI",
	"OIDC_PKCE_METHOD", "OIDC_REVOCATION_URL", "HTTP_TIMEOUT",
	"COOKIE_DOMAIN", "COOKIE_SECURE", "COOKIE_ENCRYPTION_KEY", "ALLOWED_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func clearEnv(t *testing.T) {
	for _, v := range configEnvVars {
		t.Setenv(v, "")
	}
}

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
port: "9000"
env: PROD
spa_base_url: https://app.example.com/
provider:
  issuer_url: https://sso.example.com/realms/demo
  client_id: spa
  redirect_uri: https://bff.example.com/auth/callback
  http_timeout_seconds: 3
cookies:
  domain: example.com
cors:
  allowed_origins: ["https://app.example.com/"]
limits:
  requests_per_second: 2
  burst: 4
`

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)

	c, err := config.Load(writeFile(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.GetPort())
	assert.Equal(t, "PROD", c.GetEnv())
	assert.Equal(t, "https://app.example.com", c.GetSPABaseURL())
	assert.Equal(t, "https://sso.example.com/realms/demo", c.GetIssuerURL())
	assert.Equal(t, oauth2.CodeMethodTypeS256, c.GetPKCEMethod())
	assert.Equal(t, 3*time.Second, c.GetHTTPTimeout())
	assert.True(t, c.GetCookieSecure(), "secure cookies are the default")
	assert.Equal(t, "example.com", c.GetCookieDomain())
	assert.True(t, c.GetAllowedOrigins().IsAllowedOrigin("https://app.example.com"))

	rps, burst := c.GetRateLimit()
	assert.Equal(t, 2, rps)
	assert.Equal(t, 4, burst)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("OIDC_CLIENT_ID", "other-client")
	t.Setenv("OIDC_PKCE_METHOD", "plain")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:5173, http://127.0.0.1:5173")

	c, err := config.Load(writeFile(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "other-client", c.GetClientID())
	assert.Equal(t, oauth2.CodeMethodTypePlain, c.GetPKCEMethod())
	assert.False(t, c.GetCookieSecure())
	assert.True(t, c.GetAllowedOrigins().IsAllowedOrigin("http://127.0.0.1:5173"))
	assert.False(t, c.GetAllowedOrigins().IsAllowedOrigin("https://app.example.com"))
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	clearEnv(t)
	t.Setenv("OIDC_PKCE_METHOD", "S512")
	t.Setenv("COOKIE_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short")))

	_, err := config.Load("")
	require.Error(t, err)
	for _, want := range []string{"OIDC_ISSUER_URL", "OIDC_REDIRECT_URI", "SPA_BASE_URL", "OIDC_CLIENT_ID", "OIDC_PKCE_METHOD", "32 bytes"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCookieEncryptionKey(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	c := config.FromSettings(config.Settings{Cookies: config.CookieSettings{EncryptionKey: base64.StdEncoding.EncodeToString(key)}})
	got, err := c.GetCookieEncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)

	none, err := config.FromSettings(config.Settings{}).GetCookieEncryptionKey()
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = config.FromSettings(config.Settings{Cookies: config.CookieSettings{EncryptionKey: "%%%"}}).GetCookieEncryptionKey()
	assert.Error(t, err)
}
