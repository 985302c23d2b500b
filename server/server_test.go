package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-sso-bff/authclient"
	"github.com/jrsteele09/go-sso-bff/internal/config"
	"github.com/jrsteele09/go-sso-bff/internal/idptest"
	"github.com/jrsteele09/go-sso-bff/oauth2"
	"github.com/jrsteele09/go-sso-bff/server"
	"github.com/jrsteele09/go-sso-bff/server/authflowrepo"
	"github.com/jrsteele09/go-sso-bff/session"
	"github.com/jrsteele09/go-sso-bff/storage"
	"github.com/jrsteele09/go-sso-bff/token"
)

const spaBaseURL = "http://spa.test"

type harness struct {
	idp     *idptest.Provider
	backend *httptest.Server
	flows   *authflowrepo.InMemoryRepo
}

type harnessOption func(*config.Settings)

func withRateLimit(rps, burst int) harnessOption {
	return func(s *config.Settings) { s.Limits = config.LimitSettings{RequestsPerSecond: rps, Burst: burst} }
}

func withCookieKey() harnessOption {
	return func(s *config.Settings) {
		s.Cookies.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	}
}

func newHarness(t *testing.T, user idptest.User, opts ...harnessOption) *harness {
	t.Helper()
	idp := idptest.New(idptest.WithUser(user))
	t.Cleanup(idp.Close)

	var handler http.Handler
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(backend.Close)

	settings := config.Settings{
		Env:        "TEST",
		SPABaseURL: spaBaseURL,
		Provider: config.ProviderSettings{
			IssuerURL:      idp.Issuer(),
			ClientID:       idp.ClientID(),
			RedirectURI:    backend.URL + server.RouteAuthCallback,
			PKCEMethod:     "S256",
			HTTPTimeoutSec: 5,
		},
		Cors: config.CorsSettings{AllowedOrigins: []string{spaBaseURL}},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	cfg := config.FromSettings(settings)
	require.NoError(t, cfg.Validate())

	flows := authflowrepo.NewInMemoryRepo(5 * time.Minute)
	srv, err := server.New(cfg, token.New(cfg), flows, server.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	handler = srv

	return &harness{idp: idp, backend: backend, flows: flows}
}

func adminUser() idptest.User {
	return idptest.User{Subject: "alice", Email: "alice@example.com", RealmRoles: []string{"user", "admin"}}
}

func plainUser() idptest.User {
	return idptest.User{Subject: "bob", Email: "bob@example.com", RealmRoles: []string{"user"}}
}

// browser returns a client that keeps cookies and stops at the SPA redirect.
func browser(t *testing.T, jar http.CookieJar) *http.Client {
	t.Helper()
	if jar == nil {
		var err error
		jar, err = cookiejar.New(nil)
		require.NoError(t, err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, _ []*http.Request) error {
			if strings.HasPrefix(req.URL.String(), spaBaseURL) {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func noRedirects() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

// login drives the full browser flow and returns the final response (the redirect to the SPA).
func (h *harness) login(t *testing.T, c *http.Client) *http.Response {
	t.Helper()
	resp, err := c.Get(h.backend.URL + server.RouteAuthLogin)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

// startLogin calls /auth/login without following and returns the state and the verifier cookie.
func (h *harness) startLogin(t *testing.T) (string, *http.Cookie) {
	t.Helper()
	resp, err := noRedirects().Get(h.backend.URL + server.RouteAuthLogin)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("state"), findCookie(resp, "pkce_verifier")
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, resp *http.Response) oauth2.ErrorResponse {
	t.Helper()
	var body oauth2.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestLogin_RedirectsWithPKCE(t *testing.T) {
	h := newHarness(t, plainUser())

	resp, err := noRedirects().Get(h.backend.URL + server.RouteAuthLogin)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, idptest.AuthorizePath, loc.Path)
	assert.Equal(t, "S256", loc.Query().Get("code_challenge_method"))
	assert.NotEmpty(t, loc.Query().Get("code_challenge"))
	assert.NotEmpty(t, loc.Query().Get("state"))
	assert.Equal(t, 1, h.flows.Len())

	cookie := findCookie(resp, "pkce_verifier")
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 300, cookie.MaxAge)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestCallback_SetsRefreshCookieAndRedirectsToSPA(t *testing.T) {
	h := newHarness(t, plainUser())

	resp := h.login(t, browser(t, nil))
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, spaBaseURL+server.SPARouteAuthCallback, resp.Header.Get("Location"))

	refresh := findCookie(resp, "refresh_token")
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, 3600, refresh.MaxAge)
	assert.NotEmpty(t, refresh.Value)

	cleared := findCookie(resp, "pkce_verifier")
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Zero(t, h.flows.Len(), "state is consumed")
}

func TestCallback_Errors(t *testing.T) {
	h := newHarness(t, plainUser())
	cb := h.backend.URL + server.RouteAuthCallback

	t.Run("missing code", func(t *testing.T) {
		resp, err := noRedirects().Get(cb + "?state=x")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, oauth2.ErrorCodeInvalidRequest, decodeError(t, resp).Error)
	})

	t.Run("provider error", func(t *testing.T) {
		resp, err := noRedirects().Get(cb + "?error=access_denied&state=x")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown state", func(t *testing.T) {
		resp, err := noRedirects().Get(cb + "?code=c&state=never-issued")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing verifier cookie", func(t *testing.T) {
		state, _ := h.startLogin(t)
		resp, err := noRedirects().Get(cb + "?code=c&state=" + url.QueryEscape(state))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("verifier from another attempt", func(t *testing.T) {
		stateA, _ := h.startLogin(t)
		_, verifierB := h.startLogin(t)
		require.NotNil(t, verifierB)

		req, err := http.NewRequest(http.MethodGet, cb+"?code=c&state="+url.QueryEscape(stateA), nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: verifierB.Name, Value: verifierB.Value})
		resp, err := noRedirects().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, oauth2.ErrorCodeInvalidGrant, decodeError(t, resp).Error)
	})

	t.Run("state replay", func(t *testing.T) {
		state, verifier := h.startLogin(t)
		require.NotNil(t, verifier)
		for i, want := range []int{http.StatusUnauthorized, http.StatusBadRequest} {
			req, err := http.NewRequest(http.MethodGet, cb+"?code=bogus&state="+url.QueryEscape(state), nil)
			require.NoError(t, err)
			req.AddCookie(&http.Cookie{Name: verifier.Name, Value: verifier.Value})
			resp, err := noRedirects().Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, want, resp.StatusCode, "attempt %d", i)
		}
	})

	t.Run("provider unavailable", func(t *testing.T) {
		h.idp.FailNext(idptest.TokenPath, http.StatusServiceUnavailable)
		resp := h.login(t, browser(t, nil))
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestRefresh(t *testing.T) {
	h := newHarness(t, plainUser())
	c := browser(t, nil)
	require.Equal(t, http.StatusFound, h.login(t, c).StatusCode)

	post := func() *http.Response {
		resp, err := c.Post(h.backend.URL+server.RouteAuthRefresh, "", nil)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	first := post()
	require.Equal(t, http.StatusOK, first.StatusCode)
	var body oauth2.RefreshResponse
	require.NoError(t, json.NewDecoder(first.Body).Decode(&body))
	assert.NotEmpty(t, body.AccessToken)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Equal(t, int64(300), body.ExpiresIn)
	rotated := findCookie(first, "refresh_token")
	require.NotNil(t, rotated)

	second := post()
	require.Equal(t, http.StatusOK, second.StatusCode)
	var body2 oauth2.RefreshResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body2))
	assert.NotEqual(t, body.AccessToken, body2.AccessToken)

	// replaying the rotated-away cookie is rejected and the cookie cleared
	req, err := http.NewRequest(http.MethodPost, h.backend.URL+server.RouteAuthRefresh, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: rotated.Name, Value: rotated.Value})
	resp, err := noRedirects().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	cleared := findCookie(resp, "refresh_token")
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestRefresh_MissingCookie(t *testing.T) {
	h := newHarness(t, plainUser())

	resp, err := noRedirects().Post(h.backend.URL+server.RouteAuthRefresh, "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotNil(t, findCookie(resp, "refresh_token"))
}

func TestRefresh_ProviderDownKeepsCookie(t *testing.T) {
	h := newHarness(t, plainUser())
	c := browser(t, nil)
	require.Equal(t, http.StatusFound, h.login(t, c).StatusCode)

	h.idp.FailNext(idptest.TokenPath, http.StatusInternalServerError)
	resp, err := c.Post(h.backend.URL+server.RouteAuthRefresh, "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Nil(t, findCookie(resp, "refresh_token"))

	resp, err = c.Post(h.backend.URL+server.RouteAuthRefresh, "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, plainUser())
	c := browser(t, nil)
	require.Equal(t, http.StatusFound, h.login(t, c).StatusCode)
	require.Equal(t, 1, h.idp.Ledger().Active())

	resp, err := c.Post(h.backend.URL+server.RouteAuthLogout, "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, h.idp.Ledger().Active())
	assert.Equal(t, 1, h.idp.Calls(idptest.RevocationPath))

	// cookie gone: still 204, nothing revoked
	resp, err = c.Post(h.backend.URL+server.RouteAuthLogout, "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, h.idp.Calls(idptest.RevocationPath))
}

func TestLogout_RevocationFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, plainUser())
	c := browser(t, nil)
	require.Equal(t, http.StatusFound, h.login(t, c).StatusCode)

	h.idp.FailNext(idptest.RevocationPath, http.StatusInternalServerError)
	resp, err := c.Post(h.backend.URL+server.RouteAuthLogout, "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	cleared := findCookie(resp, "refresh_token")
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestUsersEndpoints(t *testing.T) {
	h := newHarness(t, plainUser())
	get := func(path, token string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, h.backend.URL+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, get(server.RouteUserMe, "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(server.RouteUserMe, h.idp.IssueAccessToken(-time.Minute)).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(server.RouteUserMe, "garbage").StatusCode)

	resp := get(server.RouteUserMe, h.idp.IssueAccessToken(time.Minute))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claims map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&claims))
	assert.Equal(t, "bob", claims["sub"])

	forbidden := get(server.RouteUserAdminData, h.idp.IssueAccessToken(time.Minute))
	assert.Equal(t, http.StatusForbidden, forbidden.StatusCode)
	assert.Equal(t, oauth2.ErrorCodeAccessDenied, decodeError(t, forbidden).Error)
}

func TestUsersMe_KeysUnreachableIsBadGateway(t *testing.T) {
	h := newHarness(t, plainUser())
	access := h.idp.IssueAccessToken(time.Minute)
	h.idp.FailNext(idptest.JWKSPath, http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	req, err := http.NewRequest(http.MethodGet, h.backend.URL+server.RouteUserMe, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, oauth2.ErrorCodeTemporarilyUnavail, decodeError(t, resp).Error)
}

func TestAdminData(t *testing.T) {
	h := newHarness(t, adminUser())

	req, err := http.NewRequest(http.MethodGet, h.backend.URL+server.RouteUserAdminData, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+h.idp.IssueAccessToken(time.Minute))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "admin only", body["msg"])
}

func TestHealthAndRequestID(t *testing.T) {
	h := newHarness(t, plainUser())

	resp, err := http.Get(h.backend.URL + server.RouteHealth)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, h.backend.URL+server.RouteHealth, nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "abc-123", resp2.Header.Get("X-Request-ID"))
}

func TestCors(t *testing.T) {
	h := newHarness(t, plainUser())
	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, h.backend.URL+server.RouteAuthRefresh, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	allowed := preflight(spaBaseURL)
	assert.Equal(t, http.StatusNoContent, allowed.StatusCode)
	assert.Equal(t, spaBaseURL, allowed.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", allowed.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, allowed.Header.Get("Access-Control-Allow-Methods"), "POST")

	denied := preflight("https://evil.test")
	assert.Empty(t, denied.Header.Get("Access-Control-Allow-Origin"))
}

func TestRateLimitOnAuthRoutes(t *testing.T) {
	h := newHarness(t, plainUser(), withRateLimit(1, 1))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(h.backend.URL+server.RouteAuthLogout, "", nil)
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, http.StatusNoContent, statuses[0])
	assert.Contains(t, statuses, http.StatusTooManyRequests)

	// non-auth routes are not limited
	for i := 0; i < 3; i++ {
		resp, err := http.Get(h.backend.URL + server.RouteHealth)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestSealedCookies(t *testing.T) {
	h := newHarness(t, plainUser(), withCookieKey())
	c := browser(t, nil)

	resp := h.login(t, c)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	refresh := findCookie(resp, "refresh_token")
	require.NotNil(t, refresh)

	ok, err := c.Post(h.backend.URL+server.RouteAuthRefresh, "", nil)
	require.NoError(t, err)
	ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)

	// a cookie that does not open reads as missing
	req, err := http.NewRequest(http.MethodPost, h.backend.URL+server.RouteAuthRefresh, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "bm90LXNlYWxlZA"})
	bad, err := noRedirects().Do(req)
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)
	assert.Equal(t, oauth2.ErrorCodeUnauthorized, decodeError(t, bad).Error)
}

// End to end: the client logs in through the backend, then two protected calls made with an
// expired token share a single refresh.
func TestClientScenario(t *testing.T) {
	h := newHarness(t, adminUser())

	sessionTier := storage.NewMemory()
	client, err := authclient.New(h.backend.URL,
		authclient.WithSessionStorage(sessionTier),
		authclient.WithClientID(h.idp.ClientID()),
	)
	require.NoError(t, err)
	require.Equal(t, session.StatusUnknown, client.Session().Status())

	resp := h.login(t, browser(t, client.Jar()))
	require.Equal(t, http.StatusFound, resp.StatusCode)

	require.NoError(t, client.CompleteLogin(context.Background()))
	assert.Equal(t, session.StatusAuthenticated, client.Session().Status())
	require.Eventually(t, func() bool { return client.Session().Profile() != nil }, 2*time.Second, 10*time.Millisecond)
	client.Session().Wait()
	assert.True(t, client.Session().IsAdmin())
	assert.Equal(t, "alice", client.Session().Profile().Subject)

	// expire the access token
	require.NoError(t, sessionTier.Set(storage.AccessTokenKey, h.idp.IssueAccessToken(-time.Minute)))
	refreshesBefore := h.idp.Calls(idptest.TokenPath)

	var wg sync.WaitGroup
	results := make(map[string]int)
	var mu sync.Mutex
	for _, path := range []string{server.RouteUserMe, server.RouteUserAdminData} {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			resp, err := client.HTTPClient().Get(h.backend.URL + path)
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			mu.Lock()
			results[path] = resp.StatusCode
			mu.Unlock()
		}(path)
	}
	wg.Wait()
	client.Session().Wait()

	assert.Equal(t, http.StatusOK, results[server.RouteUserMe])
	assert.Equal(t, http.StatusOK, results[server.RouteUserAdminData])
	assert.Equal(t, 1, h.idp.Calls(idptest.TokenPath)-refreshesBefore, "exactly one refresh reaches the provider")

	require.NoError(t, client.Logout(context.Background()))
	assert.Equal(t, session.StatusUnauthenticated, client.Session().Status())
	assert.Nil(t, client.Session().Profile())
	assert.Zero(t, h.idp.Ledger().Active())
}
