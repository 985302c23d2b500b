// Package authclient is the browser side of the backend-for-frontend: it keeps the refresh-token
// cookie in a jar, the access token in the session store, and retries backend calls that fail
// with 401 after one coordinated refresh.
package authclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/jrsteele09/go-sso-bff/instrumentation"
	"github.com/jrsteele09/go-sso-bff/internal/errors"
	"github.com/jrsteele09/go-sso-bff/oauth2"
	"github.com/jrsteele09/go-sso-bff/session"
	"github.com/jrsteele09/go-sso-bff/storage"
)

const (
	loginPath   = "/auth/login"
	profilePath = "/users/me"
)

var errEmptyToken = stderrors.New("refresh response carried no access token")

type Option func(*Client)

// WithSessionStorage sets the session tier. Defaults to memory.
func WithSessionStorage(s storage.Storage) Option {
	return func(c *Client) { c.sessionTier = s }
}

// WithDurableStorage sets the durable tier. Defaults to memory.
func WithDurableStorage(s storage.Storage) Option {
	return func(c *Client) { c.durableTier = s }
}

// WithBaseTransport sets the transport used underneath the authenticating transport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithClientID names the OIDC client whose resource roles are read from the profile.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client wires the session store, coordinator and transport for one backend.
type Client struct {
	baseURL     *url.URL
	sessionTier storage.Storage
	durableTier storage.Storage
	base        http.RoundTripper
	clientID    string
	timeout     time.Duration
	logger      zerolog.Logger
	metrics     *instrumentation.Metrics

	jar         *cookiejar.Jar
	store       *session.Store
	coordinator *Coordinator
	httpClient  *http.Client
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "[authclient New] invalid base URL %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		timeout: 30 * time.Second,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sessionTier == nil {
		c.sessionTier = storage.NewMemory()
	}
	if c.durableTier == nil {
		c.durableTier = storage.NewMemory()
	}

	c.jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("[authclient New] cookie jar: %w", err)
	}

	c.store = session.NewStore(c.sessionTier, c.durableTier,
		session.WithLogger(c.logger),
		session.WithProfileFetcher(c.FetchProfile),
	)
	c.coordinator = NewCoordinator(c.refresh, c.store,
		WithCoordinatorLogger(c.logger),
		WithCoordinatorMetrics(c.metrics),
	)
	c.httpClient = &http.Client{
		Jar:     c.jar,
		Timeout: c.timeout,
		Transport: &Transport{
			Base:    c.base,
			BaseURL: c.baseURL,
			Tokens:  c.store,
			Auth:    c.coordinator,
			Logger:  c.logger,
			Metrics: c.metrics,
		},
	}
	return c, nil
}

// HTTPClient returns the authenticated client. Use it for every backend call.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) Jar() http.CookieJar {
	return c.jar
}

func (c *Client) Session() *session.Store {
	return c.store
}

func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

// LoginURL is where the user agent must navigate to start a login.
func (c *Client) LoginURL() string {
	return c.endpoint(loginPath)
}

// Login clears any local session and returns LoginURL.
func (c *Client) Login() string {
	c.store.SetAccessToken("")
	return c.LoginURL()
}

// Restore resolves the session from storage at startup.
func (c *Client) Restore(ctx context.Context) error {
	return c.store.RestoreFromPersistence(ctx)
}

// CompleteLogin finishes a login after the backend has set the refresh cookie: it performs one
// coordinated refresh and waits for the session to resolve.
func (c *Client) CompleteLogin(ctx context.Context) error {
	if _, err := c.coordinator.Refresh(ctx); err != nil {
		return errors.Wrapf(errors.ErrSessionUnauthenticated, "[authclient CompleteLogin] %v", err)
	}
	status, err := c.store.AwaitResolved(ctx)
	if err != nil {
		return err
	}
	if status != session.StatusAuthenticated {
		return errors.ErrSessionUnauthenticated
	}
	return nil
}

// Logout asks the backend to end the session. The local session is cleared whatever the outcome.
func (c *Client) Logout(ctx context.Context) error {
	defer c.store.SetAccessToken("")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(logoutPath), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Logout request failed")
		return fmt.Errorf("[authclient Logout] %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("Logout rejected")
		return fmt.Errorf("[authclient Logout] unexpected status %d", resp.StatusCode)
	}
	return nil
}

// FetchProfile loads the signed-in user from the backend.
func (c *Client) FetchProfile(ctx context.Context) (*session.UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(profilePath), http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[authclient FetchProfile] %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("[authclient FetchProfile]", resp)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("[authclient FetchProfile] decoding: %w", err)
	}
	return session.ProfileFromClaims(claims, c.clientID), nil
}

// refresh calls POST /auth/refresh. The transport sends it with the cookie only.
func (c *Client) refresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(refreshPath), http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("[authclient refresh] %w: %v", errors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("[authclient refresh]", resp)
	}

	var body oauth2.RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("[authclient refresh] decoding: %w", err)
	}
	return body.AccessToken, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

func statusError(op string, resp *http.Response) error {
	var body oauth2.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		sentinel = errors.ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		sentinel = errors.ErrForbidden
	case resp.StatusCode >= http.StatusInternalServerError:
		sentinel = errors.ErrProviderUnavailable
	default:
		sentinel = errors.ErrInvalidRequest
	}
	if body.Error != "" {
		return fmt.Errorf("%s %w: %s", op, sentinel, body.Error)
	}
	return fmt.Errorf("%s %w: status %d", op, sentinel, resp.StatusCode)
}
