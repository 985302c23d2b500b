// Package token talks to the identity provider's token, revocation and key endpoints on behalf of
// the backend. Tokens returned here are handed to the browser only through http-only cookies
// (refresh) or response bodies (access).
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/rs/zerolog"
	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/go-sso-bff/instrumentation"
	"github.com/jrsteele09/go-sso-bff/internal/config"
	"github.com/jrsteele09/go-sso-bff/internal/errors"
	"github.com/jrsteele09/go-sso-bff/oauth2"
	"github.com/jrsteele09/go-sso-bff/pkce"
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client performs code exchange, refresh and revocation against one provider for one client.
type Client struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *instrumentation.Metrics

	discovery singleflight.Group
	mu        sync.RWMutex
	endpoints *endpoints
}

// New creates a client. Discovery happens lazily on first use.
func New(cfg config.ProviderConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = cleanhttp.DefaultPooledClient()
		c.httpClient.Timeout = cfg.GetHTTPTimeout()
	}
	return c
}

// AuthCodeURL builds the authorize redirect for one login attempt.
func (c *Client) AuthCodeURL(ctx context.Context, state string, challenge *pkce.Challenge) (string, error) {
	if state == "" || challenge == nil {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "[token AuthCodeURL] state and challenge are required")
	}
	ep, err := c.discover(ctx)
	if err != nil {
		return "", err
	}
	return ep.oauth.AuthCodeURL(state,
		xoauth2.SetAuthURLParam("code_challenge", challenge.Challenge),
		xoauth2.SetAuthURLParam("code_challenge_method", string(challenge.Method)),
	), nil
}

// ExchangeCode trades an authorization code and its PKCE verifier for tokens.
// A rejection is ErrInvalidGrant and must not be retried.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*Tokens, error) {
	if code == "" || verifier == "" {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "[token ExchangeCode] code and verifier are required")
	}
	ep, err := c.discover(ctx)
	if err != nil {
		c.metrics.RecordCodeExchange(ctx, instrumentation.OutcomeUnavailable)
		return nil, err
	}

	tok, err := ep.oauth.Exchange(c.clientContext(ctx), code, xoauth2.VerifierOption(verifier))
	if err != nil {
		err = classify("[token ExchangeCode]", err)
		c.metrics.RecordCodeExchange(ctx, outcomeOf(err))
		return nil, err
	}
	c.metrics.RecordCodeExchange(ctx, instrumentation.OutcomeSuccess)
	return c.toTokens(tok, ""), nil
}

// Refresh redeems a refresh token. If the provider does not rotate the refresh token the
// presented one is returned again.
func (c *Client) Refresh(ctx context.Context, refreshToken RefreshToken) (*Tokens, error) {
	if refreshToken == "" {
		return nil, errors.Wrapf(errors.ErrMissingRefreshToken, "[token Refresh]")
	}
	ep, err := c.discover(ctx)
	if err != nil {
		c.metrics.RecordTokenRefresh(ctx, instrumentation.OutcomeUnavailable)
		return nil, err
	}

	ts := ep.oauth.TokenSource(c.clientContext(ctx), &xoauth2.Token{RefreshToken: refreshToken.Value()})
	tok, err := ts.Token()
	if err != nil {
		err = classify("[token Refresh]", err)
		c.metrics.RecordTokenRefresh(ctx, outcomeOf(err))
		return nil, err
	}
	c.metrics.RecordTokenRefresh(ctx, instrumentation.OutcomeSuccess)
	return c.toTokens(tok, refreshToken), nil
}

// Revoke invalidates a refresh token at the provider. It prefers the RFC 7009 revocation
// endpoint and falls back to the end-session endpoint. A configured revocation URL is used as an
// end-session style endpoint.
func (c *Client) Revoke(ctx context.Context, refreshToken RefreshToken) error {
	if refreshToken == "" {
		return errors.Wrapf(errors.ErrMissingRefreshToken, "[token Revoke]")
	}

	form := url.Values{"client_id": {c.cfg.GetClientID()}}
	if secret := c.cfg.GetClientSecret(); secret != "" {
		form.Set("client_secret", secret)
	}

	endpoint := c.cfg.GetRevocationURL()
	rfc7009 := false
	if endpoint == "" {
		ep, err := c.discover(ctx)
		if err != nil {
			c.metrics.RecordTokenRevoke(ctx, instrumentation.OutcomeUnavailable)
			return err
		}
		endpoint, rfc7009 = ep.revocationEndpoint, true
		if endpoint == "" {
			endpoint, rfc7009 = ep.endSessionEndpoint, false
		}
	}
	if endpoint == "" {
		c.metrics.RecordTokenRevoke(ctx, instrumentation.OutcomeUnavailable)
		return errors.Wrapf(errors.ErrProviderUnavailable, "[token Revoke] provider advertises no revocation endpoint")
	}

	if rfc7009 {
		form.Set("token", refreshToken.Value())
		form.Set("token_type_hint", oauth2.TokenTypeHintRefreshToken)
	} else {
		form.Set("refresh_token", refreshToken.Value())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("[token Revoke] building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordTokenRevoke(ctx, instrumentation.OutcomeUnavailable)
		return fmt.Errorf("[token Revoke] %w: %v", errors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		c.metrics.RecordTokenRevoke(ctx, instrumentation.OutcomeRejected)
		return fmt.Errorf("[token Revoke] %w: status %d", errors.ErrProviderUnavailable, resp.StatusCode)
	}
	c.metrics.RecordTokenRevoke(ctx, instrumentation.OutcomeSuccess)
	return nil
}

// VerifyAccessToken checks an access token's signature, issuer and expiry and returns its claims.
// If the signing keys cannot be fetched the error is ErrProviderUnavailable, not ErrInvalidToken.
func (c *Client) VerifyAccessToken(ctx context.Context, raw string) (jwt.MapClaims, error) {
	if raw == "" {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "[token VerifyAccessToken] empty token")
	}
	ep, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	var keysErr error
	verified, err := ep.verifier.Verify(context.WithValue(ctx, keysUnavailableKey{}, &keysErr), raw)
	if keysErr != nil {
		return nil, fmt.Errorf("[token VerifyAccessToken] %w", keysErr)
	}
	if err != nil {
		return nil, fmt.Errorf("[token VerifyAccessToken] %w: %v", errors.ErrInvalidToken, err)
	}

	claims := jwt.MapClaims{}
	if err := verified.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[token VerifyAccessToken] %w: %v", errors.ErrInvalidToken, err)
	}
	return claims, nil
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, xoauth2.HTTPClient, c.httpClient)
}

func (c *Client) toTokens(tok *xoauth2.Token, previous RefreshToken) *Tokens {
	refresh := RefreshToken(tok.RefreshToken)
	if refresh == "" {
		refresh = previous
	}

	accessExpiresIn, ok := durationExtra(tok, "expires_in")
	if !ok && !tok.Expiry.IsZero() {
		accessExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	refreshExpiresIn, ok := durationExtra(tok, "refresh_expires_in")
	if !ok || refreshExpiresIn <= 0 {
		refreshExpiresIn = c.cfg.GetDefaultRefreshExpiry()
	}

	idToken, _ := tok.Extra("id_token").(string)
	return &Tokens{
		AccessToken:      tok.AccessToken,
		RefreshToken:     refresh,
		IDToken:          idToken,
		AccessExpiresIn:  accessExpiresIn,
		RefreshExpiresIn: refreshExpiresIn,
	}
}

// durationExtra reads a seconds field from the raw token response. Providers send numbers or,
// occasionally, numeric strings.
func durationExtra(tok *xoauth2.Token, key string) (time.Duration, bool) {
	var secs int64
	switch v := tok.Extra(key).(type) {
	case float64:
		secs = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		secs = n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		secs = n
	default:
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func outcomeOf(err error) string {
	if errors.Is(err, errors.ErrInvalidGrant) {
		return instrumentation.OutcomeRejected
	}
	return instrumentation.OutcomeUnavailable
}
