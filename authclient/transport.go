package authclient

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-sso-bff/instrumentation"
)

const (
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"
)

type tokenSource interface {
	AccessToken() string
}

type authorizer interface {
	Authorize(req *http.Request, failedToken string) (string, error)
}

// Transport adds the bearer token to backend requests and, when the backend answers 401,
// obtains a new token through the coordinator and replays the request once.
// Requests to other hosts pass through untouched.
type Transport struct {
	Base    http.RoundTripper
	BaseURL *url.URL
	Tokens  tokenSource
	Auth    authorizer
	Logger  zerolog.Logger
	Metrics *instrumentation.Metrics
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.isBackend(req.URL) {
		return t.base().RoundTrip(req)
	}

	exempt := t.isExempt(req.URL)
	token := ""
	if !exempt {
		token = t.Tokens.AccessToken()
	}

	resp, err := t.base().RoundTrip(withBearer(req, token))
	if err != nil || exempt || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		// the body has been consumed and cannot be rebuilt
		return resp, nil
	}

	if err := bufferBody(resp); err != nil {
		return nil, err
	}

	newToken, authErr := t.Auth.Authorize(req, token)
	if authErr != nil {
		t.Logger.Debug().Err(authErr).Str("path", req.URL.Path).Msg("Refresh failed, returning original 401")
		return resp, nil
	}

	replay := withBearer(req, newToken)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		replay.Body = body
	}

	t.Metrics.RecordReplay(req.Context(), req.Method)
	replayResp, err := t.base().RoundTrip(replay)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return replayResp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *Transport) isBackend(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, t.BaseURL.Scheme) && strings.EqualFold(u.Host, t.BaseURL.Host) &&
		strings.HasPrefix(u.Path, strings.TrimSuffix(t.BaseURL.Path, "/"))
}

func (t *Transport) isExempt(u *url.URL) bool {
	p := strings.TrimPrefix(u.Path, strings.TrimSuffix(t.BaseURL.Path, "/"))
	return p == refreshPath || p == logoutPath
}

func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Del("Authorization")
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out
}

// bufferBody reads resp's body into memory so it can still be returned after the connection has
// been reused for the replay.
func bufferBody(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return nil
}
