package token

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	xoauth2 "golang.org/x/oauth2"

	"github.com/jrsteele09/go-sso-bff/internal/errors"
	"github.com/jrsteele09/go-sso-bff/oauth2"
)

// endpoints is the discovered provider configuration.
type endpoints struct {
	verifier           *oidc.IDTokenVerifier
	oauth              *xoauth2.Config
	revocationEndpoint string
	endSessionEndpoint string
}

type providerMetadata struct {
	JWKSURI            string   `json:"jwks_uri"`
	SigningAlgs        []string `json:"id_token_signing_alg_values_supported"`
	RevocationEndpoint string   `json:"revocation_endpoint"`
	EndSessionEndpoint string   `json:"end_session_endpoint"`
}

// discover returns the cached provider configuration, fetching it on first use. Concurrent
// first callers share one discovery request; failures are not cached.
func (c *Client) discover(ctx context.Context) (*endpoints, error) {
	c.mu.RLock()
	ep := c.endpoints
	c.mu.RUnlock()
	if ep != nil {
		return ep, nil
	}

	ch := c.discovery.DoChan("discovery", func() (any, error) {
		return c.fetchEndpoints(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*endpoints), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) fetchEndpoints(ctx context.Context) (*endpoints, error) {
	c.mu.RLock()
	ep := c.endpoints
	c.mu.RUnlock()
	if ep != nil {
		return ep, nil
	}

	ctx, cancel := context.WithTimeout(oidc.ClientContext(ctx, c.httpClient), c.cfg.GetHTTPTimeout())
	defer cancel()

	issuer := c.cfg.GetIssuerURL()
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		c.logger.Error().Err(err).Str("issuer", issuer).Msg("OIDC discovery failed")
		return nil, fmt.Errorf("%w: %w: %v", errors.ErrProviderUnavailable, errors.ErrDiscoveryFailed, err)
	}

	var meta providerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("%w: reading provider metadata: %v", errors.ErrDiscoveryFailed, err)
	}
	if meta.JWKSURI == "" {
		return nil, fmt.Errorf("%w: provider advertises no jwks_uri", errors.ErrDiscoveryFailed)
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = xoauth2.AuthStyleInParams

	// Access tokens are usually issued for resource servers, so the audience is not checked.
	verifier := oidc.NewVerifier(issuer, newCheckedKeySet(meta.JWKSURI, c.httpClient), &oidc.Config{
		SkipClientIDCheck:    true,
		SupportedSigningAlgs: meta.SigningAlgs,
	})

	ep = &endpoints{
		verifier: verifier,
		oauth: &xoauth2.Config{
			ClientID:     c.cfg.GetClientID(),
			ClientSecret: c.cfg.GetClientSecret(),
			Endpoint:     endpoint,
			RedirectURL:  c.cfg.GetRedirectURI(),
			Scopes:       oauth2.DefaultScopes,
		},
		revocationEndpoint: meta.RevocationEndpoint,
		endSessionEndpoint: meta.EndSessionEndpoint,
	}

	c.mu.Lock()
	c.endpoints = ep
	c.mu.Unlock()

	c.logger.Info().Str("issuer", issuer).Str("token_endpoint", endpoint.TokenURL).Msg("OIDC provider discovered")
	return ep, nil
}
