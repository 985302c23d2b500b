package token

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/jrsteele09/go-sso-bff/internal/errors"
)

type keysUnavailableKey struct{}

// checkedKeySet wraps the provider's remote key set. When a signature cannot be verified it
// checks whether jwks_uri answers at all, so an unreachable provider is reported as
// ErrProviderUnavailable instead of as a bad token. The verdict is written to the *error stored
// in the context under keysUnavailableKey; go-oidc does not keep the key set's error chain.
type checkedKeySet struct {
	remote     oidc.KeySet
	jwksURI    string
	httpClient *http.Client
}

func newCheckedKeySet(jwksURI string, hc *http.Client) *checkedKeySet {
	return &checkedKeySet{
		remote:     oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), hc), jwksURI),
		jwksURI:    jwksURI,
		httpClient: hc,
	}
}

func (k *checkedKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	payload, err := k.remote.VerifySignature(ctx, jwt)
	if err == nil {
		return payload, nil
	}
	if reachErr := k.reachable(ctx); reachErr != nil {
		if slot, ok := ctx.Value(keysUnavailableKey{}).(*error); ok {
			*slot = reachErr
		}
		return nil, reachErr
	}
	return nil, err
}

func (k *checkedKeySet) reachable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.jwksURI, nil)
	if err != nil {
		return fmt.Errorf("%w: building keys request: %v", errors.ErrProviderUnavailable, err)
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching keys: %v", errors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: fetching keys: status %d", errors.ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}
