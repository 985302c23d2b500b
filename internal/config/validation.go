package config

import (
	"fmt"
	"net/url"

	"github.com/hashicorp/go-multierror"
)

// Validate reports every configuration problem at once rather than the first one found.
func (c mainConfig) Validate() error {
	var result *multierror.Error

	requireURL := func(name, value string) {
		if value == "" {
			result = multierror.Append(result, fmt.Errorf("%s is required", name))
			return
		}
		if u, err := url.Parse(value); err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("%s must be an absolute URL, got %q", name, value))
		}
	}

	requireURL(issuerURLVar, c.GetIssuerURL())
	requireURL(redirectURIVar, c.GetRedirectURI())
	requireURL(spaBaseURLVar, c.GetSPABaseURL())
	if c.GetClientID() == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", clientIDVar))
	}
	if !c.GetPKCEMethod().Valid() {
		result = multierror.Append(result, fmt.Errorf("%s must be S256 or plain, got %q", pkceMethodVar, c.GetPKCEMethod()))
	}
	if _, err := c.GetCookieEncryptionKey(); err != nil {
		result = multierror.Append(result, err)
	}
	if rps, burst := c.GetRateLimit(); rps < 0 || burst < 0 {
		result = multierror.Append(result, fmt.Errorf("rate limits must not be negative"))
	}

	return result.ErrorOrNil()
}
