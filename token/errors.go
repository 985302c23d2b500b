package token

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	xoauth2 "golang.org/x/oauth2"

	"github.com/jrsteele09/go-sso-bff/internal/errors"
)

// classify maps a token endpoint failure to ErrInvalidGrant (the provider said no) or
// ErrProviderUnavailable (we could not get an answer). Unavailable fails closed: callers must not
// treat it as a successful refresh.
func classify(op string, err error) error {
	var re *xoauth2.RetrieveError
	if stderrors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return fmt.Errorf("%s: %w: status %d", op, errors.ErrProviderUnavailable, status)
		}
		code := re.ErrorCode
		if code == "" {
			code = fmt.Sprintf("status %d", status)
		}
		return fmt.Errorf("%s: %w: %s", op, errors.ErrInvalidGrant, code)
	}
	if stderrors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, errors.ErrProviderUnavailable, err)
}
