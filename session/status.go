package session

import (
	"fmt"

	"github.com/jrsteele09/go-sso-bff/internal/errors"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// checkTransition validates from -> to. Moving back to Unknown is only legal while
// re-evaluating, which passes allowUnknown.
func checkTransition(from, to Status, allowUnknown bool) error {
	switch to {
	case StatusAuthenticated, StatusUnauthenticated:
		return nil
	case StatusUnknown:
		if allowUnknown {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrInvalidTransition, "%s -> %s", from, to)
}
