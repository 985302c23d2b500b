package token

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

const redacted = "[REDACTED]"

// RefreshToken is an opaque provider refresh token. It never prints or serialises its value;
// use Value to obtain the raw string.
type RefreshToken string

func (t RefreshToken) Value() string {
	return string(t)
}

func (t RefreshToken) String() string {
	if t == "" {
		return ""
	}
	return redacted
}

func (t RefreshToken) GoString() string {
	return t.String()
}

func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// MarshalZerologObject lets the token be attached to log events without leaking it.
func (t RefreshToken) MarshalZerologObject(e *zerolog.Event) {
	e.Bool("present", t != "")
}

// Tokens is the result of a code exchange or refresh.
type Tokens struct {
	AccessToken      string
	RefreshToken     RefreshToken
	IDToken          string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
}
