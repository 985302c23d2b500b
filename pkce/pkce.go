// Package pkce generates the verifier/challenge pairs used to bind an authorization code to the
// login attempt that requested it (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/jrsteele09/go-sso-bff/oauth2"
)

const (
	// verifierBytes is the number of random bytes in a code verifier.
	// 32 bytes encode to 43 base64url characters, the RFC 7636 minimum.
	verifierBytes = 32

	// stateBytes is the number of random bytes in the OAuth state parameter.
	stateBytes = 32
)

var (
	ErrUnsupportedChallengeMethod = errors.New("unsupported pkce challenge method")
	ErrRandomSource               = errors.New("random source failure")
)

// Challenge is the PKCE material for exactly one login attempt.
// It is created at login, consumed once at the callback and then discarded.
type Challenge struct {
	Verifier  string
	Challenge string
	Method    oauth2.CodeMethodType
}

// Matches reports whether verifier derives this challenge under its method.
func (c *Challenge) Matches(verifier string) bool {
	if c == nil || verifier == "" {
		return false
	}
	derived, err := CreateChallenge(c.Method, verifier)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(c.Challenge)) == 1
}

// Generator produces challenges from a random source.
type Generator struct {
	random io.Reader
}

// NewGenerator returns a Generator reading from random. A nil reader means crypto/rand.
func NewGenerator(random io.Reader) *Generator {
	if random == nil {
		random = rand.Reader
	}
	return &Generator{random: random}
}

var defaultGenerator = NewGenerator(nil)

// Generate creates a challenge with the package default generator.
func Generate(method oauth2.CodeMethodType) (*Challenge, error) {
	return defaultGenerator.Generate(method)
}

// GenerateState creates an OAuth state value with the package default generator.
func GenerateState() (string, error) {
	return defaultGenerator.GenerateState()
}

// Generate creates a fresh verifier and its challenge for method.
// A failure of the random source is returned and must abort the login attempt.
func (g *Generator) Generate(method oauth2.CodeMethodType) (*Challenge, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChallengeMethod, method)
	}

	verifier, err := g.randomString(verifierBytes)
	if err != nil {
		return nil, err
	}

	challenge, err := CreateChallenge(method, verifier)
	if err != nil {
		return nil, err
	}

	return &Challenge{
		Verifier:  verifier,
		Challenge: challenge,
		Method:    method,
	}, nil
}

// GenerateState returns a base64url random value for the state parameter.
func (g *Generator) GenerateState() (string, error) {
	return g.randomString(stateBytes)
}

func (g *Generator) randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(g.random, b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomSource, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CreateChallenge derives the code challenge for verifier.
// S256 is base64url(SHA-256(verifier)) without padding; plain is the verifier unchanged.
func CreateChallenge(method oauth2.CodeMethodType, verifier string) (string, error) {
	switch method {
	case oauth2.CodeMethodTypeS256:
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]), nil
	case oauth2.CodeMethodTypePlain:
		return verifier, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedChallengeMethod, method)
}
