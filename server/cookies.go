package server

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// pkceCookieName holds the PKCE verifier between /auth/login and /auth/callback
	pkceCookieName = "pkce_verifier"
	// refreshCookieName holds the provider refresh token
	refreshCookieName = "refresh_token"
)

var errUnsealable = errors.New("cookie cannot be opened")

// cookieSealer encrypts cookie values with XChaCha20-Poly1305. The cookie name is bound as
// associated data so a value cannot be moved between cookies. A nil sealer stores values as is.
type cookieSealer struct {
	aead cipher.AEAD
}

func newCookieSealer(key []byte) (*cookieSealer, error) {
	if key == nil {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cookie sealer: %w", err)
	}
	return &cookieSealer{aead: aead}, nil
}

func (c *cookieSealer) seal(name, value string) (string, error) {
	if c == nil {
		return value, nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(value)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cookie nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(value), []byte(name))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *cookieSealer) open(name, value string) (string, error) {
	if c == nil {
		return value, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) < c.aead.NonceSize() {
		return "", errUnsealable
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", errUnsealable
	}
	return string(plain), nil
}

// setCookie writes an http-only cookie scoped to the whole backend.
func (s *Server) setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) error {
	sealed, err := s.cookies.seal(name, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, s.newCookie(r, name, sealed, int(maxAge.Seconds())))
	return nil
}

func (s *Server) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, s.newCookie(r, name, "", -1))
}

// readCookie returns the cookie's value. Missing, empty or tampered cookies read as absent.
func (s *Server) readCookie(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	value, err := s.cookies.open(name, cookie.Value)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

func (s *Server) newCookie(r *http.Request, name, value string, maxAge int) *http.Cookie {
	secure := s.isSecureRequest(r)
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.config.GetCookieDomain(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}
