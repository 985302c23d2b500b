package idptest

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrUnknownRefreshToken = errors.New("unknown refresh token")
	ErrReusedRefreshToken  = errors.New("refresh token already used")
	ErrExpiredRefreshToken = errors.New("refresh token expired")
	ErrClientMismatch      = errors.New("refresh token issued to another client")
)

// StoredRefreshToken is what the provider remembers about an issued refresh token.
// The client only ever sees Token.
type StoredRefreshToken struct {
	Token    string
	Subject  string
	ClientID string
	IssuedAt time.Time
}

// Ledger issues and rotates refresh tokens. Every token is single use: rotating it retires it
// and a retired token presented again is rejected.
type Ledger struct {
	mu      sync.Mutex
	active  map[string]*StoredRefreshToken
	retired map[string]time.Time
	expiry  time.Duration
	now     func() time.Time
}

func NewLedger(expiry time.Duration) *Ledger {
	return &Ledger{
		active:  make(map[string]*StoredRefreshToken),
		retired: make(map[string]time.Time),
		expiry:  expiry,
		now:     time.Now,
	}
}

// Create issues a new refresh token for subject.
func (l *Ledger) Create(clientID, subject string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createLocked(clientID, subject)
}

// Rotate retires token and issues its replacement.
func (l *Ledger) Rotate(token, clientID string) (*StoredRefreshToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rt, ok := l.active[token]
	if !ok {
		if _, used := l.retired[token]; used {
			return nil, ErrReusedRefreshToken
		}
		return nil, ErrUnknownRefreshToken
	}
	if rt.ClientID != clientID {
		return nil, ErrClientMismatch
	}

	delete(l.active, token)
	l.retired[token] = l.now()

	if l.now().Sub(rt.IssuedAt) > l.expiry {
		return nil, ErrExpiredRefreshToken
	}

	next, err := l.createLocked(rt.ClientID, rt.Subject)
	if err != nil {
		return nil, err
	}
	return l.active[next], nil
}

// Revoke retires token. It reports whether the token was active.
func (l *Ledger) Revoke(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.active[token]; !ok {
		return false
	}
	delete(l.active, token)
	l.retired[token] = l.now()
	return true
}

// Active returns the number of live refresh tokens.
func (l *Ledger) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

func (l *Ledger) createLocked(clientID, subject string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token := hex.EncodeToString(b)
	l.active[token] = &StoredRefreshToken{
		Token:    token,
		Subject:  subject,
		ClientID: clientID,
		IssuedAt: l.now(),
	}
	return token, nil
}
