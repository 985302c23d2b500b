package config

import (
	"encoding/base64"
	"fmt"
)

type SecurityConfig interface {
	GetCookieDomain() string
	GetCookieSecure() bool
	GetCookieEncryptionKey() ([]byte, error)
	GetRateLimit() (requestsPerSecond, burst int)
}

type CookieSettings struct {
	Domain        string `yaml:"domain"`
	Secure        bool   `yaml:"secure"`
	EncryptionKey string `yaml:"encryption_key"` // base64, 32 bytes
}

type LimitSettings struct {
	RequestsPerSecond int `yaml:"requests_per_second"` // 0 disables rate limiting
	Burst             int `yaml:"burst"`
}

type Security struct {
	cookies CookieSettings
	limits  LimitSettings
}

var _ SecurityConfig = Security{}

func (s Security) GetCookieDomain() string {
	return s.cookies.Domain
}

func (s Security) GetCookieSecure() bool {
	return s.cookies.Secure
}

// GetCookieEncryptionKey decodes the cookie sealing key. A nil key disables sealing.
func (s Security) GetCookieEncryptionKey() ([]byte, error) {
	if s.cookies.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(s.cookies.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("cookie encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("cookie encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (s Security) GetRateLimit() (int, int) {
	return s.limits.RequestsPerSecond, s.limits.Burst
}
