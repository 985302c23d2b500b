// Package storage holds the two client-side storage tiers: a session-scoped tier that lives as long
// as the process and a durable tier that survives restarts.
package storage

import "errors"

const (
	// AccessTokenKey is where the session tier keeps the current access token.
	AccessTokenKey = "accessToken"

	// UserProfileKey is where the durable tier keeps the JSON encoded profile.
	UserProfileKey = "userProfile"
)

var ErrEmptyKey = errors.New("storage key cannot be empty")

// Storage is a string key/value store. Removing a missing key is not an error.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}
