package session

import (
	"encoding/json"
	"slices"
	"sort"

	"github.com/jrsteele09/go-sso-bff/internal/utils"
)

const AdminRole = "admin"

// UserProfile is the signed-in user as reported by the backend's /users/me.
// It is replaced wholesale or cleared, never mutated.
type UserProfile struct {
	Subject string         `json:"sub"`
	Roles   []string       `json:"roles"`
	Claims  map[string]any `json:"claims"`
}

// ProfileFromClaims builds a profile from a claims document. Roles are taken from the realm and
// from the client's resource roles, deduplicated and sorted.
func ProfileFromClaims(claims map[string]any, clientID string) *UserProfile {
	sub, _ := claims["sub"].(string)
	roles := utils.RolesFromClaims(claims, clientID)
	sort.Strings(roles)
	return &UserProfile{
		Subject: sub,
		Roles:   slices.Compact(roles),
		Claims:  claims,
	}
}

func (p *UserProfile) HasRole(role string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Roles, role)
}

func encodeProfile(p *UserProfile) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeProfile(raw string) (*UserProfile, error) {
	var p UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
