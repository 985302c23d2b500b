package utils

// RolesFromClaims collects realm roles (realm_access.roles) and the roles granted to clientID
// (resource_access.<clientID>.roles). Duplicates are kept; callers that care dedupe.
func RolesFromClaims(claims map[string]any, clientID string) []string {
	roles := make([]string, 0)
	if r, ok := Nested(claims, "realm_access", "roles"); ok {
		roles = append(roles, StringsFromClaim(r)...)
	}
	if clientID == "" {
		return roles
	}
	if r, ok := Nested(claims, "resource_access", clientID, "roles"); ok {
		roles = append(roles, StringsFromClaim(r)...)
	}
	return roles
}
