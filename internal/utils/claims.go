package utils

import "strings"

// StringsFromClaim reads a JWT claim that holds a list of strings. Decoded JSON gives []any,
// in-process claims may hold []string, and some providers send a single space separated string.
// Non-string elements are skipped.
func StringsFromClaim(v any) []string {
	out := make([]string, 0)
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range list {
			if s != "" {
				out = append(out, s)
			}
		}
	case string:
		out = append(out, strings.Fields(list)...)
	}
	return out
}

// Nested walks maps of claims along path and returns the value at its end.
func Nested(claims map[string]any, path ...string) (any, bool) {
	var current any = claims
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, true
}
