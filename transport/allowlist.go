package transport

import "strings"

// DefaultAllowList holds the endpoints that issue credentials. Requests to
// them never carry a bearer token and never trigger a refresh.
var DefaultAllowList = AllowList{
	"/auth/refresh",
	"/auth/otp/generate",
	"/auth/otp/validate",
}

// AllowList is a set of path substrings exempt from credential handling.
type AllowList []string

// Matches reports whether path contains any entry of the list.
func (a AllowList) Matches(path string) bool {
	for _, entry := range a {
		if entry != "" && strings.Contains(path, entry) {
			return true
		}
	}
	return false
}
