package identity

import "regexp"

// usernamePattern matches names the git host accepts as principals.
var usernamePattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._@-]{0,63}$`)

// ValidUsername reports whether s can appear in the credentials file and be
// granted roles on the git host.
func ValidUsername(s string) bool {
	return usernamePattern.MatchString(s)
}
