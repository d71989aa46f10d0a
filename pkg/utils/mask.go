package utils

import "regexp"

var (
	urlPasswordRegex = regexp.MustCompile(`(:)([^:@/]+)(@)`)
	kvPasswordRegex  = regexp.MustCompile(`(password\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`)
)

// MaskDSN hides the password in a postgres connection string before it is logged.
// Both URL form and keyword/value form are handled.
func MaskDSN(dsn string) string {
	dsn = urlPasswordRegex.ReplaceAllString(dsn, ":***@")
	return kvPasswordRegex.ReplaceAllString(dsn, "${1}***")
}
