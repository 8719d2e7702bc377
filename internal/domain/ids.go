package domain

import (
	"strconv"
	"strings"
)

// FormatID renders a numeric platform identifier as the string key used by
// every store.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// NormalizeID trims an identifier that already arrives as a string (Discord
// snowflakes, configuration values).
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}
