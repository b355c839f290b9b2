package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether AUTHGUARD_ENV selects development mode.
// Cookies drop the Secure flag in development so plain-http localhost works.
func IsDev() bool {
	switch strings.ToLower(os.Getenv("AUTHGUARD_ENV")) {
	case "development", "dev":
		return true
	default:
		return false
	}
}
