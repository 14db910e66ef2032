package featureflags

import (
	"os"
	"strings"
)

// Known flags
const (
	// Sweeper runs the background reaper for the in-memory session and
	// lockout stores.
	Sweeper = "sweeper"
	// LoginThrottle puts the per-IP token bucket in front of login.
	LoginThrottle = "login_throttle"
)

// Enabled returns true if a flag is enabled via environment variable.
// Flags are read from env as FLAG_<NAME>=true/1/yes (case-insensitive)
func Enabled(name string) bool {
	return EnabledOr(name, false)
}

// EnabledOr is Enabled with a default for an unset or unrecognized value
func EnabledOr(name string, def bool) bool {
	v := os.Getenv("FLAG_" + strings.ToUpper(name))
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
