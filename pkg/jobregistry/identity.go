package jobregistry

import (
	"os"
	"os/user"
	"strings"
)

// Environment variables consulted by ResolveUser, highest precedence first.
// SUDO_USER names the invoking account when running under sudo.
var userEnvVars = []string{"SUDO_USER", "USER", "LOGNAME"}

// ResolveUser returns the identity a job is registered under.
func ResolveUser() string {
	for _, key := range userEnvVars {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
