// Package featureflags reads on/off switches from FLAG_<NAME> environment
// variables. Flags are read on every call, so tests can flip them with
// t.Setenv.
package featureflags

import (
	"os"
	"strings"
)

const (
	// DebugHTTP logs every content API request and response status.
	DebugHTTP = "debug_http"
	// ChaosStore wraps the document store with random fault injection.
	ChaosStore = "chaos_store"
)

// Enabled reports whether FLAG_<NAME> holds 1, true, yes or on, in any
// case. Unset and every other value mean off.
func Enabled(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envName(name)))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envName(flag string) string {
	return "FLAG_" + strings.ToUpper(flag)
}
