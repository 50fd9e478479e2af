// Package env provides small os.Getenv wrappers with typed defaults, used
// for the handful of startup settings read before the config package's
// viper-backed loader takes over (logging setup happens before Config is
// loaded, so it can't depend on it).
package env

import (
	"os"
	"strconv"
)

// GetEnvOrDefault returns the named environment variable, or def if unset.
func GetEnvOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// GetEnvBoolOrDefault parses the named environment variable as a bool, or
// returns def if unset or unparsable.
func GetEnvBoolOrDefault(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

// GetEnvIntOrDefault parses the named environment variable as an int, or
// returns def if unset or unparsable.
func GetEnvIntOrDefault(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}
