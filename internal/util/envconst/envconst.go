// Package envconst reads tunables from the environment once, falling back
// to a default when unset or unparsable.
package envconst

import (
	"os"
	"strconv"
	"time"
)

// Int returns the integer value of the environment variable name, or def if
// unset or unparsable.
func Int(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Duration returns the duration value of the environment variable name
// (parsed with time.ParseDuration), or def if unset or unparsable.
func Duration(name string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Bool returns the boolean value of the environment variable name, or def if
// unset or unparsable.
func Bool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// String returns the environment variable name, or def if unset.
func String(name string, def string) string {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	return v
}
