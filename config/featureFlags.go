package config

import (
	"os"
	"strings"
)

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// RequestLockEnabled turns on the redis lock taken per request id before a lifecycle transaction.
// The database row locks stay authoritative either way.
//
// Set via env:
// - REQUEST_LOCK_ENABLED=true (default true)
func RequestLockEnabled() bool {
	return boolFromEnv("REQUEST_LOCK_ENABLED", true)
}

// DispatcherEnabled starts the notification outbox dispatcher inside the API process.
//
// Set via env:
// - DISPATCHER_ENABLED=true (default true)
func DispatcherEnabled() bool {
	return boolFromEnv("DISPATCHER_ENABLED", true)
}

// SkipMigrations disables AutoMigrate on startup.
//
// Set via env:
// - SKIP_MIGRATIONS=true
func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS", false)
}
