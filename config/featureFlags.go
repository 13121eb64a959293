package config

import (
	"os"
	"strings"
)

// AppEnvironment reports which gateway environment this deployment belongs to:
// "production" or "sandbox". Webhook events from the other environment are
// dropped without processing.
//
// Set via env:
// - GATEWAY_ENVIRONMENT=production|sandbox
func AppEnvironment() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("GATEWAY_ENVIRONMENT")))
	if v == "production" {
		return "production"
	}
	return "sandbox"
}

// AccountingWriteEnabled is the global outbound-write switch. It is read once
// at scope creation and passed into the write spool's constructor; the spool
// itself never consults mutable global state.
//
// Set via env:
// - ACCOUNTING_WRITE_DISABLED=true to stop spooling outbound writes
func AccountingWriteEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ACCOUNTING_WRITE_DISABLED")))
	return !(v == "1" || v == "true" || v == "yes" || v == "y")
}

// EnvBoolDefault parses a boolean env var with a fallback.
func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
