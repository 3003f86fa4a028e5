// Package settings centralizes the environment-variable knobs this proxy
// reads. An unparseable or absent value silently falls back to its default
// rather than failing startup.
package settings

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func getBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getString(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// ConfigPath is the YAML config file location.
func ConfigPath() string { return getString("CONFIG_PATH", "config.yaml") }

// ConfigCacheTTL is how long the config provider trusts a loaded snapshot
// before re-checking the file's mtime.
func ConfigCacheTTL() time.Duration {
	return time.Duration(getFloat("CONFIG_CACHE_TTL", 1.0) * float64(time.Second))
}

// UpstreamTimeout bounds every network operation against an upstream.
func UpstreamTimeout() time.Duration {
	return time.Duration(getFloat("UPSTREAM_TIMEOUT", 600.0) * float64(time.Second))
}

// TLSVerify controls whether the upstream HTTP/WS clients verify certificates.
func TLSVerify() bool { return getBool("TLS_VERIFY", true) }

// AllowSSLDowngrade gates the HTTPS→HTTP retry fallback.
func AllowSSLDowngrade() bool { return getBool("ALLOW_SSL_DOWNGRADE", false) }

// SSLDowngradeAllowlist is the set of hostnames the downgrade retry is
// permitted against, defaulting to loopback names plus any *.local suffix
// handled separately by the caller.
func SSLDowngradeAllowlist() map[string]struct{} {
	raw := strings.TrimSpace(os.Getenv("SSL_DOWNGRADE_ALLOWLIST"))
	if raw == "" {
		return map[string]struct{}{"localhost": {}, "127.0.0.1": {}, "::1": {}}
	}
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		if p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}

// FallbackBufferBytes bounds how much of a request body is tee-buffered to
// support a safe downgrade retry on non-idempotent methods.
func FallbackBufferBytes() int64 { return int64(getInt("FALLBACK_BUFFER_BYTES", 1<<20)) }

// MaxBodyBytes bounds inbound request bodies.
func MaxBodyBytes() int64 { return int64(getInt("MAX_BODY_BYTES", 100<<20)) }

// SniffBytes bounds how much of a body the model sniffer inspects.
func SniffBytes() int { return getInt("SNIFF_BYTES", 1<<20) }

// AuthRequired toggles bearer-token enforcement.
func AuthRequired() bool { return getBool("AUTH_REQUIRED", false) }

// BearerToken is the proxy's own expected bearer credential.
func BearerToken() string { return getString("BEARER_TOKEN", "") }

// RateLimitRPS is the token-bucket refill rate; <= 0 disables the limiter.
func RateLimitRPS() float64 { return getFloat("RATE_LIMIT_RPS", 0) }

// RateLimitBurst is the token-bucket capacity; 0 means "same as the rate".
func RateLimitBurst() int { return getInt("RATE_LIMIT_BURST", 0) }

// PublicModels gates whether GET /v1/models is exposed publicly.
func PublicModels() bool { return getBool("PUBLIC_MODELS", true) }

// PublicHealthDetails gates whether GET /health includes per-upstream detail.
func PublicHealthDetails() bool { return getBool("PUBLIC_HEALTH_DETAILS", false) }

// LogLevel is an explicit logrus level override; empty means "use Debug".
func LogLevel() string { return getString("LOG_LEVEL", "") }

// CapsCacheTTL is the capability-cache entry lifetime (default: 60s).
func CapsCacheTTL() time.Duration {
	return time.Duration(getFloat("CAPS_CACHE_TTL", 60.0) * float64(time.Second))
}

// RedisURL configures the stream-log's backing Redis Stream. Empty disables
// SSE mirroring and the /internal/streams replay endpoint entirely.
func RedisURL() string { return getString("REDIS_URL", "") }

// RateLimitIdleTTL bounds how long an idle client's token bucket is kept
// before the opportunistic sweep reclaims it.
func RateLimitIdleTTL() time.Duration {
	return time.Duration(getFloat("RATE_LIMIT_IDLE_TTL", 900.0) * float64(time.Second))
}

// Port is the HTTP/WebSocket listen port.
func Port() string { return getString("PORT", "8080") }

// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
// requests to finish before the process exits anyway.
func ShutdownTimeout() time.Duration {
	return time.Duration(getFloat("SHUTDOWN_TIMEOUT", 10.0) * float64(time.Second))
}
