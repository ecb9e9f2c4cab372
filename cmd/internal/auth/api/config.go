package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls HTTP-level auth behavior.
type Config struct {
	// AllowRegistration exposes POST /auth/register.
	AllowRegistration bool
	TrustProxy        bool
	MaxBodyBytes      int64

	// Per-client-IP login failure budget, on top of the per-identifier
	// throttle inside the auth service.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// UnavailableRetryAfter is advertised with 503 responses.
	UnavailableRetryAfter time.Duration
}

// LoadConfigFromEnv loads the HTTP auth config with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		AllowRegistration:     envBool("AUTH_REGISTRATION_ENABLED", true),
		TrustProxy:            envBool("AUTH_HTTP_TRUST_PROXY", false),
		MaxBodyBytes:          envInt64("AUTH_HTTP_MAX_BODY_BYTES", 64<<10),
		LoginIPMax:            envInt("AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:         envDuration("AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		UnavailableRetryAfter: envDuration("AUTH_HTTP_UNAVAILABLE_RETRY_AFTER", 5*time.Second),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.LoginIPWindow <= 0 {
		c.LoginIPWindow = 5 * time.Minute
	}
	if c.UnavailableRetryAfter < time.Second {
		c.UnavailableRetryAfter = time.Second
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envInt accepts 0, which disables the limit it configures.
func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
