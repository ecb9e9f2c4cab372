package authapi

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"AUTH_REGISTRATION_ENABLED",
		"AUTH_HTTP_TRUST_PROXY",
		"AUTH_HTTP_MAX_BODY_BYTES",
		"AUTH_LOGIN_IP_MAX",
		"AUTH_LOGIN_IP_WINDOW",
		"AUTH_HTTP_UNAVAILABLE_RETRY_AFTER",
	} {
		t.Setenv(k, "")
	}

	cfg := LoadConfigFromEnv()
	if !cfg.AllowRegistration || cfg.TrustProxy {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
	if cfg.MaxBodyBytes != 64<<10 {
		t.Fatalf("MaxBodyBytes=%d", cfg.MaxBodyBytes)
	}
	if cfg.LoginIPMax != 20 || cfg.LoginIPWindow != 5*time.Minute {
		t.Fatalf("ip throttle defaults: %+v", cfg)
	}
	if cfg.UnavailableRetryAfter != 5*time.Second {
		t.Fatalf("UnavailableRetryAfter=%v", cfg.UnavailableRetryAfter)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("AUTH_REGISTRATION_ENABLED", "false")
	t.Setenv("AUTH_HTTP_TRUST_PROXY", "true")
	t.Setenv("AUTH_HTTP_MAX_BODY_BYTES", "2048")
	t.Setenv("AUTH_LOGIN_IP_MAX", "0")
	t.Setenv("AUTH_LOGIN_IP_WINDOW", "not-a-duration")
	t.Setenv("AUTH_HTTP_UNAVAILABLE_RETRY_AFTER", "10ms")

	cfg := LoadConfigFromEnv()
	if cfg.AllowRegistration || !cfg.TrustProxy {
		t.Fatalf("flag overrides ignored: %+v", cfg)
	}
	if cfg.MaxBodyBytes != 2048 {
		t.Fatalf("MaxBodyBytes=%d", cfg.MaxBodyBytes)
	}
	if cfg.LoginIPMax != 0 {
		t.Fatalf("LoginIPMax=%d, want 0 (disabled)", cfg.LoginIPMax)
	}
	if cfg.LoginIPWindow != 5*time.Minute {
		t.Fatalf("invalid duration should fall back, got %v", cfg.LoginIPWindow)
	}
	if cfg.UnavailableRetryAfter != time.Second {
		t.Fatalf("retry-after should clamp to 1s, got %v", cfg.UnavailableRetryAfter)
	}
}
