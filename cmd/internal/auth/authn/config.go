package authn

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config tunes the login failure throttle.
type Config struct {
	// MaxLoginFailures per identifier within FailureWindow; 0 disables the throttle.
	MaxLoginFailures int
	FailureWindow    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxLoginFailures: 5,
		FailureWindow:    15 * time.Minute,
	}
}

// LoadConfigFromEnv reads AUTH_LOGIN_MAX_FAILURES and AUTH_LOGIN_FAILURE_WINDOW.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("AUTH_LOGIN_MAX_FAILURES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 1000 {
			return Config{}, fmt.Errorf("AUTH_LOGIN_MAX_FAILURES: out of range [0..1000]")
		}
		cfg.MaxLoginFailures = n
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_LOGIN_FAILURE_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("AUTH_LOGIN_FAILURE_WINDOW: invalid duration %q", v)
		}
		cfg.FailureWindow = d
	}

	return cfg, nil
}
