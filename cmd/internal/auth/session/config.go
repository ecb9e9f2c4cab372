package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls session lifetimes and housekeeping.
type Config struct {
	// AccessTTL is the lifetime of access tokens (minutes scale).
	AccessTTL time.Duration

	// RefreshTTL is the lifetime of refresh tokens (days scale). Every
	// rotation slides the session expiry to the new refresh token's expiry.
	RefreshTTL time.Duration

	// SweepInterval is how often dead sessions are purged; 0 disables the sweeper.
	SweepInterval time.Duration

	// SweepRetention keeps revoked/expired records this long before purging.
	SweepRetention time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AccessTTL:      30 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
		SweepInterval:  time.Hour,
		SweepRetention: 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - AUTH_ACCESS_TTL_MINUTES (integer, 1..1440)
//   - AUTH_REFRESH_TTL_DAYS (integer, 1..365)
//   - AUTH_SWEEP_INTERVAL (Go duration, 0 disables)
//   - AUTH_SWEEP_RETENTION (Go duration)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("AUTH_ACCESS_TTL_MINUTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 24*60 {
			return Config{}, ErrConfig
		}
		cfg.AccessTTL = time.Duration(n) * time.Minute
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_REFRESH_TTL_DAYS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = time.Duration(n) * 24 * time.Hour
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_SWEEP_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_SWEEP_RETENTION")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepRetention = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces AccessTTL < RefreshTTL.
func (c Config) Validate() error {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.AccessTTL >= c.RefreshTTL {
		return ErrConfig
	}
	if c.SweepInterval < 0 || c.SweepRetention < 0 {
		return ErrConfig
	}
	return nil
}
