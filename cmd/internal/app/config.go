package app

import (
	"fmt"
	"strings"
	"time"
)

// Session backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config contains the process-level runtime configuration. Component
// settings (tokens, sessions, password policy, throttling) are loaded by
// their own packages.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL    string
	DBSchema       string
	DBMaxConns     int32
	DBMinConns     int32
	MigrateOnStart bool

	RedisURL    string
	RedisPrefix string

	// SessionBackend is derived from the URLs above when unset.
	SessionBackend string

	// ConnectAttempts bounds startup connection retries to Postgres and Redis.
	ConnectAttempts int

	// ReadinessRequireDB makes /readyz fail while running on in-memory stores.
	ReadinessRequireDB bool

	// RequireTokenHMAC refuses to start without AUTH_TOKEN_HMAC_KEY.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("AUTH_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("AUTH_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("AUTH_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("AUTH_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("AUTH_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("AUTH_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("AUTH_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("AUTH_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("AUTH_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:    EnvString("AUTH_DATABASE_URL", ""),
		DBSchema:       EnvString("AUTH_DB_SCHEMA", ""),
		DBMaxConns:     EnvInt32("AUTH_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("AUTH_DB_MIN_CONNS", 0),
		MigrateOnStart: EnvBool("AUTH_MIGRATE_ON_START", false),

		RedisURL:    EnvString("AUTH_REDIS_URL", ""),
		RedisPrefix: EnvString("AUTH_REDIS_PREFIX", "auth:"),

		SessionBackend: strings.ToLower(EnvString("AUTH_SESSION_BACKEND", "")),

		ConnectAttempts: EnvInt("AUTH_CONNECT_ATTEMPTS", 5),

		ReadinessRequireDB: EnvBool("AUTH_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("AUTH_REQUIRE_TOKEN_HMAC", false),
	}
}

// Backend returns the effective session backend: the explicit setting, else
// redis when a Redis URL is set, else postgres when a database URL is set,
// else memory.
func (c Config) Backend() string {
	switch {
	case c.SessionBackend != "":
		return c.SessionBackend
	case c.RedisURL != "":
		return BackendRedis
	case c.DatabaseURL != "":
		return BackendPostgres
	default:
		return BackendMemory
	}
}

// Validate rejects combinations the app cannot run.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "json", "pretty", "text":
	default:
		return fmt.Errorf("AUTH_LOG_FORMAT: want json, pretty or text, got %q", c.LogFormat)
	}

	switch c.Backend() {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("session backend %q requires AUTH_DATABASE_URL", BackendPostgres)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("session backend %q requires AUTH_REDIS_URL", BackendRedis)
		}
	default:
		return fmt.Errorf("AUTH_SESSION_BACKEND: unknown backend %q", c.SessionBackend)
	}

	if c.Backend() != BackendMemory && c.DatabaseURL == "" {
		// Durable sessions need durable users.
		return fmt.Errorf("session backend %q requires AUTH_DATABASE_URL for the user store", c.Backend())
	}
	return nil
}
