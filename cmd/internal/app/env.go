package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue returns the trimmed value of key and whether it is non-empty.
func envValue(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// EnvString reads a string env var with a default.
func EnvString(key, def string) string {
	if v, ok := envValue(key); ok {
		return v
	}
	return def
}

// EnvBool reads a bool env var. Unparseable values fall back to def.
func EnvBool(key string, def bool) bool {
	return envParse(key, def, strconv.ParseBool)
}

// EnvInt reads a non-negative int env var. Zero is allowed and usually
// disables the feature it configures.
func EnvInt(key string, def int) int {
	return envParse(key, def, func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, strconv.ErrRange
		}
		return n, nil
	})
}

// EnvInt32 reads a non-negative int32 env var.
func EnvInt32(key string, def int32) int32 {
	return envParse(key, def, func(s string) (int32, error) {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil || n < 0 {
			return 0, strconv.ErrRange
		}
		return int32(n), nil
	})
}

// EnvDuration reads a duration env var. "0" and "0s" yield zero.
func EnvDuration(key string, def time.Duration) time.Duration {
	return envParse(key, def, func(s string) (time.Duration, error) {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return 0, strconv.ErrRange
		}
		return d, nil
	})
}

func envParse[T any](key string, def T, parse func(string) (T, error)) T {
	v, ok := envValue(key)
	if !ok {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}
